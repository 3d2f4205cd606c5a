package metrics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MetricDefinition is the configuration surface for one metric, typically
// read from a settings file as a map keyed by metric name:
//
//	metrics:
//	  http_requests_total:
//	    type: counter
//	    help: The total number of HTTP requests.
//	    labels: [method, code]
type MetricDefinition struct {
	Type   string   `json:"type" yaml:"type" validate:"required,oneof=counter gauge"`
	Help   string   `json:"help" yaml:"help"`
	Labels []string `json:"labels" yaml:"labels" validate:"dive,labelname"`
}

// Configuration is a validated metric definition.
type Configuration struct {
	metricType MetricType
	help       string
	labels     []string
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("labelname", func(fl validator.FieldLevel) bool {
		return ValidLabelName(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// NewConfiguration validates a metric type, help text and declared label names.
func NewConfiguration(metricType, help string, labels []string) (Configuration, error) {
	def := MetricDefinition{Type: metricType, Help: help, Labels: labels}
	if err := def.Validate(); err != nil {
		return Configuration{}, err
	}
	return Configuration{
		metricType: MetricType(metricType),
		help:       help,
		labels:     append([]string(nil), labels...),
	}, nil
}

// Validate checks the definition. The returned error is a *ConfigurationError.
func (d MetricDefinition) Validate() error {
	err := validate.Struct(d)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	fe := validationErrs[0]
	value := fmt.Sprintf("%v", fe.Value())
	switch {
	case fe.StructField() == "Type":
		return &ConfigurationError{Field: "type", Value: value, Reason: "invalid metric type"}
	case strings.HasPrefix(value, "__"):
		return &ConfigurationError{Field: "label", Value: value, Reason: "only one leading underscore allowed"}
	default:
		return &ConfigurationError{Field: "label", Value: value, Reason: "invalid character in label"}
	}
}

func (c Configuration) Type() MetricType { return c.metricType }
func (c Configuration) Help() string     { return c.help }
func (c Configuration) Labels() []string { return append([]string(nil), c.labels...) }

// ParseDefinitions reads a YAML (or JSON) document mapping metric names to
// definitions. The definitions are not validated; registering them does that.
func ParseDefinitions(data []byte) (map[string]MetricDefinition, error) {
	defs := make(map[string]MetricDefinition)
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return defs, nil
}

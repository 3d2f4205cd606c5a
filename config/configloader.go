package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidationError lists the fields of a configuration that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Fields, ", "))
}

// Validate checks c against its validate struct tags.
func Validate(c any) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return &ValidationError{Fields: fields}
}

// LoadConfigFromFile loads and validates the configuration file at filePath into appConfig.
func LoadConfigFromFile(filePath string, appConfig any) error {
	configSource, err := NewFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to create File config source: %w", err)
	}

	if err := Load(configSource, appConfig); err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if err := Validate(appConfig); err != nil {
		return err
	}
	return nil
}

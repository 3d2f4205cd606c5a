package metrics

import (
	"fmt"
	"math"
	"strings"
)

// MetricType is the type of a collector.
type MetricType string

const (
	CounterType MetricType = "counter"
	GaugeType   MetricType = "gauge"
)

// ParseMetricType converts a configured type name into a MetricType.
func ParseMetricType(s string) (MetricType, error) {
	switch MetricType(s) {
	case CounterType, GaugeType:
		return MetricType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCollectorType, s)
	}
}

// Collector is a typed handle through which application code updates a
// metric. Collectors hold identity and metadata only; all values live in the
// storage the collector was created with.
//
// The interface is closed: *Counter and *Gauge are its only implementations,
// so code handling collectors can switch exhaustively over the two.
type Collector interface {
	Name() string
	Help() string
	LabelNames() []string
	Type() MetricType
	// Identifier joins the storage key prefix, the type and the name. It is
	// the key of the collector's value table in the storage.
	Identifier() string

	collector()
}

type descriptor struct {
	storage    Storage
	name       string
	help       string
	labelNames []string
}

func (d *descriptor) Name() string         { return d.name }
func (d *descriptor) Help() string         { return d.help }
func (d *descriptor) LabelNames() []string { return append([]string(nil), d.labelNames...) }

func identifier(keyPrefix string, t MetricType, name string) string {
	return strings.Join([]string{keyPrefix, string(t), name}, ":")
}

// Storage owns the value state of all collectors registered with it.
// Implementations must apply each update atomically per collector and label
// set, and must be safe for concurrent use.
type Storage interface {
	// RegisterCollector creates the value table for the collector's identifier.
	// Registering an identifier again keeps its values.
	RegisterCollector(c Collector)
	UpdateCounter(c *Counter, u CounterUpdate) error
	UpdateGauge(g *Gauge, u GaugeUpdate) error
	// Collect returns one collection per collector, counters first, each
	// group ordered by identifier, with samples sorted by SortSamples.
	Collect() ([]SampleCollection, error)
	// Flush removes all values and collector registrations.
	Flush() error
	KeyPrefix() string
}

// Operation is a storage-level update operation.
type Operation int

const (
	OperationIncrease Operation = iota + 1
	OperationDecrease
	OperationSet
)

func (o Operation) String() string {
	switch o {
	case OperationIncrease:
		return "increase"
	case OperationDecrease:
		return "decrease"
	case OperationSet:
		return "set"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

// CounterUpdate is an update for a counter. OperationSet resets the counter
// to zero whatever value is given.
type CounterUpdate struct {
	Operation Operation
	Value     float64
	Labels    Labels
}

// NewCounterUpdate validates and creates a counter update.
func NewCounterUpdate(op Operation, value float64, labels Labels) (CounterUpdate, error) {
	if op != OperationIncrease && op != OperationSet {
		return CounterUpdate{}, invalidArgument("counter update: invalid operation type %q", op)
	}
	if math.IsNaN(value) || value < 0 {
		return CounterUpdate{}, invalidArgument("invalid value for counter update, must be a positive number")
	}
	if err := labels.Validate(); err != nil {
		return CounterUpdate{}, err
	}
	return CounterUpdate{Operation: op, Value: value, Labels: labels}, nil
}

// GaugeUpdate is an update for a gauge.
type GaugeUpdate struct {
	Operation Operation
	Value     float64
	Labels    Labels
}

// NewGaugeUpdate validates and creates a gauge update.
func NewGaugeUpdate(op Operation, value float64, labels Labels) (GaugeUpdate, error) {
	switch op {
	case OperationIncrease, OperationDecrease, OperationSet:
	default:
		return GaugeUpdate{}, invalidArgument("gauge update: invalid operation type %q", op)
	}
	if math.IsNaN(value) {
		return GaugeUpdate{}, invalidArgument("invalid value for gauge update, must be a number")
	}
	if err := labels.Validate(); err != nil {
		return GaugeUpdate{}, err
	}
	return GaugeUpdate{Operation: op, Value: value, Labels: labels}, nil
}

package metrics

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/remiges-tech/logharbour/logharbour"
)

// CollectorRegistry is a name-keyed directory of collectors bound to one
// storage. Several registries may share a storage; Collect always returns
// everything the storage holds.
type CollectorRegistry struct {
	storage Storage
	logger  *logharbour.Logger

	mu         sync.RWMutex
	collectors map[string]Collector
}

// NewCollectorRegistry creates an empty registry. A nil logger discards log output.
func NewCollectorRegistry(storage Storage, logger *logharbour.Logger) *CollectorRegistry {
	if logger == nil {
		logger = discardLogger()
	}
	return &CollectorRegistry{
		storage:    storage,
		logger:     logger.WithModule("metrics"),
		collectors: make(map[string]Collector),
	}
}

func discardLogger() *logharbour.Logger {
	return logharbour.NewLogger(logharbour.NewLoggerContext(logharbour.DefaultPriority), "metrics", io.Discard)
}

// Register creates a collector of the given type and registers it with the
// storage. A collector registered earlier under the same name is replaced,
// whatever its type was. When the type changes, the values stored for the old
// type are kept but left out of Collect, so a name is never exported with two
// types.
func (r *CollectorRegistry) Register(name, metricType, help string, labels []string) (Collector, error) {
	if !ValidMetricName(name) {
		return nil, &ConfigurationError{Field: "name", Value: name, Reason: "invalid metric name"}
	}
	config, err := NewConfiguration(metricType, help, labels)
	if err != nil {
		var ce *ConfigurationError
		if errors.As(err, &ce) {
			ce.Name = name
		}
		return nil, fmt.Errorf("failed registering collector: %w", err)
	}

	var c Collector
	switch config.Type() {
	case CounterType:
		c = NewCounter(r.storage, name, config.Help(), config.Labels())
	case GaugeType:
		c = NewGauge(r.storage, name, config.Help(), config.Labels())
	}

	r.mu.Lock()
	r.collectors[name] = c
	r.mu.Unlock()

	r.logger.WithOp("register").Debug0().LogActivity("Registered collector", map[string]any{
		"name":       name,
		"type":       string(config.Type()),
		"identifier": c.Identifier(),
	})
	return c, nil
}

// RegisterMany registers all definitions in name order. It stops at the first
// invalid definition; collectors registered before it stay registered.
func (r *CollectorRegistry) RegisterMany(definitions map[string]MetricDefinition) error {
	names := make([]string, 0, len(definitions))
	for name := range definitions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := definitions[name]
		if _, err := r.Register(name, def.Type, def.Help, def.Labels); err != nil {
			r.logger.WithOp("register").Error(err).LogActivity("Failed registering collector from configuration", map[string]any{
				"name": name,
			})
			return err
		}
	}
	return nil
}

// Unregister removes name from this registry. The storage keeps the values of
// the collector; registering the name again continues from them.
func (r *CollectorRegistry) Unregister(name string) {
	r.mu.Lock()
	delete(r.collectors, name)
	r.mu.Unlock()
}

// HasCollectors reports whether any collector is registered.
func (r *CollectorRegistry) HasCollectors() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.collectors) > 0
}

// Names returns the registered collector names in sorted order.
func (r *CollectorRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Get returns the collector registered under name.
func (r *CollectorRegistry) Get(name string) (Collector, error) {
	r.mu.RLock()
	c, ok := r.collectors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectorNotFound, name)
	}
	return c, nil
}

// GetCounter returns the counter registered under name. It fails with
// ErrCollectorNotFound if there is none and with ErrCollectorTypeMismatch if
// name is registered as a gauge.
func (r *CollectorRegistry) GetCounter(name string) (*Counter, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	counter, ok := c.(*Counter)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s", ErrCollectorTypeMismatch, name, c.Type())
	}
	return counter, nil
}

// GetGauge is the gauge counterpart of GetCounter.
func (r *CollectorRegistry) GetGauge(name string) (*Gauge, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	gauge, ok := c.(*Gauge)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s", ErrCollectorTypeMismatch, name, c.Type())
	}
	return gauge, nil
}

// Record updates a metric by name: counters are increased by value, gauges
// are set to it.
func (r *CollectorRegistry) Record(name string, value float64, labels Labels) error {
	c, err := r.Get(name)
	if err != nil {
		return err
	}
	switch c := c.(type) {
	case *Counter:
		return c.Inc(value, labels)
	case *Gauge:
		return c.Set(value, labels)
	default:
		panic(fmt.Sprintf("metrics: unexpected collector type %T", c))
	}
}

// Collect returns the current samples of every collector in the storage.
// Collections of a name registered here under the other type are dropped.
func (r *CollectorRegistry) Collect() ([]SampleCollection, error) {
	collections, err := r.storage.Collect()
	if err != nil {
		r.logger.WithOp("collect").Error(err).LogActivity("Failed collecting samples from storage", nil)
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	filtered := make([]SampleCollection, 0, len(collections))
	for _, c := range collections {
		if current, ok := r.collectors[c.name]; ok && current.Type() != c.metricType {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered, nil
}

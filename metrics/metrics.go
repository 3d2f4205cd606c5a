// Package metrics provides counters and gauges backed by a pluggable storage,
// and renders their current state in the Prometheus text exposition format.
//
// Application code registers collectors at a CollectorRegistry, either one by
// one or from configuration, and updates them through typed handles. The
// handles do not hold values; every update is applied synchronously by the
// Storage the registry was created with. Storages are provided by the
// memstore (process memory), redisstore (Redis, shared between processes) and
// pgstore (PostgreSQL) packages.
//
// Key functionalities include:
//   - Register / RegisterMany: define collectors, validated against the
//     Prometheus naming rules.
//   - Counter.Inc, Gauge.Inc/Dec/Set/SetToCurrentTime: update values for a
//     label set.
//   - Collect: read all samples from the storage, deterministically ordered.
//   - Render: serialize collected samples for a scrape.
//
// Usage Example:
//
//	registry := metrics.NewCollectorRegistry(memstore.New(), logger)
//	registry.Register("http_responses_total", "counter", "HTTP responses by code", []string{"code"})
//	counter, _ := registry.GetCounter("http_responses_total")
//	counter.Inc(1, metrics.Labels{"code": "200"})
//
//	collections, _ := registry.Collect()
//	fmt.Println(metrics.Render(collections))
package metrics

// Metrics is the name-based interface to a set of collectors. It is
// implemented by *CollectorRegistry.
type Metrics interface {
	Register(name, metricType, help string, labels []string) (Collector, error)
	RegisterMany(definitions map[string]MetricDefinition) error
	Record(name string, value float64, labels Labels) error
	Collect() ([]SampleCollection, error)
}

// Gatherer is the read side of a registry as used by exporters.
type Gatherer interface {
	HasCollectors() bool
	Collect() ([]SampleCollection, error)
}

var (
	_ Metrics  = (*CollectorRegistry)(nil)
	_ Gatherer = (*CollectorRegistry)(nil)
)

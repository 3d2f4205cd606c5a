package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exposes the samples of a Gatherer as a
// prometheus.Collector, so a registry can be served through promhttp next to
// collectors of the official client library.
//
// It is an unchecked collector: Describe sends no descriptors because the set
// of metrics is only known once the storage has been read.
type PrometheusCollector struct {
	gatherer Gatherer
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates a collector reading from g on every scrape.
func NewPrometheusCollector(g Gatherer) *PrometheusCollector {
	return &PrometheusCollector{gatherer: g}
}

func (p *PrometheusCollector) Describe(chan<- *prometheus.Desc) {}

// Collect reads all sample collections and sends one constant metric per
// sample. Storage errors are reported as an invalid metric.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	collections, err := p.gatherer.Collect()
	if err != nil {
		desc := prometheus.NewDesc("promexporter_collect_error", "Error collecting samples from storage.", nil, nil)
		ch <- prometheus.NewInvalidMetric(desc, err)
		return
	}

	for _, c := range collections {
		valueType := prometheus.GaugeValue
		if c.metricType == CounterType {
			valueType = prometheus.CounterValue
		}
		for _, s := range c.samples {
			names := make([]string, len(s.labels))
			values := make([]string, len(s.labels))
			for i, l := range s.labels {
				names[i] = l.Name
				values[i] = l.Value
			}
			desc := prometheus.NewDesc(c.name, c.help, names, nil)
			m, err := prometheus.NewConstMetric(desc, valueType, s.value, values...)
			if err != nil {
				m = prometheus.NewInvalidMetric(desc, err)
			}
			ch <- m
		}
	}
}

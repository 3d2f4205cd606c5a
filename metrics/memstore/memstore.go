// Package memstore provides a metrics storage which keeps all values in
// process memory. Values are lost when the process ends.
package memstore

import (
	"sort"
	"sync"

	"github.com/remiges-tech/promexporter/metrics"
)

type valueTable struct {
	collector metrics.Collector
	values    map[string]float64
}

// Storage is an in-memory metrics.Storage. A single lock guards all value
// tables, so every read-modify-write of a value is atomic.
type Storage struct {
	mu       sync.RWMutex
	counters map[string]*valueTable
	gauges   map[string]*valueTable
}

var _ metrics.Storage = (*Storage)(nil)

func New() *Storage {
	return &Storage{
		counters: make(map[string]*valueTable),
		gauges:   make(map[string]*valueTable),
	}
}

// KeyPrefix is always empty, the storage is not shared.
func (s *Storage) KeyPrefix() string { return "" }

func (s *Storage) RegisterCollector(c metrics.Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tables map[string]*valueTable
	switch c.(type) {
	case *metrics.Counter:
		tables = s.counters
	case *metrics.Gauge:
		tables = s.gauges
	default:
		return
	}

	if t, ok := tables[c.Identifier()]; ok {
		t.collector = c
		return
	}
	tables[c.Identifier()] = &valueTable{collector: c, values: make(map[string]float64)}
}

func (s *Storage) UpdateCounter(c *metrics.Counter, u metrics.CounterUpdate) error {
	key := metrics.EncodeLabels(u.Labels)

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.counters[c.Identifier()]
	if !ok {
		return &metrics.UnknownCollectorError{Type: metrics.CounterType, Name: c.Name(), Identifier: c.Identifier()}
	}
	if u.Operation == metrics.OperationIncrease {
		t.values[key] += u.Value
	} else {
		t.values[key] = 0
	}
	return nil
}

func (s *Storage) UpdateGauge(g *metrics.Gauge, u metrics.GaugeUpdate) error {
	key := metrics.EncodeLabels(u.Labels)

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.gauges[g.Identifier()]
	if !ok {
		return &metrics.UnknownCollectorError{Type: metrics.GaugeType, Name: g.Name(), Identifier: g.Identifier()}
	}
	switch u.Operation {
	case metrics.OperationIncrease:
		t.values[key] += u.Value
	case metrics.OperationDecrease:
		t.values[key] -= u.Value
	case metrics.OperationSet:
		t.values[key] = u.Value
	}
	return nil
}

// Collect returns a collection for every registered collector, including
// collectors which have no samples yet.
func (s *Storage) Collect() ([]metrics.SampleCollection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	collections := make([]metrics.SampleCollection, 0, len(s.counters)+len(s.gauges))
	for _, tables := range []map[string]*valueTable{s.counters, s.gauges} {
		for _, id := range sortedKeys(tables) {
			c, err := collect(tables[id])
			if err != nil {
				return nil, err
			}
			collections = append(collections, c)
		}
	}
	return collections, nil
}

func collect(t *valueTable) (metrics.SampleCollection, error) {
	samples := make([]metrics.Sample, 0, len(t.values))
	for key, value := range t.values {
		labels, err := metrics.DecodeLabels(key)
		if err != nil {
			return metrics.SampleCollection{}, err
		}
		samples = append(samples, metrics.NewSample(t.collector.Name(), labels, value))
	}
	metrics.SortSamples(samples)
	return metrics.NewSampleCollection(t.collector.Name(), t.collector.Type(), t.collector.Help(), t.collector.LabelNames(), samples), nil
}

func (s *Storage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]*valueTable)
	s.gauges = make(map[string]*valueTable)
	return nil
}

func sortedKeys(m map[string]*valueTable) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package metrics

import "time"

// Gauge is a metric whose value can go up and down.
type Gauge struct {
	descriptor
	now func() time.Time
}

var _ Collector = (*Gauge)(nil)

// NewGauge creates a gauge and registers it with storage.
func NewGauge(storage Storage, name, help string, labelNames []string) *Gauge {
	g := &Gauge{
		descriptor: descriptor{
			storage:    storage,
			name:       name,
			help:       help,
			labelNames: append([]string(nil), labelNames...),
		},
		now: time.Now,
	}
	storage.RegisterCollector(g)
	return g
}

func (g *Gauge) Type() MetricType   { return GaugeType }
func (g *Gauge) Identifier() string { return identifier(g.storage.KeyPrefix(), GaugeType, g.name) }
func (g *Gauge) collector()         {}

func (g *Gauge) Inc(amount float64, labels Labels) error {
	return g.update(OperationIncrease, amount, labels)
}

func (g *Gauge) Dec(amount float64, labels Labels) error {
	return g.update(OperationDecrease, amount, labels)
}

func (g *Gauge) Set(value float64, labels Labels) error {
	return g.update(OperationSet, value, labels)
}

// SetToCurrentTime sets the gauge to the current Unix time in whole seconds.
func (g *Gauge) SetToCurrentTime(labels Labels) error {
	return g.update(OperationSet, float64(g.now().Unix()), labels)
}

func (g *Gauge) update(op Operation, value float64, labels Labels) error {
	update, err := NewGaugeUpdate(op, value, labels)
	if err != nil {
		return err
	}
	return g.storage.UpdateGauge(g, update)
}

package metrics

// Counter is a monotonically increasing metric.
type Counter struct {
	descriptor
}

var _ Collector = (*Counter)(nil)

// NewCounter creates a counter and registers it with storage.
func NewCounter(storage Storage, name, help string, labelNames []string) *Counter {
	c := &Counter{descriptor{
		storage:    storage,
		name:       name,
		help:       help,
		labelNames: append([]string(nil), labelNames...),
	}}
	storage.RegisterCollector(c)
	return c
}

func (c *Counter) Type() MetricType   { return CounterType }
func (c *Counter) Identifier() string { return identifier(c.storage.KeyPrefix(), CounterType, c.name) }
func (c *Counter) collector()         {}

// Inc increases the counter for the given label set by amount, which must
// not be negative.
func (c *Counter) Inc(amount float64, labels Labels) error {
	update, err := NewCounterUpdate(OperationIncrease, amount, labels)
	if err != nil {
		return err
	}
	return c.storage.UpdateCounter(c, update)
}

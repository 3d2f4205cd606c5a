package metrics

// Label is one name/value dimension of a sample.
type Label struct {
	Name  string
	Value string
}

// Sample is a point-in-time readout of one labeled time series. Samples are
// produced by a storage when collecting and are never modified afterwards.
type Sample struct {
	name   string
	labels []Label
	value  float64
}

// NewSample creates a sample. The labels are copied and kept in the given order.
func NewSample(name string, labels []Label, value float64) Sample {
	return Sample{
		name:   name,
		labels: append([]Label(nil), labels...),
		value:  value,
	}
}

func (s Sample) Name() string { return s.name }

// Labels returns a copy of the sample's labels in stored order.
func (s Sample) Labels() []Label { return append([]Label(nil), s.labels...) }

// LabelMap returns the sample's labels as an unordered label set.
func (s Sample) LabelMap() Labels {
	m := make(Labels, len(s.labels))
	for _, l := range s.labels {
		m[l.Name] = l.Value
	}
	return m
}

func (s Sample) Value() float64 { return s.value }

// SampleCollection holds all current samples of one collector together with
// its metadata.
type SampleCollection struct {
	name       string
	metricType MetricType
	help       string
	labelNames []string
	samples    []Sample
}

func NewSampleCollection(name string, metricType MetricType, help string, labelNames []string, samples []Sample) SampleCollection {
	return SampleCollection{
		name:       name,
		metricType: metricType,
		help:       help,
		labelNames: append([]string(nil), labelNames...),
		samples:    append([]Sample(nil), samples...),
	}
}

func (c SampleCollection) Name() string         { return c.name }
func (c SampleCollection) Type() MetricType     { return c.metricType }
func (c SampleCollection) Help() string         { return c.help }
func (c SampleCollection) LabelNames() []string { return append([]string(nil), c.labelNames...) }
func (c SampleCollection) Samples() []Sample    { return append([]Sample(nil), c.samples...) }
func (c SampleCollection) Len() int             { return len(c.samples) }

package metrics

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	// FormatVersion is the version of the text exposition format produced by Render.
	FormatVersion = "0.0.4"

	// ContentType is the media type of rendered output.
	ContentType = "text/plain; version=" + FormatVersion + "; charset=UTF-8"
)

var labelValueEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)

// Renderer renders sample collections. The zero value is ready to use.
type Renderer struct{}

// FormatVersion returns the text format version produced by the renderer.
// See https://prometheus.io/docs/instrumenting/exposition_formats/
func (Renderer) FormatVersion() string { return FormatVersion }

func (Renderer) Render(collections []SampleCollection) string { return Render(collections) }

// Render serializes collections in the Prometheus text exposition format.
// Collections are ordered by name and collections without samples are left
// out entirely. Labels are written in the order stored in each sample.
// A metric family is written once: of several collections with the same name
// only the first one with samples is rendered.
func Render(collections []SampleCollection) string {
	sorted := append([]SampleCollection(nil), collections...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })

	var lines []string
	rendered := make(map[string]bool, len(sorted))
	for _, c := range sorted {
		if len(c.samples) == 0 || rendered[c.name] {
			continue
		}
		rendered[c.name] = true
		if c.help != "" {
			lines = append(lines, "# HELP "+c.name+" "+c.help)
		}
		lines = append(lines, "# TYPE "+c.name+" "+string(c.metricType))
		for _, s := range c.samples {
			lines = append(lines, renderSample(s))
		}
		lines = append(lines, "")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func renderSample(s Sample) string {
	var b strings.Builder
	b.WriteString(s.name)
	if len(s.labels) > 0 {
		b.WriteByte('{')
		for i, l := range s.labels {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(l.Name)
			b.WriteString(`="`)
			b.WriteString(labelValueEscaper.Replace(l.Value))
			b.WriteByte('"')
		}
		b.WriteByte('}')
	}
	b.WriteByte(' ')
	b.WriteString(FormatValue(s.value))
	return b.String()
}

// FormatValue formats a sample value. Whole numbers are written without a
// decimal point.
func FormatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

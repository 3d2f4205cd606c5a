package metrics

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	regexLabelName  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	regexMetricName = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
)

// Labels is an unordered label set as passed to collector updates.
type Labels map[string]string

// ValidLabelName reports whether name is usable as a label name. Names with
// two leading underscores are reserved.
func ValidLabelName(name string) bool {
	return regexLabelName.MatchString(name) && !strings.HasPrefix(name, "__")
}

// ValidMetricName reports whether name is a valid Prometheus metric name.
func ValidMetricName(name string) bool {
	return regexMetricName.MatchString(name)
}

// Validate checks all label names of the set. Label values must be valid UTF-8.
func (l Labels) Validate() error {
	for name, value := range l {
		if !ValidLabelName(name) {
			return invalidArgument("invalid label name %q", name)
		}
		if !utf8.ValidString(value) {
			return invalidArgument("label %q has a value which is not valid UTF-8", name)
		}
	}
	return nil
}

// LabelsFrom converts a label map with scalar values (strings, booleans,
// integers and floats) into a label set.
func LabelsFrom(m map[string]any) (Labels, error) {
	labels := make(Labels, len(m))
	for name, v := range m {
		s, err := labelValueString(v)
		if err != nil {
			return nil, invalidArgument("label %q: %v", name, err)
		}
		labels[name] = s
	}
	return labels, nil
}

func labelValueString(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.FormatInt(int64(t), 10), nil
	case int8:
		return strconv.FormatInt(int64(t), 10), nil
	case int16:
		return strconv.FormatInt(int64(t), 10), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Number:
		return t.String(), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// EncodeLabels returns the canonical key of a label set: a JSON object with
// sorted keys, base64 encoded so it is safe as a map key or hash field.
// HTML characters are not escaped.
func EncodeLabels(labels Labels) string {
	if labels == nil {
		labels = Labels{}
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	// encoding/json writes map keys in sorted order
	if err := encoder.Encode(map[string]string(labels)); err != nil {
		// a map[string]string always marshals
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

// DecodeLabels is the inverse of EncodeLabels. The labels are returned sorted
// by name. Scalar JSON values other than strings are accepted and converted,
// and an empty JSON list counts as the empty label set.
func DecodeLabels(encoded string) ([]Label, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, invalidArgument("decoding labels %q: %v", encoded, err)
	}
	if string(bytes.TrimSpace(raw)) == "[]" {
		return []Label{}, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var values map[string]any
	if err := decoder.Decode(&values); err != nil {
		return nil, invalidArgument("decoding labels %q: %v", encoded, err)
	}

	labels := make([]Label, 0, len(values))
	for name, v := range values {
		s, err := labelValueString(v)
		if err != nil {
			return nil, invalidArgument("decoding label %q: %v", name, err)
		}
		labels = append(labels, Label{Name: name, Value: s})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	return labels, nil
}

// SortSamples orders samples by their sorted label names and then by their
// sorted label values, which makes the result independent of the order in
// which updates were applied.
func SortSamples(samples []Sample) {
	type keyed struct {
		sample        Sample
		names, values string
	}
	entries := make([]keyed, len(samples))
	for i, s := range samples {
		names := make([]string, len(s.labels))
		values := make([]string, len(s.labels))
		for j, l := range s.labels {
			names[j] = l.Name
			values[j] = l.Value
		}
		sort.Strings(names)
		sort.Strings(values)
		entries[i] = keyed{sample: s, names: strings.Join(names, ""), values: strings.Join(values, "")}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.names != b.names {
			return a.names < b.names
		}
		if a.values != b.values {
			return a.values < b.values
		}
		return lessLabels(a.sample.labels, b.sample.labels)
	})

	for i := range entries {
		samples[i] = entries[i].sample
	}
}

func lessLabels(a, b []Label) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].Name != b[i].Name {
			return a[i].Name < b[i].Name
		}
		if a[i].Value != b[i].Value {
			return a[i].Value < b[i].Value
		}
	}
	return len(a) < len(b)
}

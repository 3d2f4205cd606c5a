package redisstore

import "github.com/remiges-tech/promexporter/metrics"

// nameField is the hash field holding the metric name next to the encoded
// label sets. Encoded label sets are base64 and never collide with it.
const nameField = "__name"

// collectorSetKey returns the key of the SET listing the hash keys of all
// collectors of type t written under prefix.
//
// Example: "flownative_prometheuscounter_KEYS"
func collectorSetKey(prefix string, t metrics.MetricType) string {
	return prefix + string(t) + "_KEYS"
}

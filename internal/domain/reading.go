package domain

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// RawReading is the untyped payload reported for one node in one poll.
type RawReading map[string]any

// Raw field names as emitted by the node firmware. Where more than one name
// is listed the first present, usable one wins.
var metricFields = [NumMetrics][]string{
	MetricTemperature: {"temperature_c", "temperature"},
	MetricHumidity:    {"humidity"},
	MetricPressure:    {"pressure_hpa", "pressure"},
	MetricPM1:         {"pm1"},
	MetricPM25:        {"pm25"},
	MetricPM10:        {"pm10"},
	MetricAccel:       {"accel"},
}

var accelAxes = [3]string{"accel_x_ms2", "accel_y_ms2", "accel_z_ms2"}

const timestampField = "timestamp"

// NormalizedNode is the canonical per-node record for one poll cycle.
// It is a value type; copies never alias.
type NormalizedNode struct {
	Metrics   [NumMetrics]Value
	Timestamp time.Time
}

// Value returns the optional value for metric m.
func (n NormalizedNode) Value(m MetricKind) Value {
	if !m.Valid() {
		return Value{}
	}
	return n.Metrics[m]
}

// Get returns the value for metric m and whether it is present.
func (n NormalizedNode) Get(m MetricKind) (float64, bool) {
	v := n.Value(m)
	return v.V, v.Valid
}

// Missing returns the metrics with no usable value.
func (n NormalizedNode) Missing() []MetricKind {
	var out []MetricKind
	for i, v := range n.Metrics {
		if !v.Valid {
			out = append(out, MetricKind(i))
		}
	}
	return out
}

// MarshalJSON renders the node as a flat object keyed by metric name with a
// "timestamp" field in epoch seconds. Missing metrics are null.
func (n NormalizedNode) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, NumMetrics+1)
	for i, v := range n.Metrics {
		out[metricNames[i]] = v
	}
	out[timestampField] = float64(n.Timestamp.UnixNano()) / 1e9
	return json.Marshal(out)
}

// Normalize maps a raw payload onto the canonical metric set. Unusable fields
// become missing values; now is used only when the payload has no usable
// timestamp. Normalize has no side effects and never panics.
func Normalize(raw RawReading, now time.Time) NormalizedNode {
	var node NormalizedNode

	for i, names := range metricFields {
		for _, name := range names {
			if v, ok := numberField(raw, name); ok {
				node.Metrics[i] = Some(v)
				break
			}
		}
	}

	if accel, ok := accelMagnitude(raw); ok {
		node.Metrics[MetricAccel] = Some(accel)
	}

	node.Timestamp = now
	if ts, ok := numberField(raw, timestampField); ok {
		node.Timestamp = epochSeconds(ts)
	}

	return node
}

// InvalidFields returns the known fields that are present and non-null but
// could not be read as a finite number, sorted by name.
func InvalidFields(raw RawReading) []string {
	var out []string
	check := func(name string) {
		v, present := raw[name]
		if !present || v == nil {
			return
		}
		if _, ok := toFloat(v); !ok {
			out = append(out, name)
		}
	}
	for _, names := range metricFields {
		for _, name := range names {
			check(name)
		}
	}
	for _, name := range accelAxes {
		check(name)
	}
	check(timestampField)
	sort.Strings(out)
	return out
}

// accelMagnitude derives |a| from the three axes. All three must be usable.
func accelMagnitude(raw RawReading) (float64, bool) {
	var sum float64
	for _, name := range accelAxes {
		v, ok := numberField(raw, name)
		if !ok {
			return 0, false
		}
		sum += v * v
	}
	m := math.Sqrt(sum)
	if math.IsInf(m, 0) {
		return 0, false
	}
	return m, true
}

func numberField(raw RawReading, name string) (float64, bool) {
	v, present := raw[name]
	if !present || v == nil {
		return 0, false
	}
	return toFloat(v)
}

// toFloat accepts the numeric shapes produced by encoding/json (float64 or
// json.Number) plus native Go numbers for callers building payloads by hand.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func epochSeconds(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

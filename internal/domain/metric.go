package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// NodeID identifies a sensor node. It is opaque and stable across polls.
type NodeID string

// MetricKind enumerates the measurements tracked per node.
type MetricKind int

const (
	MetricTemperature MetricKind = iota
	MetricHumidity
	MetricPressure
	MetricPM1
	MetricPM25
	MetricPM10
	MetricAccel

	// NumMetrics is the number of MetricKind values.
	NumMetrics = int(MetricAccel) + 1
)

var metricNames = [NumMetrics]string{
	MetricTemperature: "temperature",
	MetricHumidity:    "humidity",
	MetricPressure:    "pressure",
	MetricPM1:         "pm1",
	MetricPM25:        "pm25",
	MetricPM10:        "pm10",
	MetricAccel:       "accel",
}

// AllMetrics lists every MetricKind in display order.
func AllMetrics() []MetricKind {
	out := make([]MetricKind, NumMetrics)
	for i := range out {
		out[i] = MetricKind(i)
	}
	return out
}

// String returns the canonical lowercase metric name.
func (m MetricKind) String() string {
	if !m.Valid() {
		return "metric(" + strconv.Itoa(int(m)) + ")"
	}
	return metricNames[m]
}

// Valid reports whether m is one of the defined metric kinds.
func (m MetricKind) Valid() bool {
	return m >= 0 && int(m) < NumMetrics
}

// ParseMetricKind resolves a canonical metric name.
func ParseMetricKind(s string) (MetricKind, error) {
	for i, name := range metricNames {
		if name == s {
			return MetricKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown metric %q", s)
}

func (m MetricKind) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid metric kind %d", int(m))
	}
	return []byte(metricNames[m]), nil
}

func (m *MetricKind) UnmarshalText(b []byte) error {
	k, err := ParseMetricKind(string(b))
	if err != nil {
		return err
	}
	*m = k
	return nil
}

// Value is an optional measurement. The zero Value is missing.
type Value struct {
	V     float64
	Valid bool
}

// Some returns a present Value.
func Some(v float64) Value { return Value{V: v, Valid: true} }

// MarshalJSON encodes a missing Value as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.V)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Some(f)
	return nil
}

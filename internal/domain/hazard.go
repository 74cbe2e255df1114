package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// HazardType identifies an independent hazard model.
type HazardType string

const (
	HazardWildfire   HazardType = "wildfire"
	HazardEarthquake HazardType = "earthquake"
)

// HazardTypes lists every hazard model in evaluation order.
func HazardTypes() []HazardType {
	return []HazardType{HazardWildfire, HazardEarthquake}
}

// WildfireSeverity is the label attached to every wildfire signal; the model
// has a single level.
const WildfireSeverity = "warning"

// WildfireThresholds configures the wildfire precursor predicate.
type WildfireThresholds struct {
	TemperatureMin float64
	PM25Max        float64
	PM10Max        float64

	// RequireHumidity enables the "humidity < HumidityMax" clause.
	RequireHumidity bool
	HumidityMax     float64
}

// SeverityThreshold is one step of the earthquake severity ladder.
type SeverityThreshold struct {
	Label    string
	AccelMin float64
}

// EarthquakeThresholds is ordered from least to most severe.
type EarthquakeThresholds []SeverityThreshold

// Thresholds is the static hazard configuration for the process lifetime.
type Thresholds struct {
	Wildfire   WildfireThresholds
	Earthquake EarthquakeThresholds
}

// DefaultEarthquakeThresholds returns the stock severity ladder in m/s².
func DefaultEarthquakeThresholds() EarthquakeThresholds {
	return EarthquakeThresholds{
		{Label: "light", AccelMin: 0.05},
		{Label: "moderate", AccelMin: 0.1},
		{Label: "strong", AccelMin: 0.5},
		{Label: "severe", AccelMin: 2.0},
		{Label: "violent", AccelMin: 10.0},
	}
}

// DefaultThresholds returns the stock wildfire and earthquake configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Wildfire: WildfireThresholds{
			TemperatureMin:  32,
			PM25Max:         150,
			PM10Max:         150,
			RequireHumidity: true,
			HumidityMax:     30,
		},
		Earthquake: DefaultEarthquakeThresholds(),
	}
}

// ParseEarthquakeThresholds parses "label:accel,label:accel,...".
// The result is validated with Validate.
func ParseEarthquakeThresholds(s string) (EarthquakeThresholds, error) {
	var out EarthquakeThresholds
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label, value, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("threshold %q: expected label:value", part)
		}
		accel, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("threshold %q: %w", part, err)
		}
		out = append(out, SeverityThreshold{Label: strings.TrimSpace(label), AccelMin: accel})
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks that the ladder is non-empty, labelled, finite and
// strictly increasing.
func (t EarthquakeThresholds) Validate() error {
	if len(t) == 0 {
		return errors.New("earthquake thresholds: at least one level is required")
	}
	seen := make(map[string]bool, len(t))
	for i, th := range t {
		if th.Label == "" {
			return fmt.Errorf("earthquake thresholds: level %d has no label", i)
		}
		if seen[th.Label] {
			return fmt.Errorf("earthquake thresholds: duplicate label %q", th.Label)
		}
		seen[th.Label] = true
		if math.IsNaN(th.AccelMin) || math.IsInf(th.AccelMin, 0) || th.AccelMin < 0 {
			return fmt.Errorf("earthquake thresholds: %q has invalid value %v", th.Label, th.AccelMin)
		}
		if i > 0 && th.AccelMin <= t[i-1].AccelMin {
			return fmt.Errorf("earthquake thresholds: %q (%v) must be greater than %q (%v)",
				th.Label, th.AccelMin, t[i-1].Label, t[i-1].AccelMin)
		}
	}
	return nil
}

// String renders the ladder in the same form ParseEarthquakeThresholds accepts.
func (t EarthquakeThresholds) String() string {
	parts := make([]string, len(t))
	for i, th := range t {
		parts[i] = th.Label + ":" + strconv.FormatFloat(th.AccelMin, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// Validate checks the wildfire thresholds are finite numbers.
func (w WildfireThresholds) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"temperature_min", w.TemperatureMin},
		{"pm25_max", w.PM25Max},
		{"pm10_max", w.PM10Max},
		{"humidity_max", w.HumidityMax},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("wildfire thresholds: %s is not a finite number", f.name)
		}
	}
	if w.RequireHumidity && (w.HumidityMax <= 0 || w.HumidityMax > 100) {
		return fmt.Errorf("wildfire thresholds: humidity_max %v outside (0, 100]", w.HumidityMax)
	}
	return nil
}

// Validate checks both hazard configurations.
func (t Thresholds) Validate() error {
	if err := t.Wildfire.Validate(); err != nil {
		return err
	}
	return t.Earthquake.Validate()
}

// HazardSignal is one node's positive judgment for one hazard in one cycle.
type HazardSignal struct {
	NodeID   NodeID
	Hazard   HazardType
	Severity string
	Values   map[MetricKind]float64 // readings that drove the decision
}

// Wildfire reports whether the wildfire precursor condition holds for node.
// It is false whenever a required reading is missing.
func Wildfire(node NormalizedNode, th WildfireThresholds) bool {
	temp, ok := node.Get(MetricTemperature)
	if !ok || temp <= th.TemperatureMin {
		return false
	}

	pm25, ok25 := node.Get(MetricPM25)
	pm10, ok10 := node.Get(MetricPM10)
	particulate := (ok25 && pm25 > th.PM25Max) || (ok10 && pm10 > th.PM10Max)
	if !particulate {
		return false
	}

	if th.RequireHumidity {
		hum, ok := node.Get(MetricHumidity)
		if !ok || hum >= th.HumidityMax {
			return false
		}
	}
	return true
}

// EarthquakeSeverity returns the highest ladder step that accel strictly
// exceeds, walking from most to least severe.
func EarthquakeSeverity(accel float64, th EarthquakeThresholds) (string, bool) {
	for i := len(th) - 1; i >= 0; i-- {
		if accel > th[i].AccelMin {
			return th[i].Label, true
		}
	}
	return "", false
}

// Earthquake reports the shaking severity for node, if any.
func Earthquake(node NormalizedNode, th EarthquakeThresholds) (string, bool) {
	accel, ok := node.Get(MetricAccel)
	if !ok {
		return "", false
	}
	return EarthquakeSeverity(accel, th)
}

// Evaluate returns at most one signal per hazard type for a node.
func Evaluate(id NodeID, node NormalizedNode, th Thresholds) []HazardSignal {
	var signals []HazardSignal

	if Wildfire(node, th.Wildfire) {
		signals = append(signals, HazardSignal{
			NodeID:   id,
			Hazard:   HazardWildfire,
			Severity: WildfireSeverity,
			Values:   presentValues(node, MetricTemperature, MetricHumidity, MetricPM25, MetricPM10),
		})
	}

	if severity, ok := Earthquake(node, th.Earthquake); ok {
		signals = append(signals, HazardSignal{
			NodeID:   id,
			Hazard:   HazardEarthquake,
			Severity: severity,
			Values:   presentValues(node, MetricAccel),
		})
	}

	return signals
}

func presentValues(node NormalizedNode, metrics ...MetricKind) map[MetricKind]float64 {
	out := make(map[MetricKind]float64, len(metrics))
	for _, m := range metrics {
		if v, ok := node.Get(m); ok {
			out[m] = v
		}
	}
	return out
}

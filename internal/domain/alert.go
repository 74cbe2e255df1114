package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertEvent is one throttle-approved alert emission.
type AlertEvent struct {
	ID        string                 `json:"id"`
	Hazard    HazardType             `json:"hazard"`
	NodeID    NodeID                 `json:"node_id"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Values    map[MetricKind]float64 `json:"values,omitempty"`
}

// NewAlertEvent builds the alert for an approved signal emitted at the given time.
func NewAlertEvent(sig HazardSignal, at time.Time) AlertEvent {
	values := make(map[MetricKind]float64, len(sig.Values))
	for k, v := range sig.Values {
		values[k] = v
	}
	return AlertEvent{
		ID:        uuid.NewString(),
		Hazard:    sig.Hazard,
		NodeID:    sig.NodeID,
		Severity:  sig.Severity,
		Message:   AlertMessage(sig),
		Timestamp: at.UTC(),
		Values:    values,
	}
}

// AlertMessage renders the human-readable alert text for a signal.
func AlertMessage(sig HazardSignal) string {
	switch sig.Hazard {
	case HazardWildfire:
		return fmt.Sprintf("Early signs of wildfire at %s", sig.NodeID)
	case HazardEarthquake:
		return fmt.Sprintf("Earthquake shaking at %s (%s)", sig.NodeID, sig.Severity)
	default:
		return fmt.Sprintf("%s hazard at %s", sig.Hazard, sig.NodeID)
	}
}

// Package alert delivers throttle-approved alert events to their consumers.
package alert

import (
	"context"
	"log/slog"
	"sync"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/observability"
)

// Sink receives alert events.
type Sink interface {
	Publish(ctx context.Context, event domain.AlertEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event domain.AlertEvent) error

func (f SinkFunc) Publish(ctx context.Context, event domain.AlertEvent) error {
	return f(ctx, event)
}

type namedSink struct {
	name string
	sink Sink
}

// Fanout publishes every event to each registered sink in registration order.
// A failing sink is logged and counted but never blocks the others, and its
// error is not returned to the caller.
type Fanout struct {
	mu      sync.RWMutex
	sinks   []namedSink
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewFanout creates an empty Fanout.
func NewFanout(logger *slog.Logger, metrics *observability.Metrics) *Fanout {
	return &Fanout{logger: logger, metrics: metrics}
}

// Add registers a sink under name, used in logs and the sink_errors metric.
func (f *Fanout) Add(name string, sink Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, namedSink{name: name, sink: sink})
}

// Names lists registered sinks.
func (f *Fanout) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.name
	}
	return names
}

// Publish implements Sink.
func (f *Fanout) Publish(ctx context.Context, event domain.AlertEvent) error {
	f.mu.RLock()
	sinks := make([]namedSink, len(f.sinks))
	copy(sinks, f.sinks)
	f.mu.RUnlock()

	for _, s := range sinks {
		if err := s.sink.Publish(ctx, event); err != nil {
			f.logger.Error("alert sink failed",
				"sink", s.name,
				"alert_id", event.ID,
				"hazard", event.Hazard,
				"error", err,
			)
			f.metrics.SinkErrors.WithLabelValues(s.name).Inc()
		}
	}
	return nil
}

// LogSink writes each alert as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, event domain.AlertEvent) error {
	s.logger.Warn(event.Message,
		"alert_id", event.ID,
		"hazard", event.Hazard,
		"node_id", event.NodeID,
		"severity", event.Severity,
		"timestamp", event.Timestamp,
	)
	return nil
}

package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/observability"
)

// ErrAsyncStopped is returned by Async.Publish once Run has returned.
var ErrAsyncStopped = errors.New("async sink stopped")

const (
	// DefaultAsyncBuffer is the delivery queue length used when none is given.
	DefaultAsyncBuffer = 64
	drainTimeout       = 5 * time.Second
)

// Async hands events to a slow sink through a bounded queue so the caller
// never waits on the network. When the queue is full the event is dropped
// and counted under alerts_dropped_total.
type Async struct {
	name    string
	inner   Sink
	queue   chan domain.AlertEvent
	done    chan struct{}
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewAsync wraps inner. A non-positive buffer falls back to DefaultAsyncBuffer.
func NewAsync(name string, inner Sink, buffer int, logger *slog.Logger, metrics *observability.Metrics) *Async {
	if buffer <= 0 {
		buffer = DefaultAsyncBuffer
	}
	return &Async{
		name:    name,
		inner:   inner,
		queue:   make(chan domain.AlertEvent, buffer),
		done:    make(chan struct{}),
		logger:  logger,
		metrics: metrics,
	}
}

// Name returns the label used in logs and metrics.
func (a *Async) Name() string { return a.name }

// Publish implements Sink. It only enqueues.
func (a *Async) Publish(_ context.Context, event domain.AlertEvent) error {
	select {
	case <-a.done:
		return ErrAsyncStopped
	default:
	}

	select {
	case a.queue <- event:
	default:
		a.metrics.AlertsDropped.WithLabelValues(a.name).Inc()
		a.logger.Warn("alert queue full, dropping event", "sink", a.name, "alert_id", event.ID, "hazard", event.Hazard)
	}
	return nil
}

// Run delivers queued events until ctx is cancelled, then flushes what is
// left within a short deadline.
func (a *Async) Run(ctx context.Context) error {
	defer close(a.done)
	// Sinks bound their own calls; shutdown never aborts a write in progress.
	sendCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			a.drain(ctx)
			return nil
		case event := <-a.queue:
			a.deliver(sendCtx, event)
		}
	}
}

func (a *Async) drain(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), drainTimeout)
	defer cancel()
	for {
		select {
		case event := <-a.queue:
			a.deliver(ctx, event)
		default:
			return
		}
	}
}

func (a *Async) deliver(ctx context.Context, event domain.AlertEvent) {
	if err := a.inner.Publish(ctx, event); err != nil {
		a.logger.Error("alert sink failed",
			"sink", a.name,
			"alert_id", event.ID,
			"hazard", event.Hazard,
			"error", err,
		)
		a.metrics.SinkErrors.WithLabelValues(a.name).Inc()
	}
}

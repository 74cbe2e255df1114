package alert

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(node string) domain.AlertEvent {
	return domain.NewAlertEvent(domain.HazardSignal{
		NodeID:   domain.NodeID(node),
		Hazard:   domain.HazardWildfire,
		Severity: domain.WildfireSeverity,
	}, time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC))
}

func TestFanout_DeliversToAllSinksDespiteFailure(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	f := NewFanout(slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	var order []string
	f.Add("broken", SinkFunc(func(context.Context, domain.AlertEvent) error {
		order = append(order, "broken")
		return errors.New("unreachable")
	}))
	f.Add("ok", SinkFunc(func(context.Context, domain.AlertEvent) error {
		order = append(order, "ok")
		return nil
	}))

	err := f.Publish(context.Background(), testEvent("node-01"))

	require.NoError(t, err)
	assert.Equal(t, []string{"broken", "ok"}, order)
	assert.Equal(t, []string{"broken", "ok"}, f.Names())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SinkErrors.WithLabelValues("broken")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.SinkErrors.WithLabelValues("ok")))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, sink.Publish(context.Background(), testEvent("node-03")))

	assert.Contains(t, buf.String(), "Early signs of wildfire at node-03")
	assert.Contains(t, buf.String(), "hazard=wildfire")
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestRecent(t *testing.T) {
	r := NewRecent(3)
	assert.Empty(t, r.List())

	for _, n := range []string{"a", "b"} {
		require.NoError(t, r.Publish(context.Background(), testEvent(n)))
	}
	assert.Equal(t, []domain.NodeID{"b", "a"}, nodes(r.List()))

	for _, n := range []string{"c", "d", "e"} {
		require.NoError(t, r.Publish(context.Background(), testEvent(n)))
	}
	assert.Equal(t, []domain.NodeID{"e", "d", "c"}, nodes(r.List()))
}

func TestRecent_ExactlyFull(t *testing.T) {
	r := NewRecent(2)
	require.NoError(t, r.Publish(context.Background(), testEvent("a")))
	require.NoError(t, r.Publish(context.Background(), testEvent("b")))

	assert.Equal(t, []domain.NodeID{"b", "a"}, nodes(r.List()))
}

func nodes(events []domain.AlertEvent) []domain.NodeID {
	out := make([]domain.NodeID, len(events))
	for i, e := range events {
		out[i] = e.NodeID
	}
	return out
}

func TestAsync_PublishDoesNotWaitOnSlowSink(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	release := make(chan struct{})
	delivered := make(chan domain.AlertEvent, 4)
	slow := SinkFunc(func(_ context.Context, e domain.AlertEvent) error {
		<-release
		delivered <- e
		return nil
	})
	a := NewAsync("kafka", slow, 4, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	start := time.Now()
	require.NoError(t, a.Publish(context.Background(), testEvent("node-01")))
	require.NoError(t, a.Publish(context.Background(), testEvent("node-02")))
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	first := <-delivered
	second := <-delivered
	assert.Equal(t, domain.NodeID("node-01"), first.NodeID)
	assert.Equal(t, domain.NodeID("node-02"), second.NodeID)
}

func TestAsync_FullQueueDropsAndCounts(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	a := NewAsync("redis", SinkFunc(func(context.Context, domain.AlertEvent) error { return nil }),
		2, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	// Run is not started, so nothing leaves the queue.
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Publish(context.Background(), testEvent("node-01")))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.AlertsDropped.WithLabelValues("redis")))
}

func TestAsync_DrainsQueueOnShutdown(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	var got []domain.NodeID
	a := NewAsync("kafka", SinkFunc(func(ctx context.Context, e domain.AlertEvent) error {
		require.NoError(t, ctx.Err(), "delivery context survives shutdown")
		got = append(got, e.NodeID)
		return nil
	}), 4, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	require.NoError(t, a.Publish(context.Background(), testEvent("node-01")))
	require.NoError(t, a.Publish(context.Background(), testEvent("node-02")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))

	assert.Equal(t, []domain.NodeID{"node-01", "node-02"}, got)
	assert.Zero(t, testutil.ToFloat64(metrics.SinkErrors.WithLabelValues("kafka")))
	assert.ErrorIs(t, a.Publish(context.Background(), testEvent("node-03")), ErrAsyncStopped)
}

func TestAsync_CountsInnerFailures(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	a := NewAsync("kafka", SinkFunc(func(context.Context, domain.AlertEvent) error {
		return errors.New("leader not available")
	}), 1, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	require.NoError(t, a.Publish(context.Background(), testEvent("node-01")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SinkErrors.WithLabelValues("kafka")))
}

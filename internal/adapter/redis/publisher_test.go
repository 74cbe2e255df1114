package redis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/config"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAlert() domain.AlertEvent {
	return domain.NewAlertEvent(domain.HazardSignal{
		NodeID:   "node-02",
		Hazard:   domain.HazardEarthquake,
		Severity: "severe",
		Values:   map[domain.MetricKind]float64{domain.MetricAccel: 2.5},
	}, time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC))
}

func TestEncodeAlert(t *testing.T) {
	event := testAlert()

	data, err := encodeAlert(event)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, event.ID, out["id"])
	assert.Equal(t, "earthquake", out["hazard"])
	assert.Equal(t, "severe", out["severity"])
	assert.Equal(t, map[string]any{"accel": 2.5}, out["values"])
}

func TestPublish_UnreachableServer(t *testing.T) {
	client := NewClient(&config.Config{RedisAddr: "127.0.0.1:1"})
	p := NewAlertPublisher(client, "sensor-alerts", "sensor-alerts:recent", 50, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer p.Close()

	err := p.Publish(context.Background(), testAlert())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish alert")
}

func TestNewAlertPublisher_KeepsAtLeastOne(t *testing.T) {
	p := NewAlertPublisher(nil, "c", "k", 0, nil)
	assert.Equal(t, int64(1), p.keep)

	got, err := p.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

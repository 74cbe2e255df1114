//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/adapter/kafka"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/alert"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/config"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/history"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/observability"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/pipeline"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/throttle"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const testAlertTopic = "test-sensor-alerts"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("sensor-monitor-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

type staticSource map[domain.NodeID]domain.RawReading

func (s staticSource) FetchReadings(context.Context) (map[domain.NodeID]domain.RawReading, error) {
	return s, nil
}

// TestAlertsReachKafka runs a poll cycle whose readings trip both hazards and
// checks the throttled alerts land on the alert topic with their headers.
func TestAlertsReachKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testAlertTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaAlertTopic: testAlertTopic}
	writer := kafka.NewAlertWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	fan := alert.NewFanout(discardLogger(), metrics)
	fan.Add("kafka", writer)

	src := staticSource{
		"node-01": {"temperature_c": 35.0, "humidity": 20.0, "pm25": 160.0, "pm10": 140.0},
		"node-02": {"temperature_c": 36.0, "humidity": 15.0, "pm25": 200.0},
		"node-07": {"accel_x_ms2": 0.6, "accel_y_ms2": 0.8, "accel_z_ms2": 0.0},
	}
	p := pipeline.New(src, fan, history.NewStore(history.DefaultCapacity), throttle.New(10*time.Second),
		clockwork.NewRealClock(), discardLogger(), metrics,
		pipeline.Options{Thresholds: domain.DefaultThresholds()})

	require.NoError(t, p.RunCycle(ctx))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testAlertTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	got := map[domain.HazardType]domain.AlertEvent{}
	headers := map[domain.HazardType]map[string]string{}
	for len(got) < 2 {
		readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := consumer.ReadMessage(readCtx)
		readCancel()
		require.NoError(t, err, "read from alert topic")

		var event domain.AlertEvent
		require.NoError(t, json.Unmarshal(msg.Value, &event))
		got[event.Hazard] = event

		h := make(map[string]string, len(msg.Headers))
		for _, hd := range msg.Headers {
			h[hd.Key] = string(hd.Value)
		}
		headers[event.Hazard] = h
		assert.Equal(t, string(event.Hazard), string(msg.Key))
	}

	fire := got[domain.HazardWildfire]
	assert.Equal(t, domain.NodeID("node-01"), fire.NodeID, "one wildfire alert, from the first node")
	assert.Equal(t, "warning", headers[domain.HazardWildfire]["severity"])

	quake := got[domain.HazardEarthquake]
	assert.Equal(t, domain.NodeID("node-07"), quake.NodeID)
	assert.Equal(t, "strong", quake.Severity)
	_, err := time.Parse(time.RFC3339, headers[domain.HazardEarthquake]["emitted_at"])
	assert.NoError(t, err)
}

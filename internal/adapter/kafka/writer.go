package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/config"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// AlertWriter produces alert events to a Kafka topic.
// It implements alert.Sink.
type AlertWriter struct {
	writer  messageWriter
	logger  *slog.Logger
	timeout time.Duration
}

// NewAlertWriter creates a Kafka producer for the configured alert topic.
func NewAlertWriter(cfg *config.Config, logger *slog.Logger) *AlertWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaAlertTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    1,
	}
	logger.Info("kafka alert sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaAlertTopic)
	return &AlertWriter{writer: w, logger: logger, timeout: 5 * time.Second}
}

// Publish serializes one alert and writes it synchronously. The write is
// bounded so a slow broker cannot stall the caller past the timeout.
func (w *AlertWriter) Publish(ctx context.Context, event domain.AlertEvent) error {
	msg, err := serializeAlert(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write alert %s: %w", event.ID, err)
	}
	return nil
}

func (w *AlertWriter) Close() error {
	return w.writer.Close()
}

// serializeAlert marshals an alert into a Kafka message keyed by hazard type,
// so alerts of one hazard stay ordered within a partition.
func serializeAlert(event domain.AlertEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Hazard),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafkago.Header{
			{Key: "hazard", Value: []byte(event.Hazard)},
			{Key: "severity", Value: []byte(event.Severity)},
			{Key: "node_id", Value: []byte(event.NodeID)},
			{Key: "emitted_at", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}, nil
}

// Package redis publishes alerts to Redis pub/sub and keeps a capped list of
// recent alerts for consumers that connect late.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/config"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AlertPublisher implements alert.Sink on top of a Redis client.
type AlertPublisher struct {
	client    redis.UniversalClient
	channel   string
	recentKey string
	keep      int64
	timeout   time.Duration
	logger    *slog.Logger
}

// NewClient builds a Redis client from configuration.
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// NewAlertPublisher creates a publisher that sends each alert to channel and
// keeps the newest keep alerts under recentKey.
func NewAlertPublisher(client redis.UniversalClient, channel, recentKey string, keep int, logger *slog.Logger) *AlertPublisher {
	if keep <= 0 {
		keep = 1
	}
	return &AlertPublisher{
		client:    client,
		channel:   channel,
		recentKey: recentKey,
		keep:      int64(keep),
		timeout:   2 * time.Second,
		logger:    logger,
	}
}

// Ping checks connectivity.
func (p *AlertPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Publish sends the alert and records it in the recent list in one
// MULTI/EXEC transaction.
func (p *AlertPublisher) Publish(ctx context.Context, event domain.AlertEvent) error {
	data, err := encodeAlert(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.channel, data)
		pipe.LPush(ctx, p.recentKey, data)
		pipe.LTrim(ctx, p.recentKey, 0, p.keep-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish alert %s to redis: %w", event.ID, err)
	}
	return nil
}

// Recent reads back up to n stored alerts, newest first.
func (p *AlertPublisher) Recent(ctx context.Context, n int) ([]domain.AlertEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := p.client.LRange(ctx, p.recentKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent alerts: %w", err)
	}

	out := make([]domain.AlertEvent, 0, len(raw))
	for _, s := range raw {
		var event domain.AlertEvent
		if err := json.Unmarshal([]byte(s), &event); err != nil {
			p.logger.Warn("skipping undecodable alert in redis", "key", p.recentKey, "error", err)
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (p *AlertPublisher) Close() error {
	return p.client.Close()
}

func encodeAlert(event domain.AlertEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("serialize alert event: %w", err)
	}
	return data, nil
}

// Package sensorapi reads node readings from the sensor gateway's HTTP API.
package sensorapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/sony/gobreaker/v2"
)

const sensorsPath = "/api/sensors"

// maxBodyBytes bounds the response read from the gateway.
const maxBodyBytes = 4 << 20

// Kind classifies a fetch failure.
type Kind string

const (
	KindTransport   Kind = "transport"
	KindStatus      Kind = "status"
	KindDecode      Kind = "decode"
	KindCircuitOpen Kind = "circuit_open"
)

// FetchError reports why a poll of the gateway produced no readings.
type FetchError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sensor fetch %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sensor fetch %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RetryPolicy bounds retries inside a single fetch.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	Retry   RetryPolicy
	// BreakerFailures is the number of consecutive failed attempts that opens
	// the circuit. Zero selects 5.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open. Zero selects 30s.
	BreakerCooldown time.Duration
}

// Client fetches the node map from GET {baseURL}/api/sensors.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	retry      RetryPolicy
	logger     *slog.Logger
	sleep      func(context.Context, time.Duration) bool
}

// NewClient creates a gateway client. opts.Timeout bounds each attempt.
func NewClient(baseURL string, opts Options, logger *slog.Logger) *Client {
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := opts.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		retry:      opts.Retry,
		logger:     logger,
		sleep:      retry.SleepWithContext,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "sensor-gateway",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// A cancelled poll says nothing about the gateway's health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// BaseURL returns the gateway address.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchReadings returns the raw reading of every node reported by the gateway.
// A node whose payload is not a JSON object is returned with an empty reading
// so its metrics normalize to missing. Any error is a *FetchError.
func (c *Client) FetchReadings(ctx context.Context) (map[domain.NodeID]domain.RawReading, error) {
	body, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return decodeReadings(body, c.logger)
}

func (c *Client) fetch(ctx context.Context) ([]byte, error) {
	attempts := 1 + c.retry.MaxRetries
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.get(ctx)
		})
		if err == nil {
			return body, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &FetchError{Kind: KindCircuitOpen, Err: err}
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) || attempt == attempts-1 {
			break
		}

		wait := c.backoff(attempt)
		c.logger.Debug("retrying sensor fetch", "attempt", attempt+1, "wait", wait, "error", err)
		if !c.sleep(ctx, wait) {
			break
		}
	}

	var fe *FetchError
	if errors.As(lastErr, &fe) {
		return nil, fe
	}
	return nil, &FetchError{Kind: KindTransport, Err: lastErr}
}

func (c *Client) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+sensorsPath, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", snippet),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// retryable reports whether another attempt could succeed: network failures,
// 429 and 5xx. Other statuses will not change on retry.
func retryable(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return true
	}
	switch fe.Kind {
	case KindTransport:
		return true
	case KindStatus:
		return fe.StatusCode == http.StatusTooManyRequests || fe.StatusCode >= 500
	default:
		return false
	}
}

// backoff returns a jittered wait in [MinWait, min(MaxWait, MinWait*2^attempt)].
func (c *Client) backoff(attempt int) time.Duration {
	minWait := float64(c.retry.MinWait)
	ceiling := minWait * math.Pow(2, float64(attempt))
	if maxWait := float64(c.retry.MaxWait); maxWait > 0 && ceiling > maxWait {
		ceiling = maxWait
	}
	if ceiling <= minWait {
		return c.retry.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(ceiling-minWait))
}

func decodeReadings(body []byte, logger *slog.Logger) (map[domain.NodeID]domain.RawReading, error) {
	var nodes map[string]json.RawMessage
	if err := json.Unmarshal(body, &nodes); err != nil {
		return nil, &FetchError{Kind: KindDecode, Err: err}
	}
	if nodes == nil {
		return nil, &FetchError{Kind: KindDecode, Err: errors.New("response is not a JSON object")}
	}

	out := make(map[domain.NodeID]domain.RawReading, len(nodes))
	for id, payload := range nodes {
		var raw domain.RawReading
		if err := json.Unmarshal(payload, &raw); err != nil || raw == nil {
			logger.Warn("node payload is not an object, treating all metrics as missing", "node_id", id)
			raw = domain.RawReading{}
		}
		out[domain.NodeID(id)] = raw
	}
	return out, nil
}

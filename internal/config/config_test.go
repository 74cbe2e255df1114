package config

import (
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://192.168.4.1:5000"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SENSOR_BASE_URL", testBaseURL)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, testBaseURL, cfg.SensorBaseURL)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.FetchTimeout)
	assert.Equal(t, 1, cfg.FetchRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.FetchRetryWait)
	assert.Equal(t, 30*time.Second, cfg.FetchBackoffMax)
	assert.Equal(t, 10*time.Second, cfg.AlertCooldown)
	assert.Equal(t, 10, cfg.HistorySize)
	assert.Equal(t, "15:04:05", cfg.HistoryTimeFormat)
	assert.Equal(t, 50, cfg.RecentAlerts)
	assert.Equal(t, 64, cfg.AlertQueueSize)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, BrokerList{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30, cfg.HistoryEvictAfter)
	assert.Equal(t, "sensor-alerts", cfg.KafkaAlertTopic)
	assert.False(t, cfg.RedisEnabled())
	assert.Equal(t, "sensor-alerts", cfg.RedisAlertChannel)
	assert.Equal(t, "sensor-alerts:recent", cfg.RedisRecentKey)

	assert.Equal(t, domain.DefaultThresholds(), cfg.Thresholds())
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("SENSOR_BASE_URL", testBaseURL+"/")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("FETCH_TIMEOUT", "3s")
	t.Setenv("FETCH_RETRIES", "0")
	t.Setenv("ALERT_COOLDOWN", "1m")
	t.Setenv("HISTORY_SIZE", "20")
	t.Setenv("HISTORY_EVICT_AFTER", "0")
	t.Setenv("ALERT_QUEUE_SIZE", "8")
	t.Setenv("WILDFIRE_TEMPERATURE_MIN", "27")
	t.Setenv("WILDFIRE_REQUIRE_HUMIDITY", "false")
	t.Setenv("EARTHQUAKE_THRESHOLDS", "strong:0.5,severe:2.0")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", " broker1:9092, broker2:9092 ,")
	t.Setenv("KAFKA_ALERT_TOPIC", "hazards")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, testBaseURL, cfg.SensorBaseURL, "trailing slash trimmed")
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 0, cfg.FetchRetries)
	assert.Equal(t, time.Minute, cfg.AlertCooldown)
	assert.Equal(t, 20, cfg.HistorySize)
	assert.Equal(t, 0, cfg.HistoryEvictAfter)
	assert.Equal(t, 8, cfg.AlertQueueSize)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, BrokerList{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers, "blanks trimmed and dropped")
	assert.Equal(t, "hazards", cfg.KafkaAlertTopic)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, 2, cfg.RedisDB)

	th := cfg.Thresholds()
	assert.Equal(t, 27.0, th.Wildfire.TemperatureMin)
	assert.False(t, th.Wildfire.RequireHumidity)
	assert.Equal(t, domain.EarthquakeThresholds{
		{Label: "strong", AccelMin: 0.5},
		{Label: "severe", AccelMin: 2.0},
	}, th.Earthquake)
}

func TestLoad_MissingBaseURL(t *testing.T) {
	t.Setenv("SENSOR_BASE_URL", "")

	_, err := Load()
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, []ConfigErrorType{ErrMissingEnv, ErrValidation}, cfgErr.Type)
}

func TestLoad_MalformedBaseURL(t *testing.T) {
	t.Setenv("SENSOR_BASE_URL", "not a url")

	_, err := Load()
	requireConfigError(t, err, ErrValidation)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("SENSOR_BASE_URL", testBaseURL)
	t.Setenv("POLL_INTERVAL", "not-a-duration")

	_, err := Load()
	requireConfigError(t, err, ErrParsing)
	assert.Contains(t, err.Error(), "POLL_INTERVAL")
}

func TestLoad_NonPositiveDurations(t *testing.T) {
	for _, key := range []string{"POLL_INTERVAL", "FETCH_TIMEOUT", "ALERT_COOLDOWN", "SHUTDOWN_TIMEOUT"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv("SENSOR_BASE_URL", testBaseURL)
			t.Setenv(key, "-1s")

			_, err := Load()
			requireConfigError(t, err, ErrValidation)
		})
	}
}

func TestLoad_InvalidEarthquakeThresholds(t *testing.T) {
	t.Setenv("SENSOR_BASE_URL", testBaseURL)
	t.Setenv("EARTHQUAKE_THRESHOLDS", "severe:2.0,strong:0.5")

	_, err := Load()
	requireConfigError(t, err, ErrParsing)
}

func TestLoad_InvalidHumidityThreshold(t *testing.T) {
	t.Setenv("SENSOR_BASE_URL", testBaseURL)
	t.Setenv("WILDFIRE_HUMIDITY_MAX", "0")

	_, err := Load()
	requireConfigError(t, err, ErrValidation)
}

func TestLoad_HumidityThresholdIgnoredWhenDisabled(t *testing.T) {
	t.Setenv("SENSOR_BASE_URL", testBaseURL)
	t.Setenv("WILDFIRE_HUMIDITY_MAX", "0")
	t.Setenv("WILDFIRE_REQUIRE_HUMIDITY", "false")

	_, err := Load()
	require.NoError(t, err)
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	t.Setenv("SENSOR_BASE_URL", testBaseURL)
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load()
	requireConfigError(t, err, ErrValidation)
}

func TestLoad_InvalidHistorySize(t *testing.T) {
	t.Setenv("SENSOR_BASE_URL", testBaseURL)
	t.Setenv("HISTORY_SIZE", "0")

	_, err := Load()
	requireConfigError(t, err, ErrValidation)
}

func TestLoad_RetryWaitAboveBackoffCap(t *testing.T) {
	t.Setenv("SENSOR_BASE_URL", testBaseURL)
	t.Setenv("FETCH_RETRY_WAIT", "1m")
	t.Setenv("FETCH_BACKOFF_MAX", "10s")

	_, err := Load()
	requireConfigError(t, err, ErrValidation)
}

func TestConfigError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &ConfigError{Type: ErrParsing, Message: "bad", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "[PARSING_FAILED] bad: boom", err.Error())
	assert.Equal(t, "[VALIDATION_FAILED] bad", (&ConfigError{Type: ErrValidation, Message: "bad"}).Error())
}

func requireConfigError(t *testing.T, err error, want ConfigErrorType) {
	t.Helper()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr), "expected *ConfigError, got %T", err)
	assert.Equal(t, want, cfgErr.Type)
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigErrorType classifies configuration failures.
type ConfigErrorType string

const (
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	ErrParsing    ConfigErrorType = "PARSING_FAILED"
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
)

// ConfigError is returned by Load when the environment cannot produce a
// usable configuration. The service refuses to start on any ConfigError.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	SensorBaseURL string `envconfig:"SENSOR_BASE_URL" required:"true" validate:"required,url"`

	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"2s" validate:"gt=0"`
	FetchTimeout    time.Duration `envconfig:"FETCH_TIMEOUT" default:"1500ms" validate:"gt=0"`
	FetchRetries    int           `envconfig:"FETCH_RETRIES" default:"1" validate:"min=0,max=10"`
	FetchRetryWait  time.Duration `envconfig:"FETCH_RETRY_WAIT" default:"100ms" validate:"gt=0"`
	FetchBackoffMax time.Duration `envconfig:"FETCH_BACKOFF_MAX" default:"30s" validate:"gt=0"`

	AlertCooldown     time.Duration `envconfig:"ALERT_COOLDOWN" default:"10s" validate:"gt=0"`
	HistorySize       int           `envconfig:"HISTORY_SIZE" default:"10" validate:"min=1,max=1000"`
	HistoryTimeFormat string        `envconfig:"HISTORY_TIME_FORMAT" default:"15:04:05" validate:"required"`
	HistoryEvictAfter int           `envconfig:"HISTORY_EVICT_AFTER" default:"30" validate:"min=0"`

	WildfireTemperatureMin  float64 `envconfig:"WILDFIRE_TEMPERATURE_MIN" default:"32"`
	WildfireHumidityMax     float64 `envconfig:"WILDFIRE_HUMIDITY_MAX" default:"30"`
	WildfireRequireHumidity bool    `envconfig:"WILDFIRE_REQUIRE_HUMIDITY" default:"true"`
	WildfirePM25Max         float64 `envconfig:"WILDFIRE_PM25_MAX" default:"150"`
	WildfirePM10Max         float64 `envconfig:"WILDFIRE_PM10_MAX" default:"150"`

	EarthquakeThresholds EarthquakeLadder `envconfig:"EARTHQUAKE_THRESHOLDS" default:"light:0.05,moderate:0.1,strong:0.5,severe:2.0,violent:10.0"`

	RecentAlerts   int `envconfig:"RECENT_ALERTS" default:"50" validate:"min=1"`
	AlertQueueSize int `envconfig:"ALERT_QUEUE_SIZE" default:"64" validate:"min=1"`

	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080" validate:"required"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`

	KafkaEnabled    bool       `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers    BrokerList `envconfig:"KAFKA_BROKERS" default:"localhost:9092" validate:"required_if=KafkaEnabled true"`
	KafkaAlertTopic string     `envconfig:"KAFKA_ALERT_TOPIC" default:"sensor-alerts" validate:"required_if=KafkaEnabled true"`

	RedisAddr         string `envconfig:"REDIS_ADDR"`
	RedisPassword     string `envconfig:"REDIS_PASSWORD"`
	RedisDB           int    `envconfig:"REDIS_DB" default:"0" validate:"min=0"`
	RedisAlertChannel string `envconfig:"REDIS_ALERT_CHANNEL" default:"sensor-alerts" validate:"required_with=RedisAddr"`
	RedisRecentKey    string `envconfig:"REDIS_RECENT_KEY" default:"sensor-alerts:recent" validate:"required_with=RedisAddr"`
}

// EarthquakeLadder decodes EARTHQUAKE_THRESHOLDS ("label:accel,...") into an
// ordered severity list.
type EarthquakeLadder domain.EarthquakeThresholds

// Decode implements envconfig.Decoder.
func (l *EarthquakeLadder) Decode(value string) error {
	parsed, err := domain.ParseEarthquakeThresholds(value)
	if err != nil {
		return err
	}
	*l = EarthquakeLadder(parsed)
	return nil
}

// BrokerList decodes a comma-separated broker list, trimming blanks.
type BrokerList []string

// Decode implements envconfig.Decoder.
func (b *BrokerList) Decode(value string) error {
	*b = sharedcfg.ParseBrokers(value)
	return nil
}

// Thresholds assembles the hazard thresholds from the flat settings.
func (c *Config) Thresholds() domain.Thresholds {
	return domain.Thresholds{
		Wildfire: domain.WildfireThresholds{
			TemperatureMin:  c.WildfireTemperatureMin,
			PM25Max:         c.WildfirePM25Max,
			PM10Max:         c.WildfirePM10Max,
			RequireHumidity: c.WildfireRequireHumidity,
			HumidityMax:     c.WildfireHumidityMax,
		},
		Earthquake: domain.EarthquakeThresholds(c.EarthquakeThresholds),
	}
}

// RedisEnabled reports whether the Redis alert sink is configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// Load reads configuration from the environment (and a .env file when one is
// present), applying defaults where unset. Invalid values are never replaced
// by defaults; they produce a *ConfigError.
func Load() (*Config, error) {
	// A missing .env file is the normal case outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		if strings.Contains(err.Error(), "required key") {
			return nil, &ConfigError{Type: ErrMissingEnv, Message: "required environment variable not set", Err: err}
		}
		return nil, &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}

	cfg.SensorBaseURL = strings.TrimRight(cfg.SensorBaseURL, "/")

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	if err := cfg.Thresholds().Validate(); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "invalid hazard thresholds", Err: err}
	}
	if cfg.FetchRetryWait > cfg.FetchBackoffMax {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("FETCH_RETRY_WAIT (%s) exceeds FETCH_BACKOFF_MAX (%s)", cfg.FetchRetryWait, cfg.FetchBackoffMax),
		}
	}

	return &cfg, nil
}

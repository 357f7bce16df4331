package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	pkgconfig "github.com/utafrali/orderdesk/pkg/config"
)

// Config holds all configuration for the order desk.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort        int           `env:"ORDERDESK_HTTP_PORT" envDefault:"8090"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	CORSOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Remote order-management API
	BackendURL     string        `env:"BACKEND_URL,required"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`
	ProductsPath   string        `env:"BACKEND_PRODUCTS_PATH" envDefault:"/products"`
	OrdersPath     string        `env:"BACKEND_ORDERS_PATH" envDefault:"/orders"`

	// Read retries only; order creation is never retried.
	BackendMaxRetries int           `env:"BACKEND_MAX_RETRIES" envDefault:"2"`
	BackendRetryWait  time.Duration `env:"BACKEND_RETRY_WAIT" envDefault:"250ms"`

	// Redis cart store
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass     string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	CartKeyPrefix string `env:"CART_KEY_PREFIX" envDefault:"orderItem-"`

	// Builder
	SubmitCooldown time.Duration `env:"SUBMIT_COOLDOWN" envDefault:"1s"`

	// Kafka; no brokers disables event publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from an optional .env file and the environment.
func Load(dotenvFiles ...string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadWithDotEnv(cfg, dotenvFiles...); err != nil {
		return nil, fmt.Errorf("load orderdesk config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EventsEnabled reports whether domain events go to Kafka.
func (c *Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("BACKEND_URL must be an absolute http(s) URL, got %q", c.BackendURL)
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}
	if c.BackendMaxRetries < 0 {
		return fmt.Errorf("BACKEND_MAX_RETRIES must not be negative")
	}
	if !strings.HasPrefix(c.ProductsPath, "/") || !strings.HasPrefix(c.OrdersPath, "/") {
		return fmt.Errorf("BACKEND_PRODUCTS_PATH and BACKEND_ORDERS_PATH must start with /")
	}
	if strings.TrimSpace(c.CartKeyPrefix) == "" {
		return fmt.Errorf("CART_KEY_PREFIX must not be empty")
	}
	if c.SubmitCooldown < 0 {
		return fmt.Errorf("SUBMIT_COOLDOWN must not be negative")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %v", c.OTELSampleRate)
	}
	return nil
}

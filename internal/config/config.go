package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/blockr/backend/internal/models"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	Paystack PaystackConfig

	// Prices is the single price list used both to price checkouts and to
	// classify verified payments.
	Prices models.PriceTable

	// LogLevel is a logrus level name. Defaults to "info".
	LogLevel string

	// LogFormat is "text" or "json". Defaults to "text".
	LogFormat string

	Tracing TracingConfig
}

// TracingConfig controls the OTLP trace exporter. Tracing is off unless
// OTEL_ENABLED is set.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Insecure    bool

	// SampleRatio is the fraction of root traces recorded, in [0, 1].
	SampleRatio float64
}

// PaystackConfig holds the payment gateway settings.
type PaystackConfig struct {
	SecretKey   string
	BaseURL     string
	CallbackURL string
	Timeout     time.Duration

	// RateLimit caps outbound gateway requests per second; 0 disables the limiter.
	RateLimit float64
}

const (
	defaultServerAddress   = ":18111"
	defaultPaystackBaseURL = "https://api.paystack.co"
	defaultPaystackTimeout = 15 * time.Second
	defaultPaystackRate    = 10
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultServiceName     = "blockr-backend"
	defaultSampleRatio     = 1.0
	envServerAddress       = "BACKEND_ADDR"
	envDatabaseURL         = "DATABASE_URL"
	envPaystackSecretKey   = "PAYSTACK_SECRET_KEY"
	envPaystackBaseURL     = "PAYSTACK_BASE_URL"
	envPaystackCallbackURL = "PAYSTACK_CALLBACK_URL"
	envPaystackTimeout     = "PAYSTACK_TIMEOUT"
	envPaystackRateLimit   = "PAYSTACK_RATE_LIMIT"
	envPriceMonthly        = "PRICE_MONTHLY_MINOR"
	envPriceYearly         = "PRICE_YEARLY_MINOR"
	envPriceCurrency       = "PRICE_CURRENCY"
	envLogLevel            = "LOG_LEVEL"
	envLogFormat           = "LOG_FORMAT"
	envTracingEnabled      = "OTEL_ENABLED"
	envTracingEndpoint     = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envTracingInsecure     = "OTEL_EXPORTER_OTLP_INSECURE"
	envTracingService      = "OTEL_SERVICE_NAME"
	envTracingSampleRatio  = "OTEL_SAMPLE_RATIO"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	defaults := models.DefaultPriceTable()

	cfg := Config{
		ServerAddress: firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:   strings.TrimSpace(os.Getenv(envDatabaseURL)),
		Paystack: PaystackConfig{
			SecretKey:   strings.TrimSpace(os.Getenv(envPaystackSecretKey)),
			BaseURL:     strings.TrimRight(firstNonEmpty(os.Getenv(envPaystackBaseURL), defaultPaystackBaseURL), "/"),
			CallbackURL: strings.TrimSpace(os.Getenv(envPaystackCallbackURL)),
		},
		Prices: models.PriceTable{
			Currency: strings.ToUpper(firstNonEmpty(os.Getenv(envPriceCurrency), defaults.Currency)),
		},
		LogLevel:  strings.ToLower(firstNonEmpty(os.Getenv(envLogLevel), defaultLogLevel)),
		LogFormat: strings.ToLower(firstNonEmpty(os.Getenv(envLogFormat), defaultLogFormat)),
		Tracing: TracingConfig{
			Endpoint:    strings.TrimSpace(os.Getenv(envTracingEndpoint)),
			ServiceName: firstNonEmpty(os.Getenv(envTracingService), defaultServiceName),
		},
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}
	if cfg.Paystack.SecretKey == "" {
		return Config{}, fmt.Errorf("%s is required", envPaystackSecretKey)
	}

	if _, err := url.ParseRequestURI(cfg.Paystack.BaseURL); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envPaystackBaseURL, err)
	}

	timeout, err := durationEnv(envPaystackTimeout, defaultPaystackTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.Paystack.Timeout = timeout

	rateLimit, err := floatEnv(envPaystackRateLimit, defaultPaystackRate)
	if err != nil {
		return Config{}, err
	}
	if rateLimit < 0 {
		return Config{}, fmt.Errorf("%s must not be negative", envPaystackRateLimit)
	}
	cfg.Paystack.RateLimit = rateLimit

	if cfg.Prices.Monthly, err = intEnv(envPriceMonthly, defaults.Monthly); err != nil {
		return Config{}, err
	}
	if cfg.Prices.Yearly, err = intEnv(envPriceYearly, defaults.Yearly); err != nil {
		return Config{}, err
	}
	if err := cfg.Prices.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid price table: %w", err)
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envLogLevel, err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return Config{}, fmt.Errorf("%s must be text or json, got %q", envLogFormat, cfg.LogFormat)
	}

	if cfg.Tracing, err = loadTracing(cfg.Tracing); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadTracing(tc TracingConfig) (TracingConfig, error) {
	var err error
	if tc.Enabled, err = boolEnv(envTracingEnabled, false); err != nil {
		return TracingConfig{}, err
	}
	if tc.Insecure, err = boolEnv(envTracingInsecure, false); err != nil {
		return TracingConfig{}, err
	}
	if tc.SampleRatio, err = floatEnv(envTracingSampleRatio, defaultSampleRatio); err != nil {
		return TracingConfig{}, err
	}
	if tc.SampleRatio < 0 || tc.SampleRatio > 1 {
		return TracingConfig{}, fmt.Errorf("%s must be between 0 and 1", envTracingSampleRatio)
	}
	if tc.Enabled && tc.Endpoint == "" {
		return TracingConfig{}, fmt.Errorf("%s is required when %s is set", envTracingEndpoint, envTracingEnabled)
	}
	return tc, nil
}

// NewLogger builds the process logger from the configured level and format.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// DatabaseTarget describes the database host and name without credentials, for logging.
func (c Config) DatabaseTarget() string {
	parsed, err := url.Parse(c.DatabaseURL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return parsed.Host + parsed.Path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return d, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func intEnv(key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

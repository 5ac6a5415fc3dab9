// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	defaultPort                  = "8080"
	defaultEnvironment           = "development"
	defaultSimRailBaseURL        = "https://panel.simrail.eu:8084"
	defaultPollInterval          = time.Second
	defaultServerRefreshInterval = 5 * time.Minute
	defaultRequestTimeout        = 10 * time.Second
	defaultOTLPEndpoint          = "localhost:4317"
)

// Config holds runtime configuration for the dashboard service.
type Config struct {
	Port        string
	Environment string

	// SimRailBaseURL is the panel API base URL.
	SimRailBaseURL string

	// PollInterval is the period of the station poll ticker.
	PollInterval time.Duration

	// ServerRefreshInterval is how often the server list is reloaded.
	// Zero disables the refresh.
	ServerRefreshInterval time.Duration

	// RequestTimeout bounds a single panel request.
	RequestTimeout time.Duration

	// DisplayLocation is the zone clock labels are rendered in.
	DisplayLocation *time.Location

	// DefaultServer, if set and active, is selected instead of the first active server.
	DefaultServer string

	DarkMode bool

	TelemetryEnabled bool
	OTLPEndpoint     string

	// TraceSampleRatio is the fraction of root traces kept, in [0, 1].
	TraceSampleRatio float64

	// PubSubProjectID and PubSubTopic enable the occupancy feed when both are set.
	PubSubProjectID string
	PubSubTopic     string

	LogLevel   zerolog.Level
	RequireTLS bool
}

// FeedEnabled reports whether occupancy changes should be published.
func (c Config) FeedEnabled() bool {
	return c.PubSubProjectID != "" && c.PubSubTopic != ""
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		Port:            getEnvOrDefault("APP_PORT", defaultPort),
		Environment:     getEnvOrDefault("APP_ENV", defaultEnvironment),
		SimRailBaseURL:  strings.TrimSuffix(getEnvOrDefault("SIMRAIL_BASE_URL", defaultSimRailBaseURL), "/"),
		DefaultServer:   strings.TrimSpace(os.Getenv("DEFAULT_SERVER")),
		OTLPEndpoint:    getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", defaultOTLPEndpoint),
		PubSubProjectID: strings.TrimSpace(os.Getenv("PUBSUB_PROJECT_ID")),
		PubSubTopic:     strings.TrimSpace(os.Getenv("PUBSUB_TOPIC")),
	}

	var err error

	if cfg.PollInterval, err = durationFromEnv("POLL_INTERVAL", defaultPollInterval); err != nil {
		return cfg, err
	}
	if cfg.PollInterval <= 0 {
		return cfg, errors.New("POLL_INTERVAL must be positive")
	}

	if cfg.ServerRefreshInterval, err = durationFromEnv("SERVER_REFRESH_INTERVAL", defaultServerRefreshInterval); err != nil {
		return cfg, err
	}
	if cfg.ServerRefreshInterval < 0 {
		return cfg, errors.New("SERVER_REFRESH_INTERVAL must not be negative")
	}

	if cfg.RequestTimeout, err = durationFromEnv("SIMRAIL_REQUEST_TIMEOUT", defaultRequestTimeout); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout <= 0 {
		return cfg, errors.New("SIMRAIL_REQUEST_TIMEOUT must be positive")
	}

	cfg.DisplayLocation = time.Local
	if v := strings.TrimSpace(os.Getenv("DISPLAY_TIMEZONE")); v != "" {
		loc, err := time.LoadLocation(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid DISPLAY_TIMEZONE: %w", err)
		}
		cfg.DisplayLocation = loc
	}

	if cfg.DarkMode, err = boolFromEnv("DARK_MODE", true); err != nil {
		return cfg, err
	}
	if cfg.TelemetryEnabled, err = boolFromEnv("OTEL_ENABLED", false); err != nil {
		return cfg, err
	}
	if cfg.RequireTLS, err = boolFromEnv("REQUIRE_TLS", false); err != nil {
		return cfg, err
	}

	cfg.TraceSampleRatio = 1
	if v := strings.TrimSpace(os.Getenv("OTEL_SAMPLE_RATIO")); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid OTEL_SAMPLE_RATIO: %w", err)
		}
		if ratio < 0 || ratio > 1 {
			return cfg, fmt.Errorf("OTEL_SAMPLE_RATIO must be within [0, 1], got %v", ratio)
		}
		cfg.TraceSampleRatio = ratio
	}

	cfg.LogLevel = zerolog.InfoLevel
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		level, err := zerolog.ParseLevel(strings.ToLower(v))
		if err != nil {
			return cfg, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

func durationFromEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, defaultValue bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// Package config loads DevKit settings from defaults, an optional YAML file
// and the environment, in that order.
//
// Environment variables:
//
//	GEMINI_API_KEY              comma-separated Gemini API keys (required)
//	GEMINI_BASE_URL             Gemini REST base URL
//	GEMINI_PRIMARY_MODEL        primary model (default: gemini-2.5-flash)
//	GEMINI_FALLBACK_MODELS      comma-separated fallback order
//	HTTP_ADDR                   HTTP listen address (default: :3000)
//	GRPC_HEALTH_ADDR            gRPC health listen address, empty disables (default: :50051)
//	MAX_RETRIES                 primary model attempts on rate limit (default: 3)
//	RETRY_BASE_DELAY            backoff unit (default: 2s)
//	REQUEST_TIMEOUT             per-request ceiling (default: 5m)
//	CB_FAILURE_THRESHOLD        failures before a fallback model is skipped, 0 disables (default: 5)
//	CB_COOLDOWN                 circuit breaker cooldown (default: 30s)
//	REDIS_URL                   answer cache, empty disables
//	CACHE_TTL                   answer cache TTL (default: 1h)
//	OTEL_EXPORTER_OTLP_ENDPOINT OTLP gRPC collector, empty disables tracing
//	OPENAI_API_KEY              OpenAI-compatible fallback backend key
//	OPENAI_BASE_URL             OpenAI-compatible base URL
//	OPENAI_MODELS               comma-separated extra fallback models for that backend
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingAPIKey is returned by Validate when no Gemini key is configured.
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY is not configured")

// Config holds all DevKit configuration.
type Config struct {
	HTTPAddr       string          `yaml:"http_addr"`
	GRPCHealthAddr string          `yaml:"grpc_health_addr"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	Gemini         GeminiConfig    `yaml:"gemini"`
	OpenAI         OpenAIConfig    `yaml:"openai"`
	Retry          RetryConfig     `yaml:"retry"`
	Breaker        BreakerConfig   `yaml:"circuit_breaker"`
	Cache          CacheConfig     `yaml:"cache"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`
}

// GeminiConfig selects the Gemini models and credentials.
type GeminiConfig struct {
	APIKeys   []string `yaml:"api_keys"`
	BaseURL   string   `yaml:"base_url"`
	Primary   string   `yaml:"primary_model"`
	Fallbacks []string `yaml:"fallback_models"`
}

// Models returns the candidate order, primary first.
func (g GeminiConfig) Models() []string {
	return append([]string{g.Primary}, g.Fallbacks...)
}

// OpenAIConfig is an optional OpenAI-compatible backend whose models are
// appended after the Gemini fallbacks.
type OpenAIConfig struct {
	APIKeys []string `yaml:"api_keys"`
	BaseURL string   `yaml:"base_url"`
	Models  []string `yaml:"models"`
}

// Enabled reports whether the backend has both keys and models.
func (o OpenAIConfig) Enabled() bool { return len(o.APIKeys) > 0 && len(o.Models) > 0 }

// RetryConfig controls rate-limit retries on the primary model.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// BreakerConfig controls per-model circuit breaking of fallbacks.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// CacheConfig controls the answer cache for search routes.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		HTTPAddr:       ":3000",
		GRPCHealthAddr: ":50051",
		RequestTimeout: 5 * time.Minute,
		Gemini: GeminiConfig{
			BaseURL:   "https://generativelanguage.googleapis.com/v1beta",
			Primary:   "gemini-2.5-flash",
			Fallbacks: []string{"gemini-2.5-pro", "gemini-2.0-flash", "gemini-1.5-flash", "gemini-1.5-pro"},
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.groq.com/openai/v1",
		},
		Retry:     RetryConfig{MaxAttempts: 3, BaseDelay: 2 * time.Second},
		Breaker:   BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second},
		Cache:     CacheConfig{TTL: time.Hour},
		Telemetry: TelemetryConfig{ServiceName: "polkadot-devkit"},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = envOrDefault("HTTP_ADDR", c.HTTPAddr)
	if v, ok := os.LookupEnv("GRPC_HEALTH_ADDR"); ok {
		c.GRPCHealthAddr = v
	}
	c.RequestTimeout = envDurationOrDefault("REQUEST_TIMEOUT", c.RequestTimeout)

	if keys := splitList(os.Getenv("GEMINI_API_KEY")); len(keys) > 0 {
		c.Gemini.APIKeys = keys
	}
	c.Gemini.BaseURL = envOrDefault("GEMINI_BASE_URL", c.Gemini.BaseURL)
	c.Gemini.Primary = envOrDefault("GEMINI_PRIMARY_MODEL", c.Gemini.Primary)
	if models := splitList(os.Getenv("GEMINI_FALLBACK_MODELS")); len(models) > 0 {
		c.Gemini.Fallbacks = models
	}

	if keys := splitList(os.Getenv("OPENAI_API_KEY")); len(keys) > 0 {
		c.OpenAI.APIKeys = keys
	}
	c.OpenAI.BaseURL = envOrDefault("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	if models := splitList(os.Getenv("OPENAI_MODELS")); len(models) > 0 {
		c.OpenAI.Models = models
	}

	c.Retry.MaxAttempts = envIntOrDefault("MAX_RETRIES", c.Retry.MaxAttempts)
	c.Retry.BaseDelay = envDurationOrDefault("RETRY_BASE_DELAY", c.Retry.BaseDelay)
	c.Breaker.FailureThreshold = envIntOrDefault("CB_FAILURE_THRESHOLD", c.Breaker.FailureThreshold)
	c.Breaker.Cooldown = envDurationOrDefault("CB_COOLDOWN", c.Breaker.Cooldown)

	c.Cache.RedisURL = envOrDefault("REDIS_URL", c.Cache.RedisURL)
	c.Cache.TTL = envDurationOrDefault("CACHE_TTL", c.Cache.TTL)
	c.Telemetry.OTLPEndpoint = envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
}

// Validate checks the settings needed to serve requests.
func (c *Config) Validate() error {
	if len(c.Gemini.APIKeys) == 0 {
		return ErrMissingAPIKey
	}
	if c.Gemini.Primary == "" {
		return errors.New("gemini primary model is empty")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

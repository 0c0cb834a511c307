package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Telemetry holds all telemetry-related configuration.
type Telemetry struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	Protocol       string
	SamplingRatio  float64
	Insecure       bool
	Disabled       bool
}

// Gateway holds the HTTP listener and session settings.
type Gateway struct {
	Addr           string
	MetricsPort    int
	SessionTTL     time.Duration
	SweepInterval  time.Duration
	AllowedOrigins []string
}

// Search holds the web search backend settings. The API key here is a
// fallback used when a session carries no key of its own.
type Search struct {
	BaseURL string
	APIKey  string
}

// Database holds the Postgres connection settings.
type Database struct {
	URL string
}

// Spreadsheet holds the workbook lookup settings.
type Spreadsheet struct {
	WorkspaceDir string
}

// ImageGen holds the image generation backend settings.
type ImageGen struct {
	BaseURL string
}

// Config holds all application configuration.
type Config struct {
	Gateway     Gateway
	Search      Search
	Database    Database
	Spreadsheet Spreadsheet
	ImageGen    ImageGen
	Telemetry   Telemetry
}

var (
	once   sync.Once
	config *Config
)

// Load initializes and returns the application configuration.
func Load() *Config {
	once.Do(func() {
		config = &Config{
			Gateway: Gateway{
				Addr:           getEnv("TOOLGATE_ADDR", ":8001"),
				MetricsPort:    getEnvInt("TOOLGATE_METRICS_PORT", 8080),
				SessionTTL:     getEnvDuration("TOOLGATE_SESSION_TTL", 30*time.Minute),
				SweepInterval:  getEnvDuration("TOOLGATE_SESSION_SWEEP_INTERVAL", time.Minute),
				AllowedOrigins: getEnvList("TOOLGATE_ALLOWED_ORIGINS", []string{"*"}),
			},
			Search: Search{
				BaseURL: getEnv("TOOLGATE_SEARCH_BASE_URL", "https://api.tavily.com"),
				APIKey:  getEnv("TOOLGATE_SEARCH_API_KEY", ""),
			},
			Database: Database{
				URL: getEnv("TOOLGATE_DATABASE_URL", ""),
			},
			Spreadsheet: Spreadsheet{
				WorkspaceDir: getEnv("TOOLGATE_WORKSPACE_DIR", "."),
			},
			ImageGen: ImageGen{
				BaseURL: getEnv("TOOLGATE_IMAGE_BASE_URL", "https://image.pollinations.ai"),
			},
			Telemetry: Telemetry{
				ServiceName:    getEnv("OTEL_SERVICE_NAME", "toolgate"),
				ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
				Environment:    getEnv("OTEL_ENVIRONMENT", "development"),
				Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
				Protocol:       getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "auto"),
				SamplingRatio:  getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
				Insecure:       getEnvBool("OTEL_EXPORTER_OTLP_TRACES_INSECURE", false),
				Disabled:       getEnvBool("OTEL_SDK_DISABLED", false),
			},
		}

		if config.Telemetry.Environment == "development" {
			config.Telemetry.SamplingRatio = 1.0
		}
	})
	return config
}

// Reset is a helper function to reset the singleton config for tests.
func Reset() {
	once = sync.Once{}
	config = nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if valueStr, ok := os.LookupEnv(key); ok {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if valueStr, ok := os.LookupEnv(key); ok {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if valueStr, ok := os.LookupEnv(key); ok {
		if value, err := strconv.ParseBool(strings.ToLower(valueStr)); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if valueStr, ok := os.LookupEnv(key); ok {
		if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
			return value
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if valueStr, ok := os.LookupEnv(key); ok {
		parts := strings.Split(valueStr, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg := Load()
	assert.Equal(t, ":8001", cfg.Gateway.Addr)
	assert.Equal(t, 8080, cfg.Gateway.MetricsPort)
	assert.Equal(t, 30*time.Minute, cfg.Gateway.SessionTTL)
	assert.Equal(t, "https://api.tavily.com", cfg.Search.BaseURL)
	assert.Equal(t, "toolgate", cfg.Telemetry.ServiceName)
}

func TestLoadFromEnv(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("TOOLGATE_ADDR", ":9001")
	t.Setenv("TOOLGATE_SESSION_TTL", "5m")
	t.Setenv("TOOLGATE_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TOOLGATE_SEARCH_API_KEY", "tvly-fallback")

	cfg := Load()
	assert.Equal(t, ":9001", cfg.Gateway.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Gateway.SessionTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Gateway.AllowedOrigins)
	assert.Equal(t, "tvly-fallback", cfg.Search.APIKey)
}

func TestLoadIsMemoized(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	first := Load()
	t.Setenv("TOOLGATE_ADDR", ":7777")
	second := Load()
	assert.Same(t, first, second)
	assert.Equal(t, ":8001", second.Gateway.Addr)
}

func TestInvalidValuesFallBack(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("TOOLGATE_METRICS_PORT", "not-a-port")
	t.Setenv("TOOLGATE_SESSION_TTL", "-1m")

	cfg := Load()
	assert.Equal(t, 8080, cfg.Gateway.MetricsPort)
	assert.Equal(t, 30*time.Minute, cfg.Gateway.SessionTTL)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 30, cfg.SendRateLimit)
	assert.Equal(t, 30, cfg.SearchRateLimit)
	assert.Equal(t, 10*time.Second, cfg.WSAuthTimeout)
	assert.Empty(t, cfg.MongoURI)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SEND_RATE_LIMIT", "5")
	t.Setenv("WS_AUTH_TIMEOUT", "3s")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, ,https://admin.example.com")

	cfg := Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 5, cfg.SendRateLimit)
	assert.Equal(t, 3*time.Second, cfg.WSAuthTimeout)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
}

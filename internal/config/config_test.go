package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("WS_MAX_CONNECTIONS", "")
	t.Setenv("WS_ALLOWED_ORIGINS", "")
	t.Setenv("SHUTDOWN_GRACE", "")

	cfg := LoadConfig()

	assert.Equal(t, 10000, cfg.MaxConnections)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace)
}

func TestLoadConfigSplitsAllowedOrigins(t *testing.T) {
	t.Setenv("WS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com,")
	t.Setenv("WS_MAX_CONNECTIONS", "250")

	cfg := LoadConfig()

	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 250, cfg.MaxConnections)
}

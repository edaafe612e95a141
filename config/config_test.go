package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, "admissionchat.db", cfg.DBPath)
	assert.Equal(t, 5, cfg.ConnectTimeout)
	assert.Equal(t, 30, cfg.WriteTimeout)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CHAT_PORT", "9100")
	t.Setenv("CHAT_DB_PATH", "/tmp/chat-test.db")
	t.Setenv("CHAT_CONNECT_TIMEOUT", "2")
	t.Setenv("CHAT_WRITE_TIMEOUT", "10")
	t.Setenv("CHAT_METRICS_ADDR", ":2112")

	cfg := Load()

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "/tmp/chat-test.db", cfg.DBPath)
	assert.Equal(t, 2, cfg.ConnectTimeout)
	assert.Equal(t, 10, cfg.WriteTimeout)
	assert.Equal(t, ":2112", cfg.MetricsAddr)
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("CHAT_PORT", "not-a-port")

	cfg := Load()
	assert.Equal(t, 9001, cfg.Port)
}

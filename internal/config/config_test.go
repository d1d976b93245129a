package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/chat-client/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Realtime.URL)
	assert.Equal(t, 5, cfg.Realtime.ReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.Realtime.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.Presence.Interval)
	assert.False(t, cfg.Realtime.LocalEcho)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("VITE_API_URL", "https://chat.example.com")
	t.Setenv("VITE_WS_URL", "wss://chat.example.com/ws")
	t.Setenv("RECONNECT_ATTEMPTS", "3")
	t.Setenv("RECONNECT_DELAY", "250ms")
	t.Setenv("LOCAL_ECHO", "true")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com", cfg.API.BaseURL)
	assert.Equal(t, "wss://chat.example.com/ws", cfg.Realtime.URL)
	assert.Equal(t, 3, cfg.Realtime.ReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Realtime.ReconnectDelay)
	assert.True(t, cfg.Realtime.LocalEcho)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PRESENCE_INTERVAL=10s\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PRESENCE_INTERVAL") })

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Presence.Interval)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "ws url with http scheme", key: "VITE_WS_URL", value: "http://localhost:8080/ws"},
		{name: "zero attempts", key: "RECONNECT_ATTEMPTS", value: "0"},
		{name: "negative delay", key: "RECONNECT_DELAY", value: "-1s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := config.Load("")
			assert.Error(t, err)
		})
	}
}

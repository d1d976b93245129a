// Package config loads client settings from an optional .env file and the
// process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	API         APIConfig
	Realtime    RealtimeConfig
	Presence    PresenceConfig
	LogLevel    string
	MetricsAddr string
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type RealtimeConfig struct {
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	LocalEcho         bool
}

type PresenceConfig struct {
	Interval time.Duration
}

// Load reads envFile (if it exists) into the environment and builds a Config
// from environment variables and defaults. An empty envFile skips the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetDefault("VITE_API_URL", "http://localhost:8080")
	v.SetDefault("VITE_WS_URL", "ws://localhost:8080/ws")
	v.SetDefault("HTTP_TIMEOUT", 15*time.Second)
	v.SetDefault("RECONNECT_ATTEMPTS", 5)
	v.SetDefault("RECONNECT_DELAY", 5*time.Second)
	v.SetDefault("LOCAL_ECHO", false)
	v.SetDefault("PRESENCE_INTERVAL", 30*time.Second)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_ADDR", "")
	v.AutomaticEnv()

	cfg := &Config{
		API: APIConfig{
			BaseURL: v.GetString("VITE_API_URL"),
			Timeout: v.GetDuration("HTTP_TIMEOUT"),
		},
		Realtime: RealtimeConfig{
			URL:               v.GetString("VITE_WS_URL"),
			ReconnectAttempts: v.GetInt("RECONNECT_ATTEMPTS"),
			ReconnectDelay:    v.GetDuration("RECONNECT_DELAY"),
			LocalEcho:         v.GetBool("LOCAL_ECHO"),
		},
		Presence: PresenceConfig{
			Interval: v.GetDuration("PRESENCE_INTERVAL"),
		},
		LogLevel:    v.GetString("LOG_LEVEL"),
		MetricsAddr: v.GetString("METRICS_ADDR"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	if err := checkURL("VITE_API_URL", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("VITE_WS_URL", c.Realtime.URL, "ws", "wss"); err != nil {
		return err
	}
	if c.Realtime.ReconnectAttempts <= 0 {
		return fmt.Errorf("config: RECONNECT_ATTEMPTS must be positive, got %d", c.Realtime.ReconnectAttempts)
	}
	if c.Realtime.ReconnectDelay <= 0 {
		return fmt.Errorf("config: RECONNECT_DELAY must be positive, got %s", c.Realtime.ReconnectDelay)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("config: HTTP_TIMEOUT must be positive, got %s", c.API.Timeout)
	}
	if c.Presence.Interval <= 0 {
		return fmt.Errorf("config: PRESENCE_INTERVAL must be positive, got %s", c.Presence.Interval)
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("config: %s is empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("config: %s has scheme %q, want one of %v", key, u.Scheme, schemes)
}

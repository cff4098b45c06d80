package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// MeshConfig is the on-disk shape of a bridge endpoint. Durations are
// written as strings ("30s", "1m") and parsed during conversion.
type MeshConfig struct {
	Name                 string        `toml:"name"`
	URL                  string        `toml:"url"`
	Token                string        `toml:"token"`
	ConnectTimeout       string        `toml:"connect_timeout"`
	PingInterval         string        `toml:"ping_interval"`
	ReconnectDelay       string        `toml:"reconnect_delay"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts"`
	RequestTimeout       string        `toml:"request_timeout"`
	SubscriptionBuffer   int           `toml:"subscription_buffer"`
	Backoff              BackoffConfig `toml:"backoff"`
}

type BackoffConfig struct {
	Multiplier float64 `toml:"multiplier"`
	MaxDelay   string  `toml:"max_delay"`
	Jitter     bool    `toml:"jitter"`
}

func LoadMeshConfig(path string) (MeshConfig, error) {
	var cfg MeshConfig
	if err := loadToml(path, &cfg); err != nil {
		return MeshConfig{}, err
	}
	applyEnvOverrides(&cfg)
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if err := ValidateMeshConfig(cfg); err != nil {
		return MeshConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// Environment wins over the file so deployments can share one config.
func applyEnvOverrides(cfg *MeshConfig) {
	if v := strings.TrimSpace(os.Getenv("MESHCTL_URL")); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("MESHCTL_TOKEN")); v != "" {
		cfg.Token = v
	}
}

func ValidateMeshConfig(cfg MeshConfig) error {
	if strings.TrimSpace(cfg.URL) == "" {
		return fmt.Errorf("mesh config missing url")
	}
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		return fmt.Errorf("mesh config url must be ws:// or wss://: %s", cfg.URL)
	}
	if cfg.MaxReconnectAttempts < 0 {
		return fmt.Errorf("mesh config max_reconnect_attempts must be >= 0")
	}
	if cfg.SubscriptionBuffer < 0 {
		return fmt.Errorf("mesh config subscription_buffer must be >= 0")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"connect_timeout", cfg.ConnectTimeout},
		{"ping_interval", cfg.PingInterval},
		{"reconnect_delay", cfg.ReconnectDelay},
		{"request_timeout", cfg.RequestTimeout},
		{"backoff.max_delay", cfg.Backoff.MaxDelay},
	} {
		if _, err := parseDuration(field.value, 0); err != nil {
			return fmt.Errorf("mesh config %s invalid: %w", field.name, err)
		}
	}
	if cfg.Backoff.Multiplier < 0 {
		return fmt.Errorf("mesh config backoff.multiplier must be >= 0")
	}
	return nil
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0: %s", value)
	}
	return d, nil
}

package config

import (
	"github.com/Tek-Fly/ide-mesh-suite/internal/bridge"
)

// ToBridgeConfig maps a validated file config onto the runtime config.
// Zero fields fall through to the bridge defaults.
func ToBridgeConfig(cfg MeshConfig) (bridge.Config, error) {
	connectTimeout, err := parseDuration(cfg.ConnectTimeout, 0)
	if err != nil {
		return bridge.Config{}, err
	}
	pingInterval, err := parseDuration(cfg.PingInterval, 0)
	if err != nil {
		return bridge.Config{}, err
	}
	reconnectDelay, err := parseDuration(cfg.ReconnectDelay, 0)
	if err != nil {
		return bridge.Config{}, err
	}
	requestTimeout, err := parseDuration(cfg.RequestTimeout, 0)
	if err != nil {
		return bridge.Config{}, err
	}
	maxDelay, err := parseDuration(cfg.Backoff.MaxDelay, 0)
	if err != nil {
		return bridge.Config{}, err
	}

	out := bridge.Config{
		Name:                 cfg.Name,
		URL:                  cfg.URL,
		ConnectTimeout:       connectTimeout,
		PingInterval:         pingInterval,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		RequestTimeout:       requestTimeout,
		SubscriptionBuffer:   cfg.SubscriptionBuffer,
		ReconnectDelay: bridge.BackoffConfig{
			InitialDelay: reconnectDelay,
			Multiplier:   cfg.Backoff.Multiplier,
			MaxDelay:     maxDelay,
			Jitter:       cfg.Backoff.Jitter,
		},
	}
	return out.WithDefaults(), nil
}

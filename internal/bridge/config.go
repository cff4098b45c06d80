package bridge

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines reconnect delay behavior. The default multiplier
// of 1.0 keeps a fixed delay between attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines one bridge's reliability settings. The zero value is
// usable after WithDefaults.
type Config struct {
	// Name labels logs and metrics; the registry uses it as the key.
	Name string
	// URL is the backend endpoint handed to the dialer.
	URL string

	ConnectTimeout       time.Duration
	PingInterval         time.Duration
	ReconnectDelay       BackoffConfig
	MaxReconnectAttempts int
	RequestTimeout       time.Duration

	// SubscriptionBuffer bounds each channel's fan-out stream. A full
	// stream drops its oldest payload so the dispatcher never blocks on
	// a slow consumer.
	SubscriptionBuffer int
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		ReconnectDelay: BackoffConfig{
			InitialDelay: 5 * time.Second,
			Multiplier:   1.0,
		},
		MaxReconnectAttempts: 5,
		RequestTimeout:       30 * time.Second,
		SubscriptionBuffer:   64,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.ReconnectDelay.InitialDelay <= 0 {
		c.ReconnectDelay.InitialDelay = def.ReconnectDelay.InitialDelay
	}
	if c.ReconnectDelay.Multiplier < 1.0 {
		c.ReconnectDelay.Multiplier = 1.0
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.SubscriptionBuffer <= 0 {
		c.SubscriptionBuffer = def.SubscriptionBuffer
	}
	if c.Name == "" {
		c.Name = "default"
	}
	return c
}

// NextBackoffDelay returns the reconnect delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

package bridge

import (
	"math/rand"
	"testing"
	"time"
)

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{URL: "ws://backend.test"}.WithDefaults()
	def := DefaultConfig()
	if cfg.PingInterval != def.PingInterval ||
		cfg.ConnectTimeout != def.ConnectTimeout ||
		cfg.RequestTimeout != def.RequestTimeout ||
		cfg.MaxReconnectAttempts != def.MaxReconnectAttempts ||
		cfg.SubscriptionBuffer != def.SubscriptionBuffer {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Name != "default" {
		t.Fatalf("name=%q", cfg.Name)
	}
	if cfg.ReconnectDelay.Multiplier != 1.0 {
		t.Fatalf("multiplier=%v, want 1.0", cfg.ReconnectDelay.Multiplier)
	}
}

func TestWithDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Name:                 "edge",
		URL:                  "ws://backend.test",
		PingInterval:         time.Second,
		MaxReconnectAttempts: 9,
	}.WithDefaults()
	if cfg.Name != "edge" || cfg.PingInterval != time.Second || cfg.MaxReconnectAttempts != 9 {
		t.Fatalf("explicit values overridden: %+v", cfg)
	}
}

func TestNextBackoffDelayFixedByDefault(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 5 * time.Second, Multiplier: 1.0}
	for attempt := 1; attempt <= 4; attempt++ {
		if got := NextBackoffDelay(cfg, attempt, nil); got != 5*time.Second {
			t.Fatalf("attempt=%d delay=%v, want 5s", attempt, got)
		}
	}
}

func TestNextBackoffDelayGrowsAndCaps(t *testing.T) {
	cfg := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     300 * time.Millisecond,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 100*time.Millisecond {
		t.Fatalf("attempt 1: %v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 200*time.Millisecond {
		t.Fatalf("attempt 2: %v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != 300*time.Millisecond {
		t.Fatalf("attempt 3 not capped: %v", got)
	}
}

func TestNextBackoffDelayJitterStaysBounded(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2.0, Jitter: true}
	rng := rand.New(rand.NewSource(1))
	for attempt := 2; attempt <= 5; attempt++ {
		base := NextBackoffDelay(BackoffConfig{InitialDelay: cfg.InitialDelay, Multiplier: cfg.Multiplier}, attempt, nil)
		got := NextBackoffDelay(cfg, attempt, rng)
		if got < base/2 || got > base+base/2 {
			t.Fatalf("attempt=%d jittered delay %v outside [%v, %v]", attempt, got, base/2, base+base/2)
		}
	}
}

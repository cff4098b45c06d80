package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMeshConfigFields(t *testing.T) {
	path := writeConfig(t, `
name = "workbench"
url = "wss://mesh.example:8765/bridge"
token = "secret"
connect_timeout = "3s"
ping_interval = "10s"
reconnect_delay = "2s"
max_reconnect_attempts = 7
request_timeout = "15s"
subscription_buffer = 32

[backoff]
multiplier = 2.0
max_delay = "30s"
jitter = true
`)

	cfg, err := LoadMeshConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Name != "workbench" {
		t.Fatalf("unexpected name: %q", cfg.Name)
	}
	if cfg.URL != "wss://mesh.example:8765/bridge" {
		t.Fatalf("unexpected url: %q", cfg.URL)
	}
	if cfg.Token != "secret" {
		t.Fatalf("unexpected token: %q", cfg.Token)
	}
	if cfg.MaxReconnectAttempts != 7 {
		t.Fatalf("unexpected attempts: %d", cfg.MaxReconnectAttempts)
	}
	if cfg.Backoff.Multiplier != 2.0 || !cfg.Backoff.Jitter {
		t.Fatalf("unexpected backoff: %+v", cfg.Backoff)
	}
}

func TestLoadMeshConfigDefaultsName(t *testing.T) {
	path := writeConfig(t, `
url = "ws://localhost:8765/bridge"
`)
	cfg, err := LoadMeshConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Name != "default" {
		t.Fatalf("unexpected name: %q", cfg.Name)
	}
}

func TestLoadMeshConfigMissingURL(t *testing.T) {
	path := writeConfig(t, `
name = "workbench"
`)
	if _, err := LoadMeshConfig(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadMeshConfigRejectsNonWebSocketURL(t *testing.T) {
	path := writeConfig(t, `
url = "http://localhost:8765/bridge"
`)
	if _, err := LoadMeshConfig(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadMeshConfigBadDuration(t *testing.T) {
	path := writeConfig(t, `
url = "ws://localhost:8765/bridge"
ping_interval = "abc"
`)
	if _, err := LoadMeshConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadMeshConfigEnvOverrides(t *testing.T) {
	t.Setenv("MESHCTL_URL", "wss://override.example/bridge")
	t.Setenv("MESHCTL_TOKEN", "env-token")
	path := writeConfig(t, `
url = "ws://file.example/bridge"
token = "file-token"
`)
	cfg, err := LoadMeshConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.URL != "wss://override.example/bridge" {
		t.Fatalf("env url not applied: %q", cfg.URL)
	}
	if cfg.Token != "env-token" {
		t.Fatalf("env token not applied: %q", cfg.Token)
	}
}

func TestToBridgeConfig(t *testing.T) {
	cfg := MeshConfig{
		Name:                 "workbench",
		URL:                  "ws://localhost:8765/bridge",
		ConnectTimeout:       "3s",
		PingInterval:         "10s",
		ReconnectDelay:       "2s",
		MaxReconnectAttempts: 7,
		RequestTimeout:       "15s",
		SubscriptionBuffer:   32,
		Backoff:              BackoffConfig{Multiplier: 2.0, MaxDelay: "30s", Jitter: true},
	}
	out, err := ToBridgeConfig(cfg)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.ConnectTimeout != 3*time.Second || out.PingInterval != 10*time.Second {
		t.Fatalf("unexpected timeouts: %+v", out)
	}
	if out.ReconnectDelay.InitialDelay != 2*time.Second || out.ReconnectDelay.Multiplier != 2.0 {
		t.Fatalf("unexpected backoff: %+v", out.ReconnectDelay)
	}
	if out.ReconnectDelay.MaxDelay != 30*time.Second || !out.ReconnectDelay.Jitter {
		t.Fatalf("unexpected backoff cap: %+v", out.ReconnectDelay)
	}
}

func TestToBridgeConfigAppliesDefaults(t *testing.T) {
	out, err := ToBridgeConfig(MeshConfig{URL: "ws://localhost:8765/bridge"})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.ConnectTimeout != 10*time.Second || out.RequestTimeout != 30*time.Second {
		t.Fatalf("defaults not applied: %+v", out)
	}
	if out.SubscriptionBuffer != 64 || out.MaxReconnectAttempts != 5 {
		t.Fatalf("defaults not applied: %+v", out)
	}
}

func TestTemplateRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := WriteTemplate(path, "mesh", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadMeshConfig(path)
	if err != nil {
		t.Fatalf("template did not load: %v", err)
	}
	if cfg.URL == "" {
		t.Fatalf("template missing url")
	}
	if err := WriteTemplate(path, "mesh", false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
}

func TestTemplateUnknownKind(t *testing.T) {
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

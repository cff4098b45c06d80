package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveConfigFlagBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
url = "ws://file.example/bridge"
token = "file-token"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := resolveConfig(path, "wss://flag.example/bridge", "flag-token")
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.URL != "wss://flag.example/bridge" {
		t.Fatalf("flag url not applied: %q", cfg.URL)
	}
	if cfg.Token != "flag-token" {
		t.Fatalf("flag token not applied: %q", cfg.Token)
	}
}

func TestResolveConfigWithoutFileUsesFlags(t *testing.T) {
	cfg, err := resolveConfig(filepath.Join(t.TempDir(), "missing.toml"), "ws://flag.example/bridge", "")
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.URL != "ws://flag.example/bridge" {
		t.Fatalf("unexpected url: %q", cfg.URL)
	}
	if cfg.Name != "default" {
		t.Fatalf("unexpected name: %q", cfg.Name)
	}
}

func TestResolveConfigWithoutAnyURLFails(t *testing.T) {
	t.Setenv("MESHCTL_URL", "")
	if _, err := resolveConfig(filepath.Join(t.TempDir(), "missing.toml"), "", ""); err == nil {
		t.Fatalf("expected validation error")
	}
}

package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{raw: "", ok: false},
		{raw: "trace", want: zerolog.TraceLevel, ok: true},
		{raw: "DEBUG", want: zerolog.DebugLevel, ok: true},
		{raw: " warn ", want: zerolog.WarnLevel, ok: true},
		{raw: "warning", want: zerolog.WarnLevel, ok: true},
		{raw: "off", want: zerolog.Disabled, ok: true},
		{raw: "loud", ok: false},
	}
	for _, tc := range tests {
		got, ok := parseLevel(tc.raw)
		if ok != tc.ok {
			t.Fatalf("parseLevel(%q) ok=%v, want %v", tc.raw, ok, tc.ok)
		}
		if ok && got != tc.want {
			t.Fatalf("parseLevel(%q)=%v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	if _, ok := parseBool(""); ok {
		t.Fatalf("empty string should not parse")
	}
	if _, ok := parseBool("maybe"); ok {
		t.Fatalf("junk should not parse")
	}
	if v, ok := parseBool("true"); !ok || !v {
		t.Fatalf("true should parse")
	}
	if v, ok := parseBool("0"); !ok || v {
		t.Fatalf("0 should parse false")
	}
}

func TestEnvOverridesWinOverDefaults(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogNoColor, "true")
	cfg := defaultSettings(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.level != zerolog.ErrorLevel {
		t.Fatalf("level=%v, want error", cfg.level)
	}
	if !cfg.noColor {
		t.Fatalf("nocolor override not applied")
	}
}

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	if lvl, ok := parseLevel(" Debug "); !ok || lvl != zerolog.DebugLevel {
		t.Fatalf("expected debug, got %v ok=%v", lvl, ok)
	}
	if lvl, ok := parseLevel("off"); !ok || lvl != zerolog.Disabled {
		t.Fatalf("expected disabled, got %v ok=%v", lvl, ok)
	}
	if _, ok := parseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be ignored")
	}
	if _, ok := parseLevel(""); ok {
		t.Fatalf("expected empty level to be ignored")
	}
}

func TestEnvOverridesApplyOnTopOfProfile(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogTimestamp, "true")
	t.Setenv(EnvLogNoColor, "1")
	t.Setenv(EnvLogBypass, "nonsense")

	cfg := defaultConfig(ProfileTest)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.WarnLevel {
		t.Fatalf("level: got %v", cfg.Level)
	}
	if !cfg.Timestamp || !cfg.NoColor {
		t.Fatalf("bool overrides not applied: %+v", cfg)
	}
	if cfg.Bypass {
		t.Fatalf("unparseable bypass value must be ignored")
	}
}

func TestNewLoggerBypassWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: zerolog.InfoLevel, Bypass: true, Out: &buf})
	logger.Debug().Msg("hidden")
	logger.Info().Str("op", "connect").Msg("probe.Channel execute")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked through info level: %q", out)
	}
	if !strings.Contains(out, `"op":"connect"`) {
		t.Fatalf("expected json field, got %q", out)
	}
}

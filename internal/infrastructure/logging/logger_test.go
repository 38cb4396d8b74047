package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/voltgrid/solarfleet-core/internal/infrastructure/config"
)

func TestNew_StampsServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(config.LoggingConfig{
		Level:  "info",
		Format: "json",
	}, "1.2.0", &buf)

	log.Info("plant provisioned", "plant", "RAJ1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parsing JSON output: %v", err)
	}
	if entry["service"] != "solarfleet" {
		t.Errorf("service = %v, want solarfleet", entry["service"])
	}
	if entry["version"] != "1.2.0" {
		t.Errorf("version = %v, want 1.2.0", entry["version"])
	}
	if entry["msg"] != "plant provisioned" {
		t.Errorf("msg = %v, want %q", entry["msg"], "plant provisioned")
	}
	if entry["plant"] != "RAJ1" {
		t.Errorf("plant = %v, want RAJ1", entry["plant"])
	}
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(config.LoggingConfig{
		Level:  "warn",
		Format: "json",
	}, "dev", &buf)

	log.Debug("sequence allocated")
	log.Info("device created")
	if buf.Len() != 0 {
		t.Fatalf("info-level records leaked past warn filter: %s", buf.String())
	}

	log.Warn("compensation failed", "step", "delete-rule")
	if !strings.Contains(buf.String(), "compensation failed") {
		t.Error("warn record should pass the filter")
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(config.LoggingConfig{
		Level:  "info",
		Format: "text",
	}, "dev", &buf)

	log.Info("ingest consumer started", "filter", "solar/+/data")

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("text format produced JSON: %s", out)
	}
	if !strings.Contains(out, "solar/+/data") {
		t.Errorf("output missing attribute: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(config.LoggingConfig{
		Level:  "info",
		Format: "json",
	}, "dev", &buf)

	ingestLog := log.With("component", "ingest")
	if ingestLog == log {
		t.Fatal("With() should return a distinct logger")
	}
	ingestLog.Info("measurement stored")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parsing JSON output: %v", err)
	}
	if entry["component"] != "ingest" {
		t.Errorf("component = %v, want ingest", entry["component"])
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}

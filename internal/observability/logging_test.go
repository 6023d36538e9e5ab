package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("server connected", "server", "files", "tools", 3)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "server connected" || record["server"] != "files" {
		t.Errorf("record = %v", record)
	}
}

func TestNewLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info record passed a warn-level handler")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn record missing")
	}
}

func TestNewLoggerRejectsBadFormat(t *testing.T) {
	if _, err := NewLogger(LogConfig{Format: "yaml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		leak string
	}{
		{"anthropic key", "key sk-ant-api03-" + strings.Repeat("a", 40), "sk-ant-"},
		{"openai key", "key sk-" + strings.Repeat("b", 48), strings.Repeat("b", 48)},
		{"google key", "key AIza" + strings.Repeat("c", 35), "AIza"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Redact(tt.in)
			if strings.Contains(got, tt.leak) {
				t.Errorf("Redact(%q) = %q, secret leaked", tt.in, got)
			}
			if !strings.Contains(got, "[REDACTED]") {
				t.Errorf("Redact(%q) = %q, no mask applied", tt.in, got)
			}
		})
	}

	if got := Redact("plain text"); got != "plain text" {
		t.Errorf("Redact mangled clean input: %q", got)
	}
}

func TestLoggerRedactsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("credential stored", "value", "sk-ant-api03-"+strings.Repeat("x", 40))

	if strings.Contains(buf.String(), "sk-ant-") {
		t.Errorf("log output leaked a credential: %s", buf.String())
	}
}

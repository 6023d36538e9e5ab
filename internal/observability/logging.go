// Package observability bundles the runtime's monitoring surfaces: slog
// handler setup, Prometheus metrics, and OpenTelemetry tracing.
package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the process-wide logging handler.
type LogConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string

	// Format selects the handler: "json" or "text".
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer

	// AddSource includes file:line in records.
	AddSource bool
}

// credentialPatterns match secret material that must never reach a log line.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{16,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`AIza[a-zA-Z0-9_-]{30,}`),
}

// Redact masks known credential shapes in s.
func Redact(s string) string {
	for _, p := range credentialPatterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// redactAttr rewrites string attribute values through Redact.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		a.Value = slog.StringValue(Redact(a.Value.String()))
	}
	return a
}

// ParseLevel maps a level name to its slog value.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger builds a logger per config. Credential-shaped attribute values
// are redacted in both formats.
func NewLogger(cfg LogConfig) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(out, opts)
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), nil
}

// SetupDefault installs a logger built from cfg as slog's default.
func SetupDefault(cfg LogConfig) (*slog.Logger, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

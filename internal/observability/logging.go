// Package observability bundles structured logging and prometheus
// metrics for decision runs.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger provides structured logging with correlation fields and
// redaction of API keys that would otherwise leak into recorded
// prompt/response logs.
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" or "text".
	Format string

	// Output is the writer for log output (defaults to os.Stderr).
	Output io.Writer
}

// ContextKey is the type for context keys carried into log records.
type ContextKey string

const (
	// RunIDKey is the context key for the evaluation run ID.
	RunIDKey ContextKey = "run_id"

	// ScenarioIDKey is the context key for the scenario being decided.
	ScenarioIDKey ContextKey = "scenario_id"

	// SeedKey is the context key for the simulation seed.
	SeedKey ContextKey = "seed"
)

// defaultRedactPatterns covers the credentials this tool handles.
var defaultRedactPatterns = []string{
	`sk-ant-[a-zA-Z0-9_-]{16,}`,
	`sk-[a-zA-Z0-9]{16,}`,
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
}

// NewLogger creates a structured logger. An empty or invalid level
// falls back to "info"; an empty format to "text".
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(config.Format) == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(defaultRedactPatterns))
	for _, pattern := range defaultRedactPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{logger: slog.New(handler), redacts: redacts}
}

// Debug logs a debug-level message with optional key-value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs an info-level message with optional key-value pairs.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs a warning-level message with optional key-value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs an error-level message with optional key-value pairs.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)

	attrs := make([]any, 0, len(args)+6)
	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		attrs = append(attrs, "run_id", runID)
	}
	if scenarioID, ok := ctx.Value(ScenarioIDKey).(string); ok && scenarioID != "" {
		attrs = append(attrs, "scenario_id", scenarioID)
	}
	if seed, ok := ctx.Value(SeedKey).(int64); ok {
		attrs = append(attrs, "seed", seed)
	}
	for _, arg := range args {
		attrs = append(attrs, l.redactValue(arg))
	}

	l.logger.Log(ctx, level, msg, attrs...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		if val == nil {
			return nil
		}
		return l.redactString(val.Error())
	default:
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

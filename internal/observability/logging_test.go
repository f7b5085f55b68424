package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLoggerRedactsAPIKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "text", Output: &buf})

	logger.Info(context.Background(), "request failed",
		"detail", "api_key: sk-abcdefghijklmnopqrstuvwx1234567890abcdefghijklmn")

	out := buf.String()
	if strings.Contains(out, "sk-abcdefghijklmnop") {
		t.Fatalf("API key leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected redaction marker in output: %s", out)
	}
}

func TestLoggerContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	ctx := context.WithValue(context.Background(), ScenarioIDKey, "DEU_Test-1_1_T-1")
	ctx = context.WithValue(ctx, SeedKey, int64(4213))
	logger.Debug(ctx, "deciding")

	out := buf.String()
	if !strings.Contains(out, "DEU_Test-1_1_T-1") {
		t.Fatalf("scenario id missing from output: %s", out)
	}
	if !strings.Contains(out, "4213") {
		t.Fatalf("seed missing from output: %s", out)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Info(context.Background(), "should be dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record logged at warn level: %s", buf.String())
	}
	logger.Warn(context.Background(), "should appear")
	if buf.Len() == 0 {
		t.Fatalf("warn record missing")
	}
}

func TestMetricsRegistryIsolated(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.FailSafeCounter.Inc()
	b.SimulationSteps.Add(3)
	if a.Registry() == b.Registry() {
		t.Fatalf("expected separate registries")
	}
}

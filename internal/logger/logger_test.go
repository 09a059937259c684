package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", "json")
	l.Debug("hidden")
	l.Info("shown", "key", "value")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", lines[0], err)
	}
	if record["msg"] != "shown" || record["key"] != "value" {
		t.Errorf("Unexpected record: %v", record)
	}
}

func TestComponentLoggerAttributes(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "debug", "json"))
	defer slog.SetDefault(prev)

	ctx := ContextWithCorrelationID(context.Background(), "corr-1")
	NewComponentLogger("dispatcher").WithContext(ctx).With("job", "alice/ab12cd34").Info("dispatched")

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("Failed to decode log record: %v", err)
	}
	if record["component"] != "dispatcher" {
		t.Errorf("Expected component dispatcher, got %v", record["component"])
	}
	if record["correlation_id"] != "corr-1" {
		t.Errorf("Expected correlation_id corr-1, got %v", record["correlation_id"])
	}
	if record["job"] != "alice/ab12cd34" {
		t.Errorf("Expected job attribute, got %v", record["job"])
	}
}

func TestComponentLoggerWithoutCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "info", "json"))
	defer slog.SetDefault(prev)

	NewComponentLogger("webhook").WithContext(context.Background()).Warn("ignored", "job", "bob/zz99yy88")

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("Failed to decode log record: %v", err)
	}
	if _, ok := record["correlation_id"]; ok {
		t.Errorf("Expected no correlation_id, got %v", record["correlation_id"])
	}
	if record["component"] != "webhook" || record["level"] != "WARN" {
		t.Errorf("Unexpected record: %v", record)
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Errorf("Expected empty correlation ID, got %q", got)
	}
	id := NewCorrelationID()
	if len(id) != 36 {
		t.Errorf("Expected UUID string, got %q", id)
	}
	ctx := ContextWithCorrelationID(context.Background(), id)
	if got := CorrelationIDFromContext(ctx); got != id {
		t.Errorf("Expected %q, got %q", id, got)
	}
}

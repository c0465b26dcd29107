package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/workforce/internal/shared"
)

func readEntries(t *testing.T, home string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("unmarshal log json: %v", err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNewLogger_EmitsStructuredSchema(t *testing.T) {
	home := t.TempDir()
	logger, lf, err := NewLogger(home, "debug", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer lf.Close()

	logger.Info("task created", "task_id", "task-1", "employee_id", "e1")

	entries := readEntries(t, home)
	if len(entries) != 1 {
		t.Fatalf("expected one log line, got %d", len(entries))
	}
	entry := entries[0]
	for _, key := range []string{"timestamp", "level", "msg", "component", "trace_id"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing required key %q in log entry: %#v", key, entry)
		}
	}
	if entry["component"] != "daemon" || entry["trace_id"] != "-" {
		t.Fatalf("unexpected defaults: %#v", entry)
	}
	if entry["task_id"] != "task-1" {
		t.Fatalf("expected task_id propagation, got %#v", entry["task_id"])
	}
}

func TestNewLogger_RedactsSensitiveFields(t *testing.T) {
	home := t.TempDir()
	logger, lf, err := NewLogger(home, "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer lf.Close()

	logger.Info("gateway auth",
		"auth_token", "abc123",
		"header", "Authorization: Bearer super-secret-token",
	)

	entries := readEntries(t, home)
	entry := entries[len(entries)-1]
	if entry["auth_token"] != "[REDACTED]" {
		t.Fatalf("expected auth_token redaction, got %#v", entry["auth_token"])
	}
	if entry["header"] != "[REDACTED]" {
		t.Fatalf("expected header redaction, got %#v", entry["header"])
	}
}

func TestLogFile_SetLevel(t *testing.T) {
	home := t.TempDir()
	logger, lf, err := NewLogger(home, "warn", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer lf.Close()

	logger.Info("hidden")
	lf.SetLevel("debug")
	if lf.Level() != slog.LevelDebug {
		t.Fatalf("Level = %v", lf.Level())
	}
	logger.Debug("visible")

	entries := readEntries(t, home)
	if len(entries) != 1 || entries[0]["msg"] != "visible" {
		t.Fatalf("entries = %#v", entries)
	}
}

func TestFromContext(t *testing.T) {
	home := t.TempDir()
	logger, lf, err := NewLogger(home, "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer lf.Close()

	ctx := shared.WithTaskID(shared.WithTraceID(context.Background(), "tr-9"), "task-9")
	FromContext(ctx, logger).Info("handled")

	entry := readEntries(t, home)[0]
	if entry["trace_id"] != "tr-9" || entry["task_id"] != "task-9" {
		t.Fatalf("context ids missing: %#v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

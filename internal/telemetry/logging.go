package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/workforce/internal/shared"
)

// LogFile is the daemon's open log sink. Its level can be changed at
// runtime on config reload.
type LogFile struct {
	file  *os.File
	level *slog.LevelVar
}

func (l *LogFile) Close() error { return l.file.Close() }

// SetLevel applies a textual level; unknown values mean info.
func (l *LogFile) SetLevel(level string) { l.level.Set(parseLevel(level)) }

// Level returns the active level.
func (l *LogFile) Level() slog.Level { return l.level.Level() }

// NewLogger writes JSON logs to <homeDir>/logs/system.jsonl and, unless
// quiet, to stdout as well.
func NewLogger(homeDir, level string, quiet bool) (*slog.Logger, *LogFile, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	logFilePath := filepath.Join(logDir, "system.jsonl")
	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	lf := &LogFile{file: file, level: new(slog.LevelVar)}
	lf.SetLevel(level)
	var w io.Writer
	if quiet {
		w = file
	} else {
		w = io.MultiWriter(os.Stdout, file)
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lf.level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			if shared.IsSensitiveKey(a.Key) {
				return slog.String(a.Key, "[REDACTED]")
			}
			if a.Value.Kind() == slog.KindString {
				if redacted, ok := redactStringValue(a.Value.String()); ok {
					return slog.String(a.Key, redacted)
				}
			}
			return a
		},
	})
	logger := slog.New(handler).With("component", "daemon", "trace_id", "-")
	return logger, lf, nil
}

// FromContext returns logger annotated with the identifiers carried by ctx.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(shared.LogAttrs(ctx)...)
}

func redactStringValue(v string) (string, bool) {
	lower := strings.ToLower(v)
	if strings.Contains(lower, "bearer ") || strings.Contains(lower, "authorization:") {
		return "[REDACTED]", true
	}
	redacted := shared.Redact(v)
	if redacted != v {
		return redacted, true
	}
	return v, false
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

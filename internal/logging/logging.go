package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Logger writes JSON records to a per-session file. The terminal belongs
// to the TUI, so nothing is logged to stdout or stderr.
type Logger struct {
	*slog.Logger
	file *os.File
	Path string
}

// ParseLevel converts a config level name to a slog level
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New opens <dir>/<project>/session-<timestamp>.log and returns a logger
// tagged with the session id.
func New(dir, root, sessionID, level string) (*Logger, error) {
	logDir := filepath.Join(dir, filepath.Base(root))
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(logDir, "session-"+time.Now().Format("20060102-150405")+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := newLogger(f, level).With(
		slog.String("session_id", sessionID),
		slog.String("root", root),
	)
	return &Logger{Logger: l, file: f, Path: path}, nil
}

// Discard returns a logger that drops every record
func Discard() *Logger {
	return &Logger{Logger: newLogger(io.Discard, "error")}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Close flushes and closes the log file
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

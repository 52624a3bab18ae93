// Package logging builds the process logger for the dataload binaries: a
// slog text handler at a configurable level, writing to stderr and
// optionally to a timestamped log file.
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

// Options control where and how verbosely the process logs.
type Options struct {
	Level string // DEBUG, INFO, WARN or ERROR (case-insensitive)
	File  string // optional log file; a run timestamp is inserted before the extension
}

// Setup builds the logger described by opts and installs it as the slog
// default. The returned closer releases the log file, if one was opened.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	writers := []io.Writer{os.Stderr}
	closer := func() error { return nil }

	if opts.File != "" {
		path := timestampedPath(opts.File, time.Now())
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f.Close
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closer, nil
}

// ParseLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// timestampedPath inserts a run timestamp between the file's base name and
// extension so repeated runs never clobber earlier logs.
func timestampedPath(path string, now time.Time) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s_%s%s", base, now.Format("20060102_150405"), ext)
}

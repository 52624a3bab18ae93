package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		" info ":  slog.LevelInfo,
	}
	for name, want := range cases {
		assert.Equal(t, want, ParseLevel(name), "level %q", name)
	}
}

func TestTimestampedPath(t *testing.T) {
	now := time.Date(2025, 4, 14, 9, 30, 0, 0, time.UTC)

	assert.Equal(t, "pipeline_20250414_20250414_093000.log",
		timestampedPath("pipeline_20250414.log", now))
	assert.Equal(t, "logs/run_20250414_093000.txt",
		timestampedPath("logs/run.txt", now))
	assert.Equal(t, "noext_20250414_093000",
		timestampedPath("noext", now))
}

func TestSetupWritesFile(t *testing.T) {
	dir := t.TempDir()
	logger, closeLog, err := Setup(Options{
		Level: "DEBUG",
		File:  filepath.Join(dir, "run.log"),
	})
	require.NoError(t, err)

	logger.Info("hello", "k", "v")
	require.NoError(t, closeLog())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, `^run_\d{8}_\d{6}\.log$`, entries[0].Name())

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "k=v")
}

func TestSetupConsoleOnly(t *testing.T) {
	logger, closeLog, err := Setup(Options{Level: "INFO"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NoError(t, closeLog())
}

package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level    string
		wantMsgs []string
	}{
		{level: "debug", wantMsgs: []string{"claiming", "claimed", "retrying", "failed"}},
		{level: "info", wantMsgs: []string{"claimed", "retrying", "failed"}},
		{level: "WARN", wantMsgs: []string{"retrying", "failed"}},
		{level: "error", wantMsgs: []string{"failed"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(&Config{Level: tt.level, Format: "json", writer: &buf})
			require.NoError(t, err)

			logger.Debug("claiming")
			logger.Info("claimed")
			logger.Warn("retrying")
			logger.Error("failed")

			var got []string
			for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
				var entry map[string]any
				require.NoError(t, json.Unmarshal([]byte(line), &entry))
				got = append(got, entry["msg"].(string))
			}
			assert.Equal(t, tt.wantMsgs, got)
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: "info", Format: "console", writer: &buf})
	require.NoError(t, err)

	logger.Info("wake-up received", slog.String("job_id", "j1"))

	out := buf.String()
	assert.Contains(t, out, "wake-up received")
	assert.Contains(t, out, "j1")
}

func TestNew_SourceLocation(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: "info", Format: "json", EnableSource: true, writer: &buf})
	require.NoError(t, err)

	logger.Info("with source")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Contains(t, entry, "source")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("job completed", slog.String("job_id", "j1"))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "job completed", entry["msg"])
	assert.Equal(t, "j1", entry["job_id"])
}

func TestNew_ConsoleFileOutputHasNoColor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.log")

	logger, err := New(&Config{Level: "info", Format: "console", Output: path})
	require.NoError(t, err)

	logger.Info("job enqueued")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "job enqueued")
	assert.NotContains(t, string(data), "\x1b[")
}

func TestNew_FileOutputAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.log")

	for _, msg := range []string{"first", "second"} {
		logger, err := New(&Config{Format: "json", Output: path})
		require.NoError(t, err)
		logger.Info(msg)
		require.NoError(t, logger.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)
}

func TestNew_FileOutputError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := New(&Config{Output: filepath.Join(blocker, "app.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create log directory")
}

func TestLogger_CloseWithoutFile(t *testing.T) {
	logger, err := New(&Config{Output: "stderr"})
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" Info ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}

	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

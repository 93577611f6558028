package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCaptured(t *testing.T, level, format string) (*Logger, *bytes.Buffer) {
	t.Helper()

	output := &bytes.Buffer{}
	logger, err := New(&Config{
		Level:      level,
		Format:     format,
		Output:     "stdout",
		TimeFormat: time.RFC3339,
		writer:     output,
	})
	require.NoError(t, err)
	require.NotNil(t, logger)

	return logger, output
}

func decodeLine(t *testing.T, line string) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	return entry
}

func TestNew_JSONFormat(t *testing.T) {
	logger, output := newCaptured(t, "debug", "json")

	logger.Debug("scan enqueued", slog.String("scan_id", "scan-1"))

	entry := decodeLine(t, output.String())
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "scan enqueued", entry["msg"])
	assert.Equal(t, "scan-1", entry["scan_id"])
	assert.Contains(t, entry, "time")
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level       string
		wantLogged  []string
		wantDropped []string
	}{
		{level: "debug", wantLogged: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{level: "info", wantLogged: []string{"INFO", "WARN", "ERROR"}, wantDropped: []string{"DEBUG"}},
		{level: "warn", wantLogged: []string{"WARN", "ERROR"}, wantDropped: []string{"DEBUG", "INFO"}},
		{level: "error", wantLogged: []string{"ERROR"}, wantDropped: []string{"DEBUG", "INFO", "WARN"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, output := newCaptured(t, tt.level, "json")

			logger.Debug("msg")
			logger.Info("msg")
			logger.Warn("msg")
			logger.Error("msg")

			lines := strings.Split(strings.TrimSpace(output.String()), "\n")
			require.Len(t, lines, len(tt.wantLogged))

			var seen []string
			for _, line := range lines {
				seen = append(seen, decodeLine(t, line)["level"].(string))
			}
			assert.Equal(t, tt.wantLogged, seen)
			for _, dropped := range tt.wantDropped {
				assert.NotContains(t, seen, dropped)
			}
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	logger, output := newCaptured(t, "info", "console")

	logger.Info("worker started")

	// tint abbreviates the level to "INF"
	assert.Contains(t, output.String(), "INF")
	assert.Contains(t, output.String(), "worker started")
}

func TestNew_SourceLocation(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{
		Level:        "info",
		Format:       "json",
		Output:       "stdout",
		EnableSource: true,
		TimeFormat:   time.RFC3339,
		writer:       output,
	})
	require.NoError(t, err)

	logger.Info("message with source")

	entry := decodeLine(t, output.String())
	require.Contains(t, entry, "source")
	source := entry["source"].(map[string]any)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level_"+tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_With(t *testing.T) {
	logger, output := newCaptured(t, "info", "json")

	logger.With(slog.String("broker_role", "worker")).Info("consumer started")

	entry := decodeLine(t, output.String())
	assert.Equal(t, "worker", entry["broker_role"])
	assert.Equal(t, "consumer started", entry["msg"])
}

func TestLogger_WithAttrs(t *testing.T) {
	logger, output := newCaptured(t, "info", "json")

	logger.WithAttrs(
		slog.String("scan_id", "scan-42"),
		slog.String("worker_id", "worker-1"),
	).Info("scan claimed")

	entry := decodeLine(t, output.String())
	assert.Equal(t, "scan-42", entry["scan_id"])
	assert.Equal(t, "worker-1", entry["worker_id"])
}

func TestLogger_WithGroup(t *testing.T) {
	logger, output := newCaptured(t, "info", "json")

	logger.WithGroup("queue").Info("job published", slog.Int("depth", 3))

	entry := decodeLine(t, output.String())
	require.Contains(t, entry, "queue")
	group := entry["queue"].(map[string]any)
	assert.Equal(t, float64(3), group["depth"])
}

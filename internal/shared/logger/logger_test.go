package logger

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/adfree/internal/shared/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestInit_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adfree.log")

	err := Init(&config.LoggerConfig{Level: "debug", Format: "json", OutputPath: path})
	require.NoError(t, err)

	NewLogger().Named("reconcile").Infow("view changed", "status", "ENTITLED")

	data, err := readFile(path)
	require.NoError(t, err)
	assert.Contains(t, data, `"component":"reconcile"`)
	assert.Contains(t, data, `"status":"ENTITLED"`)
}

func TestNamed_AddsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithSlog(slog.New(slog.NewTextHandler(&buf, nil)))

	l.Named("cache").Warnw("cache read failed", "user_id", "u1")

	assert.Contains(t, buf.String(), "component=cache")
	assert.Contains(t, buf.String(), "user_id=u1")
}

package log

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestInit_StderrLevel(t *testing.T) {
	var stderr bytes.Buffer
	require.NoError(t, Init(Options{Level: "warn", Stderr: &stderr}))
	defer Close()

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := stderr.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestInit_FileGetsEverything(t *testing.T) {
	var stderr bytes.Buffer
	dir := t.TempDir()
	require.NoError(t, Init(Options{Level: "error", Dir: dir, Stderr: &stderr}))

	Debug("debug message", "key", "value")
	WithTenant("univ-a").Info("scoped message")
	Close()

	content, err := os.ReadFile(filepath.Join(dir, todayFile()))
	require.NoError(t, err)
	assert.Contains(t, string(content), "debug message")
	assert.Contains(t, string(content), `"tenant":"univ-a"`)
	assert.Empty(t, stderr.String())
}

func TestInit_JSONAndInstance(t *testing.T) {
	var stderr bytes.Buffer
	require.NoError(t, Init(Options{Level: "info", JSONFormat: true, Stderr: &stderr}))
	defer Close()

	SetInstanceID("node-1")
	Info("hello")

	assert.Contains(t, stderr.String(), `"instance":"node-1"`)
	assert.Contains(t, stderr.String(), `"msg":"hello"`)
}

func TestInit_RejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init(Options{Level: "chatty"}))
}

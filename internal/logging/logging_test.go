package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewAppendsPlainTextLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "monitor.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("previous line\n"), 0o644))

	logger, closeFn, err := New(Options{File: path, Level: "info"})
	require.NoError(t, err)
	logger.Info("AUTH_RESTORED Authentication token refreshed successfully", zap.String("source", "refresh"))
	logger.Debug("hidden at info level")
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "previous line", lines[0])
	assert.Contains(t, lines[1], "INFO")
	assert.Contains(t, lines[1], "AUTH_RESTORED")
	assert.Contains(t, lines[1], `"source": "refresh"`)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"DEBUG":   zapcore.DebugLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/filtercam/internal/config"
)

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter(config.LogConfig{Level: "debug", Format: "text"}, &buf)
	require.NotNil(t, logger)

	logger.Debug("framepipeline: frame dropped", "seq", 7)
	assert.Contains(t, buf.String(), "framepipeline: frame dropped")
	assert.Contains(t, buf.String(), "seq=7")
}

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter(config.LogConfig{Level: "info", Format: "json"}, &buf)

	logger.Info("test-msg")
	assert.Contains(t, buf.String(), `"msg":"test-msg"`)
}

func TestSetup_SetsDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter(config.LogConfig{}, &buf)
	assert.Equal(t, logger.Handler(), slog.Default().Handler())
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter(config.LogConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("should-not-appear")
	logger.Warn("should-appear")
	assert.NotContains(t, buf.String(), "should-not-appear")
	assert.Contains(t, buf.String(), "should-appear")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

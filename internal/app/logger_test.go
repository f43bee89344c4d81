package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{AppEnv: "staging", LogFormat: "json", LogLevel: "warn"})

	logger.Info("dropped")
	require.Zero(t, buf.Len())

	logger.Warn("kept")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "kept", line["msg"])
	require.Equal(t, "staging", line["env"])
	require.Contains(t, line, "source")
}

func TestLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogLevel: "chatty"})

	logger.Debug("hidden")
	require.Zero(t, buf.Len())
	logger.Info("shown")
	require.Contains(t, buf.String(), "msg=shown")
}

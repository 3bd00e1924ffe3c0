package simplelogger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"DEBUG":   DebugLevel,
		"warn":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"info":    InfoLevel,
		"garbage": InfoLevel,
		"":        InfoLevel,
	}
	for name, want := range cases {
		assert.Equal(t, want, ParseLevel(name), "name=%s", name)
	}
}

func TestLoggerWritesOneJSONObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, InfoLevel)

	logger.Info("deliberation_started", map[string]interface{}{"session_id": "s1"})
	logger.Error("deliberation_failed", map[string]interface{}{"session_id": "s1", "error": "boom"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first logLine
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "INFO", first.Level)
	assert.Equal(t, "deliberation_started", first.Msg)
	assert.Equal(t, "s1", first.Fields["session_id"])

	var second logLine
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "ERROR", second.Level)
}

func TestLoggerSuppressesBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, WarnLevel)

	logger.Debug("ignored", nil)
	logger.Info("also ignored", nil)
	assert.Empty(t, buf.String())

	logger.Warn("kept", nil)
	assert.NotEmpty(t, buf.String())
}

func TestWithContextVariantsDelegateToPlainForm(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, DebugLevel)

	logger.InfoWithContext(context.Background(), "with_context", map[string]interface{}{"k": "v"})
	assert.Contains(t, buf.String(), "with_context")
}

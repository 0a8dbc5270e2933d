package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogger_LogAndTail(t *testing.T) {
	el := NewEventLogger(filepath.Join(t.TempDir(), "events.log"))

	lines, err := el.Tail(10)
	require.NoError(t, err)
	assert.Empty(t, lines)

	for i := 0; i < 5; i++ {
		el.Log("event %d", i)
	}
	lines, err = el.Tail(2)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], " - event 3"))
	assert.True(t, strings.HasSuffix(lines[1], " - event 4"))

	all, err := el.Tail(0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestEventLogger_Disabled(t *testing.T) {
	var nilLogger *EventLogger
	nilLogger.Log("ignored")
	NewEventLogger("").Log("ignored")
	lines, err := NewEventLogger("").Tail(5)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestNewLogger_JSONFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "diag.log")
	logger, closeFn, err := NewLogger(LoggerConfig{Level: "debug", Format: "json", Output: out})
	require.NoError(t, err)
	logger.Debug("hello", "gpio", 76)
	require.NoError(t, closeFn())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, float64(76), rec["gpio"])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLogLevel("debug").String())
	assert.Equal(t, "WARN", parseLogLevel("warning").String())
	assert.Equal(t, "ERROR", parseLogLevel("ERROR").String())
	assert.Equal(t, "INFO", parseLogLevel("").String())
}

package logging

import (
	"bytes"
	"testing"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	writer, level := loggerFactory.Writer, loggerFactory.DefaultLogLevel
	loggerFactory.Writer = &buf
	t.Cleanup(func() {
		loggerFactory.Writer = writer
		require.NoError(t, SetLevel(level.String()))
	})
	return &buf
}

func TestSetLevelAfterNewLogger(t *testing.T) {
	buf := captureOutput(t)
	require.NoError(t, SetLevel("error"))

	early := NewLogger("test/early")
	early.Debug("hidden")
	assert.Empty(t, buf.String())

	require.NoError(t, SetLevel("debug"))
	early.Debug("shown")
	assert.Contains(t, buf.String(), "test/early DEBUG")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	require.NoError(t, SetLevel("warn"))
	early.Info("hidden")
	NewLogger("test/late").Info("hidden")
	assert.Empty(t, buf.String())
}

func TestSetLevelKeepsScopeOverrides(t *testing.T) {
	buf := captureOutput(t)
	loggerFactory.ScopeLevels["test/pinned"] = logging.LogLevelError
	t.Cleanup(func() { delete(loggerFactory.ScopeLevels, "test/pinned") })

	pinned := NewLogger("test/pinned")
	require.NoError(t, SetLevel("trace"))
	pinned.Info("hidden")
	assert.Empty(t, buf.String())
}

func TestSetLevelUnknown(t *testing.T) {
	assert.Error(t, SetLevel("verbose"))
	assert.NoError(t, SetLevel(" INFO "))
}

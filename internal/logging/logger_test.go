package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaultConfig(t *testing.T) {
	logger := NewLogger(nil)
	require.NotNil(t, logger)
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should be filtered")
	logger.Info("should also be filtered")
	require.Empty(t, buf.String())

	logger.Warn("warn message", "key", "value")
	out := buf.String()
	require.Contains(t, out, "[WARN]")
	require.Contains(t, out, "warn message")
	require.Contains(t, out, "key=value")
}

func TestLoggerPrintfVariants(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Debugf("tag=%d", 7)
	require.Contains(t, buf.String(), "tag=7")

	buf.Reset()
	logger.Printf("via printf %s", "ok")
	require.Contains(t, buf.String(), "[INFO]")
	require.Contains(t, buf.String(), "via printf ok")
}

func TestDefaultLoggerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	prior := Default()
	t.Cleanup(func() { SetDefault(prior) })

	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
}

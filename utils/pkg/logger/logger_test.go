package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLake_Logger_FormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 5, 7, 8, 9, 123_456_789, time.FixedZone("EST", -5*3600))
	require.Equal(t, "2024-03-05T12:08:09.123Z", formatRFC3339Millis(ts))
}

func TestLake_Logger_NewWithWriter(t *testing.T) {
	t.Parallel()

	t.Run("info level hides debug", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := NewWithWriter(&buf, false)
		log.Debug("hidden message")
		log.Info("visible message", "partition", "2023/yellow")
		out := buf.String()
		require.NotContains(t, out, "hidden message")
		require.Contains(t, out, "visible message")
		require.Contains(t, out, "partition=2023/yellow")
	})

	t.Run("verbose shows debug", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := NewWithWriter(&buf, true)
		log.Debug("debug message")
		require.Contains(t, buf.String(), "debug message")
	})

	t.Run("empty string attrs are dropped", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := NewWithWriter(&buf, false)
		log.Info("message", "empty", "", "kept", "x")
		require.NotContains(t, buf.String(), "empty=")
		require.Contains(t, buf.String(), "kept=x")
	})
}

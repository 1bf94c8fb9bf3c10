package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogServiceLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogServiceLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	t.Run("info with fields", func(t *testing.T) {
		buf.Reset()
		logger.Info("published", LogFields{"stream": "platform:events"})
		assert.Contains(t, buf.String(), `"msg":"published"`)
		assert.Contains(t, buf.String(), `"stream":"platform:events"`)
	})

	t.Run("error attaches error field", func(t *testing.T) {
		buf.Reset()
		logger.Error("append failed", errors.New("store unavailable"), nil)
		assert.Contains(t, buf.String(), `"error":"store unavailable"`)
	})

	t.Run("with carries fields forward", func(t *testing.T) {
		buf.Reset()
		logger.With(LogFields{"group": "audit"}).Warn("redelivery", nil)
		assert.Contains(t, buf.String(), `"group":"audit"`)
	})
}

func TestNewSlogServiceLogger_NilPanics(t *testing.T) {
	require.Panics(t, func() { NewSlogServiceLogger(nil) })
}

func TestNop(t *testing.T) {
	logger := Nop()
	// Must not panic and With must keep returning a usable logger.
	logger.With(LogFields{"k": "v"}).Debug("ignored", nil)
	logger.Info("ignored", nil)
	logger.Warn("ignored", nil)
	logger.Error("ignored", errors.New("x"), nil)
}

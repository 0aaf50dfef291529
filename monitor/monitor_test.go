package monitor

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlogMonitor(t *testing.T) {
	t.Run("captured errors are logged", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		m := NewSlogMonitor(logger)

		m.CaptureError(errors.New("pipeline stage failed"))
		assert.Contains(t, buf.String(), "pipeline stage failed")
	})

	t.Run("nil errors are ignored", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		m := NewSlogMonitor(logger)

		m.CaptureError(nil)
		assert.Empty(t, buf.String())
	})

	t.Run("breadcrumbs carry category and message", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		m := NewSlogMonitor(logger)

		m.AddBreadcrumb("queue", "evicted expired message")
		out := buf.String()
		assert.Contains(t, out, "queue")
		assert.Contains(t, out, "evicted expired message")
	})

	t.Run("nil logger falls back to the default", func(t *testing.T) {
		m := NewSlogMonitor(nil)
		assert.NotPanics(t, func() {
			m.CaptureError(errors.New("boom"))
			m.AddBreadcrumb("test", "ok")
		})
	})
}

func TestNop(t *testing.T) {
	t.Run("discards everything", func(t *testing.T) {
		var m Monitor = Nop{}
		assert.NotPanics(t, func() {
			m.CaptureError(errors.New("boom"))
			m.AddBreadcrumb("test", "ok")
		})
	})
}

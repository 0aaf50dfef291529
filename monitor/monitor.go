// Package monitor defines the observability surface used by the relay
// pipeline. Every handled failure (validation, compression, encryption,
// queue-full, timeout) is reported here; production paths never log to
// stdout directly.
package monitor

import "log/slog"

// Monitor receives errors and breadcrumbs from pipeline components.
type Monitor interface {
	// CaptureError reports a handled failure.
	CaptureError(err error)

	// AddBreadcrumb records a low-severity trail event for diagnostics.
	AddBreadcrumb(category, message string)
}

// SlogMonitor reports captured errors and breadcrumbs through slog.
type SlogMonitor struct {
	logger *slog.Logger
}

// NewSlogMonitor creates a monitor backed by the given logger.
func NewSlogMonitor(logger *slog.Logger) *SlogMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogMonitor{logger: logger}
}

// CaptureError implements Monitor.
func (m *SlogMonitor) CaptureError(err error) {
	if err == nil {
		return
	}
	m.logger.Error("captured error", "error", err)
}

// AddBreadcrumb implements Monitor.
func (m *SlogMonitor) AddBreadcrumb(category, message string) {
	m.logger.Debug("breadcrumb", "category", category, "message", message)
}

// Nop discards all monitoring calls. Useful as a default and in tests.
type Nop struct{}

// CaptureError implements Monitor.
func (Nop) CaptureError(error) {}

// AddBreadcrumb implements Monitor.
func (Nop) AddBreadcrumb(string, string) {}

package telemetry

import (
	"context"
	"time"
)

// NoopLogger discards every log message. It backs optional Logger fields so
// call sites never nil-check.
type NoopLogger struct{}

// NoopMetrics discards every recorded metric.
type NoopMetrics struct{}

// NewNoopLogger returns a Logger that drops everything.
func NewNoopLogger() Logger {
	return NoopLogger{}
}

// NewNoopMetrics returns a Metrics recorder that drops everything.
func NewNoopMetrics() Metrics {
	return NoopMetrics{}
}

func (NoopLogger) Debug(context.Context, string, ...any) {}

func (NoopLogger) Info(context.Context, string, ...any) {}

func (NoopLogger) Warn(context.Context, string, ...any) {}

func (NoopLogger) Error(context.Context, string, ...any) {}

func (NoopMetrics) IncCounter(string, float64, ...string) {}

func (NoopMetrics) RecordTimer(string, time.Duration, ...string) {}

func (NoopMetrics) RecordGauge(string, float64, ...string) {}

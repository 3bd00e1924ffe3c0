package deliberation

import "context"

// Logger is the minimal structured-logging interface every handler and
// the orchestrator accept. Components never require a logger to be
// wired — every constructor defaults to NoOpLogger, mirroring
// core.Logger/NoOpLogger. The orchestrator and the handlers also
// nil-check before use; JobDispatcher does not.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// NoOpLogger discards everything. It is the zero-configuration default.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

// Span represents one telemetry span.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// Telemetry is the optional tracing/metrics port. The orchestrator opens
// one span per Orchestrate call and TimeoutHandler one per Schedule,
// Cancel and Handle; no component in this package calls RecordMetric.
// None of this is on the correctness path, so a NoOpTelemetry default is
// always safe.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// NoOpSpan discards everything.
type NoOpSpan struct{}

func (NoOpSpan) End()                                  {}
func (NoOpSpan) SetAttribute(string, interface{})      {}
func (NoOpSpan) RecordError(error)                     {}

// NoOpTelemetry discards everything.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, NoOpSpan{}
}
func (NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

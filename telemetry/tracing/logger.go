// Package tracing records log lines onto the active tracing span, so one
// reaction cycle's span carries the full log story of that cycle.
package tracing

import (
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	infoEventName  = "info"
	errorEventName = "error"

	messageKey   = "message"
	eventTypeKey = "event.type"
	nonStringKey = "non-string"

	logEventTypeValue = "log"
)

// TracingLogger is a logr.Logger that duplicates every line onto a span as
// an event, keeping the regular log output untouched.
type TracingLogger struct {
	logr.Logger
	trace.Span
}

// NewLogger wraps a logger and a span together.
func NewLogger(logger logr.Logger, span trace.Span) *TracingLogger {
	return &TracingLogger{Logger: logger, Span: span}
}

// Info implements the Logger interface.
func (t TracingLogger) Info(msg string, keysAndValues ...interface{}) {
	t.Logger.Info(msg, keysAndValues...)
	t.Span.AddEvent(infoEventName, trace.WithAttributes(t.eventAttrs(msg, keysAndValues...)...))
}

// Error implements the Logger interface.
func (t TracingLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	t.Logger.Error(err, msg, keysAndValues...)
	t.Span.AddEvent(errorEventName, trace.WithAttributes(t.eventAttrs(msg, keysAndValues...)...))
	t.Span.RecordError(err)
}

// V implements the Logger interface.
func (t TracingLogger) V(level int) logr.Logger {
	return TracingLogger{Logger: t.Logger.V(level), Span: t.Span}
}

// WithValues implements the Logger interface.
func (t TracingLogger) WithValues(keysAndValues ...interface{}) logr.Logger {
	t.Span.SetAttributes(keyValues(keysAndValues...)...)
	return TracingLogger{Logger: t.Logger.WithValues(keysAndValues...), Span: t.Span}
}

// WithName implements the Logger interface.
func (t TracingLogger) WithName(name string) logr.Logger {
	t.Span.SetAttributes(attribute.String("name", name))
	return TracingLogger{Logger: t.Logger.WithName(name), Span: t.Span}
}

// eventAttrs builds the attributes of one log-line event: the message, the
// marker that distinguishes log events from other span events, and the
// key/value pairs of the line.
func (t TracingLogger) eventAttrs(msg string, keysAndValues ...interface{}) []attribute.KeyValue {
	return append(
		[]attribute.KeyValue{
			attribute.String(messageKey, msg),
			attribute.String(eventTypeKey, logEventTypeValue),
		},
		keyValues(keysAndValues...)...,
	)
}

// keyValues converts logr key/value pairs into opentelemetry attributes.
func keyValues(keysAndValues ...interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = nonStringKey
		}
		attrs = append(attrs, attribute.Any(key, keysAndValues[i+1]))
	}
	return attrs
}

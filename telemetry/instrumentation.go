// Package telemetry bundles a named tracer with a logger, so that one Start
// call opens a span and yields a logger whose lines land both in the log
// stream and on the span as events.
package telemetry

import (
	"context"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/kubereactor/kreactor/telemetry/tracing"
)

// Name of the logger library key.
const logLibraryKey = "library"

// Instrumentation pairs a tracer with a logger under one instrumentation
// name.
type Instrumentation struct {
	tracer trace.Tracer
	log    logr.Logger
}

// NewInstrumentation creates an instrumentation from the global tracer
// provider. The logger may be nil for the default delegating logger.
func NewInstrumentation(name string, log logr.Logger) *Instrumentation {
	if log == nil {
		log = ctrl.Log
	}
	return &Instrumentation{
		tracer: otel.Tracer(name),
		log:    log.WithValues(logLibraryKey, name),
	}
}

// Start opens a span and returns a span-recording logger for it. The caller
// owns the span and must End it.
func (i *Instrumentation) Start(ctx context.Context, name string, opts ...trace.SpanOption) (context.Context, trace.Span, logr.Logger) {
	ctx, span := i.tracer.Start(ctx, name, opts...)
	return ctx, span, tracing.NewLogger(i.log.WithValues("spanName", name), span)
}

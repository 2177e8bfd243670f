package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WithSpan runs work inside a new span named name.
//
// The span is the active span in the context passed to work and is ended on
// every exit path. An error returned by work, or a panic raised by it, is
// recorded on the span, sets its status to Error and is returned to the
// caller. A panic is returned as an error, never re-raised.
func WithSpan[T any](ctx context.Context, tracer trace.Tracer, name string, work func(ctx context.Context, span trace.Span) (T, error), opts ...trace.SpanStartOption) (result T, err error) {
	ctx, span := tracer.Start(ctx, name, opts...)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = fmt.Errorf("panic: %v", r)
		}
		RecordError(span, err)
	}()
	return work(ctx, span)
}

// RecordError records err as an exception event on span and marks the span
// as failed. It is a no-op for a nil span or error.
func RecordError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	opts := make([]trace.EventOption, 0, 1)
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}

package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for workforce spans and metrics.
var (
	AttrEmployeeID = attribute.Key("workforce.employee.id")
	AttrTaskID     = attribute.Key("workforce.task.id")
	AttrSessionKey = attribute.Key("workforce.session.key")
	AttrStream     = attribute.Key("workforce.event.stream")
	AttrOutcome    = attribute.Key("workforce.event.outcome")
	AttrTopic      = attribute.Key("workforce.broadcast.topic")
	AttrStatus     = attribute.Key("workforce.task.status")
	AttrToolName   = attribute.Key("workforce.tool.name")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (Gateway).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

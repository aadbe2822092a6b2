package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span as failed. A nil error leaves the span untouched.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// SetRunOutcome annotates the span with the final status of a dispatch.
func SetRunOutcome(span trace.Span, status string, runID string) {
	span.SetAttributes(
		attribute.String("flowpages.run.status", status),
		attribute.String(RunIDKey, runID),
	)

	if status == "error" {
		span.SetStatus(codes.Error, "workflow run failed")
	}
}

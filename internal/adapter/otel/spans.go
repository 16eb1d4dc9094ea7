package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "iotbridge"

// StartApprovalSpan starts a span for a JOIN approval.
func StartApprovalSpan(ctx context.Context, tenantID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "join.approve",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
}

// StartStepSpan starts a span for one provisioning step of an approval.
func StartStepSpan(ctx context.Context, tenantID, step string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "join.step."+step,
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("step", step),
		),
	)
}

// StartEnrollSpan starts a span for a device enrollment.
func StartEnrollSpan(ctx context.Context, deviceID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "device.enroll",
		trace.WithAttributes(attribute.String("device.id", deviceID)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

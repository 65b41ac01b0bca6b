package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier/job"
)

const instrumentationName = "github.com/xraph/courier"

// SpanName is the name of the span opened around each step.
const SpanName = "courier.job.execute"

// Tracing opens a span per step on the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer opens a span per step on tracer. Spans carry the job,
// transaction, subscriber and step; failed spans also carry
// courier.error.stage.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("courier.job.id", j.ID.String()),
			attribute.String("courier.transaction_id", j.TransactionID),
			attribute.String("courier.subscriber_id", j.SubscriberID),
			attribute.String("courier.step.type", string(j.Type)),
			attribute.Int("courier.step.index", j.StepIndex),
		}
		if !j.PredecessorID.IsNil() {
			attrs = append(attrs, attribute.String("courier.job.predecessor_id", j.PredecessorID.String()))
		}
		ctx, span := tracer.Start(ctx, SpanName, trace.WithAttributes(attrs...))
		defer span.End()

		err := next(ctx)
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return nil
		}
		if stage := failureStage(err); stage != "" {
			span.SetAttributes(attribute.String("courier.error.stage", stage))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}

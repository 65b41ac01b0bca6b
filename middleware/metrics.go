package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/courier/job"
)

// Metrics records step duration and executions on the global MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter records courier.job.duration (seconds) and
// courier.job.executions on meter. Data points carry step_type and status
// ("ok" or "error"); failures from a step handler add stage.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors still return usable noop instruments.
	duration, _ := meter.Float64Histogram("courier.job.duration",
		metric.WithDescription("Time spent running a step"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter("courier.job.executions",
		metric.WithDescription("Steps executed"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		took := time.Since(start)

		attrs := []attribute.KeyValue{attribute.String("step_type", string(j.Type))}
		if err != nil {
			attrs = append(attrs, attribute.String("status", "error"))
			if stage := failureStage(err); stage != "" {
				attrs = append(attrs, attribute.String("stage", stage))
			}
		} else {
			attrs = append(attrs, attribute.String("status", "ok"))
		}
		set := metric.WithAttributes(attrs...)
		duration.Record(ctx, took.Seconds(), set)
		executions.Add(ctx, 1, set)
		return err
	}
}

package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/xraph/courier/observability"

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.TriggerCompiled = (*MetricsExtension)(nil)
	_ ext.JobQueued       = (*MetricsExtension)(nil)
	_ ext.JobDelayed      = (*MetricsExtension)(nil)
	_ ext.JobCompleted    = (*MetricsExtension)(nil)
	_ ext.JobFailed       = (*MetricsExtension)(nil)
	_ ext.JobCanceled     = (*MetricsExtension)(nil)
	_ ext.MessageSent     = (*MetricsExtension)(nil)
)

// MetricsExtension counts lifecycle events on OTel counters.
type MetricsExtension struct {
	TriggerCompiled metric.Int64Counter
	JobQueued       metric.Int64Counter
	JobDelayed      metric.Int64Counter
	JobCompleted    metric.Int64Counter
	JobFailed       metric.Int64Counter
	JobCanceled     metric.Int64Counter
	MessageSent     metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithProvider creates a MetricsExtension on mp.
func NewMetricsExtensionWithProvider(mp metric.MeterProvider) *MetricsExtension {
	return NewMetricsExtensionWithMeter(mp.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The API returns a usable noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		TriggerCompiled: counter("courier.trigger.compiled", "Triggers compiled into jobs"),
		JobQueued:       counter("courier.job.queued", "Jobs moved to queued"),
		JobDelayed:      counter("courier.job.delayed", "Deferred jobs moved to delayed"),
		JobCompleted:    counter("courier.job.completed", "Jobs whose step succeeded"),
		JobFailed:       counter("courier.job.failed", "Jobs whose step failed"),
		JobCanceled:     counter("courier.job.canceled", "Jobs canceled before running"),
		MessageSent:     counter("courier.message.sent", "Messages delivered"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func stepAttr(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("step_type", string(j.Type)))
}

// OnTriggerCompiled implements ext.TriggerCompiled.
func (m *MetricsExtension) OnTriggerCompiled(ctx context.Context, _ string, _ []*job.Job) error {
	m.TriggerCompiled.Add(ctx, 1)
	return nil
}

// OnJobQueued implements ext.JobQueued.
func (m *MetricsExtension) OnJobQueued(ctx context.Context, j *job.Job) error {
	m.JobQueued.Add(ctx, 1, stepAttr(j))
	return nil
}

// OnJobDelayed implements ext.JobDelayed.
func (m *MetricsExtension) OnJobDelayed(ctx context.Context, j *job.Job, _ time.Time) error {
	m.JobDelayed.Add(ctx, 1, stepAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, stepAttr(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, stepAttr(j))
	return nil
}

// OnJobCanceled implements ext.JobCanceled.
func (m *MetricsExtension) OnJobCanceled(ctx context.Context, j *job.Job) error {
	m.JobCanceled.Add(ctx, 1, stepAttr(j))
	return nil
}

// OnMessageSent implements ext.MessageSent.
func (m *MetricsExtension) OnMessageSent(ctx context.Context, msg *message.Message) error {
	m.MessageSent.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", string(msg.Channel))))
	return nil
}

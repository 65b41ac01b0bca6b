package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/step"
)

func setup() (*sdkmetric.ManualReader, *observability.MetricsExtension) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, observability.NewMetricsExtensionWithProvider(mp)
}

// counts sums every Int64 counter by name.
func counts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func TestMetricsExtension_Name(t *testing.T) {
	_, e := setup()
	if e.Name() != "observability-metrics" {
		t.Errorf("Name = %q", e.Name())
	}
}

func TestMetricsExtension_CountsThroughRegistry(t *testing.T) {
	reader, e := setup()
	r := ext.NewRegistry(slog.Default())
	r.Register(e)

	ctx := context.Background()
	sms := &job.Job{ID: id.NewJobID(), Type: step.SMS}
	delay := &job.Job{ID: id.NewJobID(), Type: step.Delay}

	r.EmitTriggerCompiled(ctx, "txn", []*job.Job{sms, delay})
	r.EmitJobQueued(ctx, sms)
	r.EmitJobDelayed(ctx, delay, time.Now())
	r.EmitJobQueued(ctx, delay)
	r.EmitJobCompleted(ctx, sms, time.Millisecond)
	r.EmitJobCompleted(ctx, delay, time.Millisecond)
	r.EmitJobFailed(ctx, sms, errors.New("boom"))
	r.EmitJobCanceled(ctx, sms)
	r.EmitMessageSent(ctx, &message.Message{Channel: step.SMS})

	want := map[string]int64{
		"courier.trigger.compiled": 1,
		"courier.job.queued":       2,
		"courier.job.delayed":      1,
		"courier.job.completed":    2,
		"courier.job.failed":       1,
		"courier.job.canceled":     1,
		"courier.message.sent":     1,
	}
	got := counts(t, reader)
	for name, n := range want {
		if got[name] != n {
			t.Errorf("%s = %d, want %d", name, got[name], n)
		}
	}
}

func TestMetricsExtension_StepTypeAttribute(t *testing.T) {
	reader, e := setup()
	ctx := context.Background()
	_ = e.OnJobQueued(ctx, &job.Job{Type: step.Email})
	_ = e.OnJobQueued(ctx, &job.Job{Type: step.Email})
	_ = e.OnJobQueued(ctx, &job.Job{Type: step.Push})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	byType := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "courier.job.queued" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				v, _ := dp.Attributes.Value("step_type")
				byType[v.AsString()] += dp.Value
			}
		}
	}
	if byType["email"] != 2 || byType["push"] != 1 {
		t.Errorf("queued by step type = %v", byType)
	}
}

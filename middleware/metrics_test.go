package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/courier"
	mw "github.com/xraph/courier/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func stringAttrs(attrs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if a.Value.Type() == attribute.STRING {
			out[string(a.Key)] = a.Value.AsString()
		}
	}
	return out
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	_ = mw.MetricsWithMeter(mp.Meter("test"))(context.Background(), newTestJob(), func(context.Context) error {
		return nil
	})

	m := findMetric(collectMetrics(t, reader), "courier.job.duration")
	if m == nil {
		t.Fatal("courier.job.duration metric not found")
	}
	hist, ok := m.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("unexpected data points: %+v", hist.DataPoints)
	}
	attrs := stringAttrs(hist.DataPoints[0].Attributes.ToSlice())
	if attrs["step_type"] != "sms" || attrs["status"] != "ok" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestMetrics_RecordsExecutions(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status string
	}{
		{"success", nil, "ok"},
		{"failure", errors.New("boom"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, mp := setupTestMeter()
			err := mw.MetricsWithMeter(mp.Meter("test"))(context.Background(), newTestJob(), func(context.Context) error {
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}

			m := findMetric(collectMetrics(t, reader), "courier.job.executions")
			if m == nil {
				t.Fatal("courier.job.executions metric not found")
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatal("expected Sum[int64] data type")
			}
			if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
				t.Fatalf("unexpected data points: %+v", sum.DataPoints)
			}
			attrs := stringAttrs(sum.DataPoints[0].Attributes.ToSlice())
			if attrs["status"] != tt.status || attrs["step_type"] != "sms" {
				t.Errorf("attributes = %v, want status=%s step_type=sms", attrs, tt.status)
			}
		})
	}
}

func TestMetrics_DefaultNoopSafe(t *testing.T) {
	called := false
	err := mw.Metrics()(context.Background(), newTestJob(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("called=%v err=%v", called, err)
	}
}

func TestMetrics_StageOnExecutionError(t *testing.T) {
	reader, mp := setupTestMeter()
	failure := &courier.ExecutionError{Stage: courier.StageRender, Err: errors.New("bad template")}
	_ = mw.MetricsWithMeter(mp.Meter("test"))(context.Background(), newTestJob(), func(context.Context) error {
		return failure
	})

	m := findMetric(collectMetrics(t, reader), "courier.job.executions")
	if m == nil {
		t.Fatal("courier.job.executions metric not found")
	}
	sum := m.Data.(metricdata.Sum[int64])
	attrs := stringAttrs(sum.DataPoints[0].Attributes.ToSlice())
	if attrs["stage"] != courier.StageRender || attrs["status"] != "error" {
		t.Errorf("attributes = %v, want stage=render status=error", attrs)
	}
}

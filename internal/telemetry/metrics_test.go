package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNormalizeResult(t *testing.T) {
	tests := map[string]string{
		"":        "unknown",
		"success": "success",
		"FAILURE": "failure",
		"partial": "unknown",
	}
	for in, want := range tests {
		if got := normalizeResult(in); got != want {
			t.Errorf("normalizeResult(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResultFor(t *testing.T) {
	require.Equal(t, "success", ResultFor(nil))
	require.Equal(t, "failure", ResultFor(errors.New("boom")))
}

func TestLatencyBuckets(t *testing.T) {
	if len(LatencyBucketsSeconds) == 0 {
		t.Fatal("LatencyBucketsSeconds must not be empty")
	}
	for i := 1; i < len(LatencyBucketsSeconds); i++ {
		if LatencyBucketsSeconds[i] <= LatencyBucketsSeconds[i-1] {
			t.Fatalf("buckets must be strictly increasing: %v", LatencyBucketsSeconds)
		}
	}
}

func newTestMeterProvider(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return mp, reader
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestInstrumentsRecord(t *testing.T) {
	mp, reader := newTestMeterProvider(t)
	inst, err := NewInstruments(mp.Meter(InstrumentationName))
	require.NoError(t, err)
	defer inst.Close()

	ctx := context.Background()
	inst.RecordDemoRun(ctx, "success")
	inst.RecordDemoRun(ctx, "success")
	inst.RecordFetch(ctx, "fetch-endpoint-a", "failure", 1500*time.Millisecond)
	inst.RecordCombine(ctx, "success", time.Second)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	runs, ok := findMetric(rm, "app.demo.runs")
	require.True(t, ok)
	sum := runs.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	require.EqualValues(t, 2, sum.DataPoints[0].Value)

	fetch, ok := findMetric(rm, "app.demo.fetch.duration")
	require.True(t, ok)
	hist := fetch.Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)
	require.EqualValues(t, 1, hist.DataPoints[0].Count)
	endpoint, ok := hist.DataPoints[0].Attributes.Value(attrEndpoint)
	require.True(t, ok)
	require.Equal(t, "fetch-endpoint-a", endpoint.AsString())
}

func TestInstrumentsObserveStore(t *testing.T) {
	mp, reader := newTestMeterProvider(t)
	inst, err := NewInstruments(mp.Meter(InstrumentationName))
	require.NoError(t, err)

	size := 0
	inst.SetStoreSizer(func() int { return size })
	size = 7

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	entries, ok := findMetric(rm, "app.store.entries")
	require.True(t, ok)
	gauge := entries.Data.(metricdata.Gauge[int64])
	require.Len(t, gauge.DataPoints, 1)
	require.EqualValues(t, 7, gauge.DataPoints[0].Value)

	require.NoError(t, inst.Close())
}

func TestNilInstrumentsAreInert(t *testing.T) {
	var inst *Instruments
	ctx := context.Background()
	inst.RecordDemoRun(ctx, "success")
	inst.RecordFetch(ctx, "a", "success", time.Second)
	inst.RecordCombine(ctx, "failure", time.Second)
	inst.SetStoreSizer(func() int { return 1 })
	require.NoError(t, inst.Close())
}

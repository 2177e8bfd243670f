package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func addCounter(ctx context.Context, counter metric.Int64Counter, value int64, attrs ...attribute.KeyValue) {
	if counter == nil || value == 0 {
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

func recordHistogram(ctx context.Context, hist metric.Float64Histogram, value float64, attrs ...attribute.KeyValue) {
	if hist == nil {
		return
	}
	hist.Record(ctx, value, metric.WithAttributes(attrs...))
}

// ResultFor maps an error to the "success"/"failure" result label.
func ResultFor(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func normalizeResult(result string) string {
	switch strings.ToLower(result) {
	case "success":
		return "success"
	case "failure":
		return "failure"
	default:
		return "unknown"
	}
}

func normalizeLower(value, fallback string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

// RecordDemoRun counts one tracing demo execution. The result reflects the
// combine and store step.
func (i *Instruments) RecordDemoRun(ctx context.Context, result string) {
	if i == nil {
		return
	}
	addCounter(ctx, i.demoRuns, 1, attrResult.String(normalizeResult(result)))
}

// RecordFetch records the latency of one endpoint fetch.
func (i *Instruments) RecordFetch(ctx context.Context, endpoint, result string, d time.Duration) {
	if i == nil || d < 0 {
		return
	}
	recordHistogram(ctx, i.fetchDuration, d.Seconds(),
		attrEndpoint.String(normalizeLower(endpoint, "unknown")),
		attrResult.String(normalizeResult(result)),
	)
}

// RecordCombine records the latency of the combine and store step.
func (i *Instruments) RecordCombine(ctx context.Context, result string, d time.Duration) {
	if i == nil || d < 0 {
		return
	}
	recordHistogram(ctx, i.combineDuration, d.Seconds(), attrResult.String(normalizeResult(result)))
}

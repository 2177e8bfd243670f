package telemetry

import (
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Span and metric attribute keys.
var (
	AttrEndpointURL    = attribute.Key("endpoint.url")
	AttrDelayMS        = attribute.Key("delay.ms")
	AttrResponseLength = attribute.Key("response.length")
	AttrStoreTimestamp = attribute.Key("store.timestamp")
	AttrStoreSize      = attribute.Key("store.size")
	AttrPollCount      = attribute.Key("poll.count")

	attrEndpoint = attribute.Key("endpoint")
	attrResult   = attribute.Key("result")
)

// Instruments holds the demo specific instruments. A nil *Instruments is
// valid and records nothing.
type Instruments struct {
	demoRuns        metric.Int64Counter
	fetchDuration   metric.Float64Histogram
	combineDuration metric.Float64Histogram
	storeEntries    metric.Int64ObservableGauge

	storeSizer   atomic.Value
	registration metric.Registration
}

// NewInstruments creates the demo instruments on m and registers the
// observable gauge callback.
func NewInstruments(m metric.Meter) (*Instruments, error) {
	var err error
	i := &Instruments{}

	if i.demoRuns, err = m.Int64Counter("app.demo.runs", metric.WithDescription("Tracing demo executions.")); err != nil {
		return nil, err
	}
	if i.fetchDuration, err = m.Float64Histogram("app.demo.fetch.duration", metric.WithDescription("Endpoint fetch latency including the simulated delay."), metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(LatencyBucketsSeconds...)); err != nil {
		return nil, err
	}
	if i.combineDuration, err = m.Float64Histogram("app.demo.combine.duration", metric.WithDescription("Combine and store latency."), metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(LatencyBucketsSeconds...)); err != nil {
		return nil, err
	}
	if i.storeEntries, err = m.Int64ObservableGauge("app.store.entries", metric.WithDescription("Entries held by the in-memory result store.")); err != nil {
		return nil, err
	}

	if i.registration, err = initCollectors(m, i); err != nil {
		return nil, err
	}
	return i, nil
}

// Close unregisters the observable callbacks.
func (i *Instruments) Close() error {
	if i == nil || i.registration == nil {
		return nil
	}
	return i.registration.Unregister()
}

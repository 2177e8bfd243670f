package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// StoreSizer reports the number of entries held by the result store.
type StoreSizer func() int

// SetStoreSizer registers the result store size provider.
func (i *Instruments) SetStoreSizer(fn StoreSizer) {
	if i == nil || fn == nil {
		return
	}
	i.storeSizer.Store(fn)
}

func initCollectors(m metric.Meter, i *Instruments) (metric.Registration, error) {
	return m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		observeStore(o, i)
		return nil
	}, i.storeEntries)
}

func observeStore(o metric.Observer, i *Instruments) {
	val := i.storeSizer.Load()
	if val == nil {
		return
	}
	fn, ok := val.(StoreSizer)
	if !ok || fn == nil {
		return
	}
	o.ObserveInt64(i.storeEntries, int64(fn()))
}

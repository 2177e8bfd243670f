// Package demo runs the tracing demo: two concurrent endpoint fetches joined
// into a combine and store step, each wrapped in its own span.
package demo

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fosrl/tracedemo/internal/logging"
	"github.com/fosrl/tracedemo/internal/telemetry"
)

// Fixed endpoints fetched on every run.
const (
	EndpointAURL = "https://httpbin.org/get?source=endpointA"
	EndpointBURL = "https://jsonplaceholder.typicode.com/todos/1"
)

// Span names.
const (
	SpanFetchA  = "fetch-endpoint-a"
	SpanFetchB  = "fetch-endpoint-b"
	SpanCombine = "combine-and-store"
)

// FailedSave is reported as SavedAt when combine and store fails.
const FailedSave int64 = -1

const (
	endpointADelay = 1500 * time.Millisecond
	endpointBDelay = 3000 * time.Millisecond
	combineDelay   = 1000 * time.Millisecond

	resultLimit  = 200
	combineLimit = 100
)

// Fetcher performs a single GET.
type Fetcher interface {
	Get(ctx context.Context, url string) (string, error)
}

// Store records combined results keyed by millisecond timestamp.
type Store interface {
	Put(ts int64, value string)
	Len() int
}

// Result is the outcome of one demo run.
type Result struct {
	EndpointA     string `json:"endpointA"`
	EndpointB     string `json:"endpointB"`
	SavedAt       int64  `json:"savedAt"`
	StoredEntries int    `json:"storedEntries"`
}

type endpoint struct {
	span  string
	url   string
	delay time.Duration
}

// Demo orchestrates the fetches and the combine step.
type Demo struct {
	tracer  trace.Tracer
	fetcher Fetcher
	store   Store
	inst    *telemetry.Instruments
	log     zerolog.Logger

	endpoints    [2]endpoint
	combineDelay time.Duration
	now          func() time.Time
}

// New returns a Demo fetching the fixed endpoints. inst may be nil.
func New(tracer trace.Tracer, fetcher Fetcher, store Store, inst *telemetry.Instruments, log zerolog.Logger) *Demo {
	inst.SetStoreSizer(store.Len)
	return &Demo{
		tracer:  tracer,
		fetcher: fetcher,
		store:   store,
		inst:    inst,
		log:     log.With().Str("component", "demo").Logger(),
		endpoints: [2]endpoint{
			{span: SpanFetchA, url: EndpointAURL, delay: endpointADelay},
			{span: SpanFetchB, url: EndpointBURL, delay: endpointBDelay},
		},
		combineDelay: combineDelay,
		now:          time.Now,
	}
}

// Execute fetches both endpoints concurrently, waits for both and stores
// the combined result. Failures are reported inside the Result, never as an
// error.
//
// The run always completes: cancellation of ctx is ignored, its trace parent
// is kept.
func (d *Demo) Execute(ctx context.Context) Result {
	ctx = context.WithoutCancel(ctx)
	log := logging.WithTrace(ctx, d.log)
	log.Info().Msg("tracing demo started")

	// A plain Group: one failed fetch never cancels the other.
	var (
		g       errgroup.Group
		results [2]string
	)
	for i, ep := range d.endpoints {
		g.Go(func() error {
			results[i] = d.fetchEndpoint(ctx, ep)
			return nil
		})
	}
	// Fetch errors are folded into results, so Wait never fails.
	g.Wait()

	savedAt := d.combineAndStore(ctx, results[0], results[1])
	res := Result{
		EndpointA:     results[0],
		EndpointB:     results[1],
		SavedAt:       savedAt,
		StoredEntries: d.store.Len(),
	}

	runResult := "success"
	if savedAt == FailedSave {
		runResult = "failure"
	}
	d.inst.RecordDemoRun(ctx, runResult)

	log.Info().
		Int64("saved_at", res.SavedAt).
		Int("stored_entries", res.StoredEntries).
		Msg("tracing demo completed")
	return res
}

func (d *Demo) fetchEndpoint(ctx context.Context, ep endpoint) string {
	start := time.Now()
	var sc trace.SpanContext
	body, err := telemetry.WithSpan(ctx, d.tracer, ep.span, func(ctx context.Context, span trace.Span) (string, error) {
		sc = span.SpanContext()
		log := logging.WithTrace(ctx, d.log).With().Str("span", ep.span).Logger()
		log.Info().
			Str("url", ep.url).
			Int64("delay_ms", ep.delay.Milliseconds()).
			Msg("fetch started")

		if err := sleep(ctx, ep.delay); err != nil {
			return "", err
		}
		body, err := d.fetcher.Get(ctx, ep.url)
		if err != nil {
			return "", err
		}

		length := utf8.RuneCountInString(body)
		span.SetAttributes(telemetry.AttrResponseLength.Int(length))
		log.Info().Int("chars", length).Msg("fetch ended")
		return truncate(body, resultLimit), nil
	}, trace.WithAttributes(
		telemetry.AttrEndpointURL.String(ep.url),
		telemetry.AttrDelayMS.Int64(ep.delay.Milliseconds()),
	))
	d.inst.RecordFetch(ctx, ep.span, telemetry.ResultFor(err), time.Since(start))

	if err != nil {
		logging.WithTrace(trace.ContextWithSpanContext(ctx, sc), d.log).Error().
			Err(err).
			Str("span", ep.span).
			Msg("fetch failed")
		return "error: " + err.Error()
	}
	return body
}

func (d *Demo) combineAndStore(ctx context.Context, a, b string) int64 {
	start := time.Now()
	var sc trace.SpanContext
	ts, err := telemetry.WithSpan(ctx, d.tracer, SpanCombine, func(ctx context.Context, span trace.Span) (int64, error) {
		sc = span.SpanContext()
		log := logging.WithTrace(ctx, d.log)
		log.Info().Msg("combine-and-store started")

		if err := sleep(ctx, d.combineDelay); err != nil {
			return FailedSave, err
		}

		ts := d.now().UnixMilli()
		d.store.Put(ts, Combine(a, b))
		size := d.store.Len()

		span.SetAttributes(
			telemetry.AttrStoreTimestamp.Int64(ts),
			telemetry.AttrStoreSize.Int(size),
		)
		log.Info().Int64("saved_at", ts).Int("store_size", size).Msg("combine-and-store ended")
		return ts, nil
	})
	d.inst.RecordCombine(ctx, telemetry.ResultFor(err), time.Since(start))

	if err != nil {
		logging.WithTrace(trace.ContextWithSpanContext(ctx, sc), d.log).Error().
			Err(err).
			Msg("combine-and-store failed")
		return FailedSave
	}
	return ts
}

// Combine builds the stored value from two fetch results, keeping at most
// 100 characters of each.
func Combine(a, b string) string {
	return fmt.Sprintf("A=%s|B=%s", truncate(a, combineLimit), truncate(b, combineLimit))
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package memgauge samples process memory on a fixed interval and publishes
// it as the app.memory.used gauge.
package memgauge

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/fosrl/tracedemo/internal/telemetry"
)

// Interval between memory samples.
const Interval = 5 * time.Second

const bytesPerMB = 1 << 20

// ErrAlreadyRunning is returned by Start on a running Sampler.
var ErrAlreadyRunning = errors.New("memgauge: already running")

// MemoryReader returns the current memory usage in bytes.
type MemoryReader func() int64

// HeapUsed reports the Go heap in use: the heap obtained from the OS minus
// the idle spans that could be returned to it.
func HeapUsed() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapSys - ms.HeapIdle)
}

// Sample is one memory reading.
type Sample struct {
	Poll      int64
	UsedBytes int64
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) ticker { return timeTicker{time.NewTicker(d)} }

// run is the state of one started sampler.
type run struct {
	cancel       context.CancelFunc
	done         chan struct{}
	registration metric.Registration
}

// Sampler owns a single background goroutine that samples memory, and an
// observable gauge whose callback reports the latest sample.
type Sampler struct {
	meter     metric.Meter
	log       zerolog.Logger
	read      MemoryReader
	interval  time.Duration
	newTicker func(time.Duration) ticker

	polls atomic.Int64
	last  atomic.Pointer[Sample]

	mu    sync.Mutex
	state *run
}

// New returns a stopped Sampler. A nil read defaults to HeapUsed.
func New(meter metric.Meter, read MemoryReader, log zerolog.Logger) *Sampler {
	if read == nil {
		read = HeapUsed
	}
	return &Sampler{
		meter:     meter,
		log:       log.With().Str("component", "memgauge").Logger(),
		read:      read,
		interval:  Interval,
		newTicker: newTimeTicker,
	}
}

// Start registers the gauge and starts sampling, the first sample taken
// immediately.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil {
		return ErrAlreadyRunning
	}

	gauge, err := s.meter.Int64ObservableGauge("app.memory.used",
		metric.WithDescription("Process memory in use."),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("memgauge: create gauge: %w", err)
	}
	registration, err := s.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		last := s.Last()
		o.ObserveInt64(gauge, last.UsedBytes, metric.WithAttributes(telemetry.AttrPollCount.Int64(last.Poll)))
		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("memgauge: register callback: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{cancel: cancel, done: make(chan struct{}), registration: registration}
	s.state = r
	go s.loop(loopCtx, s.newTicker(s.interval), r.done)
	return nil
}

// Stop unregisters the gauge callback, cancels sampling and waits for the
// goroutine to exit. Stopping a stopped Sampler is a no-op.
func (s *Sampler) Stop(ctx context.Context) error {
	s.mu.Lock()
	r := s.state
	s.state = nil
	s.mu.Unlock()
	if r == nil {
		return nil
	}

	r.cancel()
	var errs []error
	if err := r.registration.Unregister(); err != nil {
		errs = append(errs, fmt.Errorf("memgauge: unregister callback: %w", err))
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

// IsRunning reports whether the Sampler has been started and not stopped.
func (s *Sampler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != nil
}

// Last returns the most recent sample.
func (s *Sampler) Last() Sample {
	if last := s.last.Load(); last != nil {
		return *last
	}
	return Sample{}
}

func (s *Sampler) loop(ctx context.Context, t ticker, done chan<- struct{}) {
	defer close(done)
	defer t.Stop()

	s.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	used := s.read()
	poll := s.polls.Add(1)
	s.last.Store(&Sample{Poll: poll, UsedBytes: used})
	s.log.Info().
		Int64("poll", poll).
		Int64("used_mb", used/bytesPerMB).
		Msg("memory poll")
}

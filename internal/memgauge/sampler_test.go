package memgauge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fosrl/tracedemo/internal/telemetry"
)

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

func newTestSampler(t *testing.T, read MemoryReader, log zerolog.Logger) (*Sampler, *fakeTicker, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	ft := &fakeTicker{ch: make(chan time.Time)}
	s := New(mp.Meter(telemetry.InstrumentationName), read, log)
	s.newTicker = func(d time.Duration) ticker {
		require.Equal(t, Interval, d)
		return ft
	}
	return s, ft, reader
}

func TestSamplerRecordsAtStartAndEveryTick(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	var reads atomic.Int64
	s, ft, _ := newTestSampler(t, func() int64 {
		return reads.Add(1) * bytesPerMB
	}, log)

	require.NoError(t, s.Start(context.Background()))
	// Ticks at t=5s and t=10s; the t=0 sample happens on start.
	ft.ch <- time.Now()
	ft.ch <- time.Now()
	require.NoError(t, s.Stop(context.Background()))

	require.Equal(t, Sample{Poll: 3, UsedBytes: 3 * bytesPerMB}, s.Last())
	require.True(t, ft.stopped.Load())

	var polls []int64
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var entry struct {
			Message string `json:"message"`
			Poll    int64  `json:"poll"`
			UsedMB  int64  `json:"used_mb"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		require.Equal(t, "memory poll", entry.Message)
		require.Equal(t, entry.Poll, entry.UsedMB)
		polls = append(polls, entry.Poll)
	}
	require.Equal(t, []int64{1, 2, 3}, polls)
}

func TestSamplerGaugeReportsLatestSample(t *testing.T) {
	s, ft, reader := newTestSampler(t, func() int64 { return 42 * bytesPerMB }, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())
	require.Eventually(t, func() bool { return s.Last().Poll == 1 }, time.Second, time.Millisecond)

	collect := func() metricdata.DataPoint[int64] {
		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name == "app.memory.used" {
					require.Equal(t, "By", m.Unit)
					gauge := m.Data.(metricdata.Gauge[int64])
					require.Len(t, gauge.DataPoints, 1)
					return gauge.DataPoints[0]
				}
			}
		}
		t.Fatal("app.memory.used not collected")
		return metricdata.DataPoint[int64]{}
	}

	dp := collect()
	require.EqualValues(t, 42*bytesPerMB, dp.Value)
	poll, ok := dp.Attributes.Value(telemetry.AttrPollCount)
	require.True(t, ok)
	require.EqualValues(t, 1, poll.AsInt64())

	ft.ch <- time.Now()
	require.Eventually(t, func() bool { return s.Last().Poll == 2 }, time.Second, time.Millisecond)
	poll, _ = collect().Attributes.Value(telemetry.AttrPollCount)
	require.EqualValues(t, 2, poll.AsInt64())
}

func TestSamplerLifecycle(t *testing.T) {
	s, _, _ := newTestSampler(t, func() int64 { return 1 }, zerolog.Nop())
	require.False(t, s.IsRunning())

	require.NoError(t, s.Start(context.Background()))
	require.True(t, s.IsRunning())
	require.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	require.NoError(t, s.Stop(context.Background()))
	require.False(t, s.IsRunning())
	require.NoError(t, s.Stop(context.Background()))
}

func TestSamplerConcurrentStartStop(t *testing.T) {
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	defer mp.Shutdown(context.Background())

	s := New(mp.Meter(telemetry.InstrumentationName), func() int64 { return 1 }, zerolog.Nop())
	s.newTicker = func(time.Duration) ticker { return &fakeTicker{ch: make(chan time.Time)} }

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := s.Start(context.Background()); err != nil {
					assert.ErrorIs(t, err, ErrAlreadyRunning)
				}
				assert.NoError(t, s.Stop(context.Background()))
			}
		}()
	}
	wg.Wait()

	require.False(t, s.IsRunning())
}

func TestSamplerStopWithDoneContextUnregisters(t *testing.T) {
	s, _, reader := newTestSampler(t, func() int64 { return 7 * bytesPerMB }, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Last().Poll == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = s.Stop(ctx)
	require.False(t, s.IsRunning())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "app.memory.used" {
				require.Empty(t, m.Data.(metricdata.Gauge[int64]).DataPoints)
			}
		}
	}
}

func TestSamplerWithRealTicker(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	s := New(mp.Meter(telemetry.InstrumentationName), nil, zerolog.Nop())
	s.interval = 5 * time.Millisecond

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Last().Poll >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	require.Positive(t, s.Last().UsedBytes)
}

func TestHeapUsed(t *testing.T) {
	require.Positive(t, HeapUsed())
}

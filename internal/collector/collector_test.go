package collector

import (
	"errors"
	"sync"
	"testing"
	"time"

	"entropy-compare/internal/clock"
	"entropy-compare/internal/entropy"
	"entropy-compare/internal/metrics"
	"entropy-compare/internal/mqtt"
	"entropy-compare/testutil"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type batch struct {
	events   []mqtt.TDCEvent
	sequence uint32
}

// fakeSender records batches and can fail chosen sequence numbers.
type fakeSender struct {
	mu      sync.Mutex
	batches []batch
	dropped uint32
	failSeq map[uint32]bool
	gate    chan struct{}
	started chan struct{}
}

func (s *fakeSender) SendBatch(events []mqtt.TDCEvent, sequence uint32) error {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch{events: append([]mqtt.TDCEvent(nil), events...), sequence: sequence})
	if s.failSeq[sequence] {
		return errors.New("pool rejected batch")
	}
	return nil
}

func (s *fakeSender) IncrementDropped(count uint32) {
	s.mu.Lock()
	s.dropped += count
	s.mu.Unlock()
}

func (s *fakeSender) waitForBatches(t *testing.T, n int) []batch {
	t.Helper()
	got, err := testutil.WaitForCondition(t.Context(), func() ([]batch, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return append([]batch(nil), s.batches...), len(s.batches) >= n
	})
	require.NoError(t, err, "waiting for %d batches", n)
	return got
}

func observedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core).Sugar(), logs
}

func events(from, n int) []mqtt.TDCEvent {
	out := make([]mqtt.TDCEvent, n)
	for i := range out {
		id := from + i
		out[i] = mqtt.TDCEvent{RpiTimestampUs: uint64(id), Channel: uint32(id % 4), TdcTimestampPs: uint64(1_000_000 + id*7919)}
	}
	return out
}

func TestCollector_BatchBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		batchSize int
		added     int
		wantSizes []int
	}{
		{name: "exact multiple", batchSize: 3, added: 6, wantSizes: []int{3, 3}},
		{name: "remainder flushed on close", batchSize: 3, added: 7, wantSizes: []int{3, 3, 1}},
		{name: "partial only", batchSize: 8, added: 5, wantSizes: []int{5}},
		{name: "non-positive size means one per batch", batchSize: 0, added: 2, wantSizes: []int{1, 1}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			testutil.ResetRegistryForTest(t)

			sender := &fakeSender{}
			c := New(tc.batchSize, sender, WithFlushInterval(time.Hour), WithClock(clock.NewFakeClock()))
			for _, ev := range events(1, tc.added) {
				c.Add(ev)
			}
			c.Close()

			got := sender.waitForBatches(t, len(tc.wantSizes))
			require.Len(t, got, len(tc.wantSizes))
			for i, b := range got {
				assert.Equal(t, uint32(i+1), b.sequence)
				assert.Len(t, b.events, tc.wantSizes[i])
			}
			assert.Equal(t, uint32(len(tc.wantSizes)), c.Sequence())
		})
	}
}

func TestCollector_SendErrorIsLoggedAndSequenceAdvances(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	logger, logs := observedLogger()
	sender := &fakeSender{failSeq: map[uint32]bool{1: true}}
	c := New(2, sender, WithFlushInterval(time.Hour), WithClock(clock.NewFakeClock()), WithLogger(logger))
	for _, ev := range events(1, 4) {
		c.Add(ev)
	}
	c.Close()

	got := sender.waitForBatches(t, 2)
	assert.Equal(t, []uint32{1, 2}, []uint32{got[0].sequence, got[1].sequence})

	failed := logs.FilterMessage("failed to send batch").All()
	require.Len(t, failed, 1)
	assert.EqualValues(t, 1, failed[0].ContextMap()["sequence"])
	assert.Equal(t, 1, logs.FilterMessage("all batches sent").Len())
}

func TestCollector_ConcurrentAddKeepsEveryEvent(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	const (
		batchSize = 25
		workers   = 40
		perWorker = 50
	)
	sender := &fakeSender{}
	c := New(batchSize, sender, WithFlushInterval(time.Hour), WithClock(clock.NewFakeClock()))

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, ev := range events(w*perWorker+1, perWorker) {
				c.Add(ev)
			}
		}()
	}
	wg.Wait()
	c.Close()

	got := sender.waitForBatches(t, workers*perWorker/batchSize)
	seen := make(map[uint64]bool, workers*perWorker)
	for i, b := range got {
		assert.Equal(t, uint32(i+1), b.sequence, "batches must arrive in sequence order")
		for _, ev := range b.events {
			require.False(t, seen[ev.RpiTimestampUs], "duplicate event %d", ev.RpiTimestampUs)
			seen[ev.RpiTimestampUs] = true
		}
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestCollector_FlushIntervalTick(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	fake := clock.NewFakeClock()
	sender := &fakeSender{}
	c := New(10, sender, WithFlushInterval(2*time.Second), WithClock(fake))
	t.Cleanup(c.Close)
	assert.Equal(t, 2*time.Second, c.flushInterval)

	for _, ev := range events(1, 3) {
		c.Add(ev)
	}
	assert.Equal(t, 3.0, promtest.ToFloat64(metrics.CollectorPoolSize))

	fake.Fire()
	got := sender.waitForBatches(t, 1)
	assert.Len(t, got[0].events, 3)
	assert.Equal(t, 0.0, promtest.ToFloat64(metrics.CollectorPoolSize))
}

func TestCollector_CloseGivesUpOnStalledSend(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	fake := clock.NewFakeClock()
	logger, logs := observedLogger()
	sender := &fakeSender{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	c := New(1, sender, WithFlushInterval(time.Hour), WithClock(fake), WithLogger(logger))

	c.Add(events(1, 1)[0])
	<-sender.started

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()

	// Keep ticking until Close has registered its timeout waiter.
	_, err := testutil.WaitForCondition(t.Context(), func() (struct{}, bool) {
		fake.Fire()
		select {
		case <-closed:
			return struct{}{}, true
		default:
			return struct{}{}, false
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("timeout waiting for sends").Len())

	close(sender.gate)
}

func TestNew_Options(t *testing.T) {
	tests := []struct {
		name         string
		maxSize      int
		opts         []Option
		wantMax      int
		wantInterval time.Duration
	}{
		{name: "defaults", maxSize: 5, wantMax: 5, wantInterval: defaultFlushInterval},
		{name: "custom interval", maxSize: 5, opts: []Option{WithFlushInterval(250 * time.Millisecond)}, wantMax: 5, wantInterval: 250 * time.Millisecond},
		{name: "negative interval ignored", maxSize: 5, opts: []Option{WithFlushInterval(-time.Second)}, wantMax: 5, wantInterval: defaultFlushInterval},
		{name: "nil clock and logger keep defaults", maxSize: -3, opts: []Option{WithClock(nil), WithLogger(nil)}, wantMax: 1, wantInterval: defaultFlushInterval},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			testutil.ResetRegistryForTest(t)

			c := New(tc.maxSize, &fakeSender{}, tc.opts...)
			t.Cleanup(c.Close)

			assert.Equal(t, tc.wantMax, c.maxSize)
			assert.Equal(t, tc.wantInterval, c.flushInterval)
			assert.NotNil(t, c.clockSource)
			assert.NotNil(t, c.logger)
			assert.Equal(t, float64(tc.wantMax), promtest.ToFloat64(metrics.CollectorBatchSize))
		})
	}
}

func TestIncrementDropped(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	sender := &fakeSender{}
	c := New(10, sender)
	t.Cleanup(c.Close)

	c.IncrementDropped(7)
	c.IncrementDropped(3)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, uint32(10), sender.dropped)

	assert.NotPanics(t, func() { (&BatchCollector{}).IncrementDropped(1) })
}

func TestCollector_FeedsWhitenedPool(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	pool := entropy.NewWhitenedPool(32)
	c := New(4, pool, WithFlushInterval(time.Hour), WithClock(clock.NewFakeClock()))
	for _, ev := range events(1, 8) {
		c.Add(ev)
	}
	c.IncrementDropped(2)
	c.Close()

	raw, whitened := pool.PoolStatus()
	assert.Equal(t, 8, raw)
	assert.Equal(t, 64, whitened, "one SHA-256 block per batch")
	assert.Equal(t, uint64(2), pool.Dropped())
	assert.Equal(t, 64.0, promtest.ToFloat64(metrics.WhiteningInputBytes))

	report, ok := pool.LastReport()
	require.True(t, ok)
	assert.Equal(t, 256, report.Length)
}

func TestCollector_CloseIsIdempotentAndStopsDispatch(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	sender := &fakeSender{}
	c := New(1, sender, WithFlushInterval(time.Hour), WithClock(clock.NewFakeClock()))
	c.Add(events(1, 1)[0])
	c.Close()
	c.Close()

	assert.NotPanics(t, func() { c.Add(events(2, 1)[0]) })
	assert.Len(t, sender.waitForBatches(t, 1), 1)
	assert.Equal(t, uint32(1), c.Sequence())
}

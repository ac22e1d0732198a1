// Package collector groups TDC events into batches for the whitened entropy
// pool. A batch is dispatched when it is full or when the flush interval
// passes, whichever comes first.
package collector

import (
	"sync"
	"time"

	"entropy-compare/internal/clock"
	"entropy-compare/internal/metrics"
	"entropy-compare/internal/mqtt"

	"go.uber.org/zap"
)

const (
	defaultFlushInterval = 10 * time.Second
	closeTimeout         = 5 * time.Second
)

// BatchSender consumes event batches. entropy.WhitenedPool is the production
// implementation.
type BatchSender interface {
	SendBatch(events []mqtt.TDCEvent, sequence uint32) error
	IncrementDropped(count uint32)
}

// Option configures a BatchCollector.
type Option func(*BatchCollector)

// WithClock injects a clock for deterministic flush timing in tests.
func WithClock(clockSource clock.Clock) Option {
	return func(bc *BatchCollector) {
		if clockSource != nil {
			bc.clockSource = clockSource
		}
	}
}

// WithFlushInterval overrides the ten second auto-flush period. Non-positive
// values keep the default.
func WithFlushInterval(interval time.Duration) Option {
	return func(bc *BatchCollector) {
		if interval > 0 {
			bc.flushInterval = interval
		}
	}
}

// WithLogger sets the logger used for flush and shutdown messages.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(bc *BatchCollector) {
		if logger != nil {
			bc.logger = logger
		}
	}
}

type job struct {
	events   []mqtt.TDCEvent
	sequence uint32
}

// BatchCollector buffers events and hands full batches to a BatchSender. A
// single sender goroutine drains the queue, so batches arrive in sequence
// order. All methods are safe for concurrent use.
type BatchCollector struct {
	forwarder     BatchSender
	maxSize       int
	flushInterval time.Duration
	clockSource   clock.Clock
	logger        *zap.SugaredLogger

	mu       sync.Mutex
	buffer   []mqtt.TDCEvent
	sequence uint32
	closed   bool

	queue     chan job
	stop      chan struct{}
	closeOnce sync.Once
	running   sync.WaitGroup
}

// New starts a BatchCollector that forwards batches of up to maxSize events
// to fwd. Call Close to flush the remainder and stop it.
func New(maxSize int, fwd BatchSender, opts ...Option) *BatchCollector {
	bc := &BatchCollector{
		forwarder:     fwd,
		maxSize:       max(maxSize, 1),
		flushInterval: defaultFlushInterval,
		clockSource:   clock.RealClock{},
		logger:        zap.S().Named("collector"),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(bc)
	}
	bc.buffer = make([]mqtt.TDCEvent, 0, bc.maxSize)
	bc.queue = make(chan job, max(1, bc.maxSize/2))
	metrics.SetCollectorBatchSize(bc.maxSize)

	bc.running.Add(2)
	go bc.sendLoop()
	go bc.tickLoop()
	return bc
}

// Add buffers event and dispatches the batch once it is full.
func (bc *BatchCollector) Add(event mqtt.TDCEvent) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	bc.buffer = append(bc.buffer, event)
	metrics.SetCollectorPoolSize(len(bc.buffer))
	if len(bc.buffer) >= bc.maxSize {
		bc.dispatchLocked()
	}
}

// IncrementDropped forwards a dropped-event count to the sender.
func (bc *BatchCollector) IncrementDropped(count uint32) {
	if bc.forwarder != nil {
		bc.forwarder.IncrementDropped(count)
	}
}

// Sequence returns the number of batches dispatched so far.
func (bc *BatchCollector) Sequence() uint32 {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.sequence
}

// Close stops the flush timer, dispatches the buffered remainder and waits
// up to closeTimeout for the sender to drain. Further calls do nothing.
func (bc *BatchCollector) Close() {
	bc.closeOnce.Do(func() {
		close(bc.stop)

		bc.mu.Lock()
		bc.dispatchLocked()
		bc.closed = true
		close(bc.queue)
		bc.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			bc.running.Wait()
			close(drained)
		}()

		select {
		case <-drained:
			bc.logger.Info("all batches sent")
		case <-bc.clockSource.After(closeTimeout):
			bc.logger.Warn("timeout waiting for sends")
		}
	})
}

// dispatchLocked queues the buffered events as the next batch. Events added
// after Close stay buffered. The caller must hold bc.mu.
func (bc *BatchCollector) dispatchLocked() {
	if bc.closed || len(bc.buffer) == 0 {
		return
	}
	start := bc.clockSource.Now()

	events := append([]mqtt.TDCEvent(nil), bc.buffer...)
	bc.sequence++
	bc.buffer = bc.buffer[:0]
	if cap(bc.buffer) > 2*bc.maxSize {
		bc.buffer = make([]mqtt.TDCEvent, 0, bc.maxSize)
	}
	metrics.SetCollectorPoolSize(0)
	metrics.RecordCollectorFlush(bc.clockSource.Now().Sub(start))

	bc.queue <- job{events: events, sequence: bc.sequence}
}

func (bc *BatchCollector) sendLoop() {
	defer bc.running.Done()
	for j := range bc.queue {
		if err := bc.forwarder.SendBatch(j.events, j.sequence); err != nil {
			bc.logger.Errorw("failed to send batch", "sequence", j.sequence, "events", len(j.events), "error", err)
		}
	}
}

func (bc *BatchCollector) tickLoop() {
	defer bc.running.Done()
	for {
		select {
		case <-bc.stop:
			return
		case <-bc.clockSource.After(bc.flushInterval):
			bc.mu.Lock()
			bc.dispatchLocked()
			bc.mu.Unlock()
		}
	}
}

// Package entropy conditions TDC decay timestamps into a whitened byte pool
// that backs the "tdc" hardware source.
package entropy

import (
	"errors"
	"sync"

	"entropy-compare/internal/metrics"
	"entropy-compare/internal/mqtt"
	"entropy-compare/internal/validation"

	"go.uber.org/zap"
)

const (
	defaultMinWhitenedBytes   = 32
	whitenedBufferMultiplier  = 4
	defaultMaxRawEventsStored = 4096

	// analysisOrigin labels battery runs over freshly whitened batches.
	analysisOrigin = "tdc_pool"
)

// WhitenedPool is a concurrency-safe buffer of conditioned entropy bytes
// derived from TDC decay events. Every whitened batch is scored by the
// six-test battery and every extraction passes the continuous health tests
// before it leaves the pool.
type WhitenedPool struct {
	mu           sync.RWMutex
	rawEvents    []mqtt.TDCEvent
	whitened     []byte
	minPoolSize  int
	maxPoolSize  int
	maxRawEvents int
	health       *validation.HealthMonitor
	lastReport   *validation.AnalysisReport
	dropped      uint64
	logger       *zap.SugaredLogger
}

// NewWhitenedPool constructs a pool that keeps at least minSize bytes in
// reserve. The maximum defaults to minSize * whitenedBufferMultiplier.
func NewWhitenedPool(minSize int) *WhitenedPool {
	if minSize <= 0 {
		minSize = defaultMinWhitenedBytes
	}
	return NewWhitenedPoolWithBounds(minSize, minSize*whitenedBufferMultiplier)
}

// NewWhitenedPoolWithBounds constructs a pool with explicit lower and upper
// bounds on whitened bytes retained. Invalid values fall back to defaults.
func NewWhitenedPoolWithBounds(minSize, maxSize int) *WhitenedPool {
	if minSize <= 0 {
		minSize = defaultMinWhitenedBytes
	}
	if maxSize <= 0 {
		maxSize = minSize * whitenedBufferMultiplier
	}
	if maxSize < minSize {
		maxSize = minSize
	}

	return &WhitenedPool{
		minPoolSize:  minSize,
		maxPoolSize:  maxSize,
		maxRawEvents: defaultMaxRawEventsStored,
		health:       validation.NewHealthMonitor(),
		logger:       zap.S().Named("entropy"),
	}
}

// SendBatch satisfies collector.BatchSender so the pool can sit directly
// behind the batch collector.
func (pool *WhitenedPool) SendBatch(events []mqtt.TDCEvent, sequence uint32) error {
	pool.logger.Debugw("whitening batch", "sequence", sequence, "events", len(events))
	pool.AddBatch(events)
	return nil
}

// IncrementDropped records events discarded upstream of the pool.
func (pool *WhitenedPool) IncrementDropped(count uint32) {
	pool.mu.Lock()
	pool.dropped += uint64(count)
	pool.mu.Unlock()
}

// AddBatch serialises the picosecond timestamps of events, applies
// dual-stage whitening and appends the conditioned output to the pool. The
// whitened block is scored by the battery and its min-entropy is recorded.
// Both the raw event history and the whitened buffer are trimmed to their
// upper bounds.
func (pool *WhitenedPool) AddBatch(events []mqtt.TDCEvent) {
	if len(events) == 0 {
		return
	}

	batch := whitenEvents(events)
	whitenedBytes := batch.output
	metrics.RecordWhitening(batch.rawBytes, len(whitenedBytes), batch.extractionRate())

	var report *validation.AnalysisReport
	if len(whitenedBytes) > 0 {
		r := validation.AnalyzeSequence(validation.FromBytes(whitenedBytes))
		report = &r
		metrics.RecordAnalysis(analysisOrigin, r.OverallScore, r.Verdict, r.FailedTests())
		metrics.RecordMinEntropyMCV(r.Diagnostics.MinEntropyMCV)
		metrics.RecordMinEntropyCollision(r.Diagnostics.MinEntropyCollision)
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	pool.rawEvents = append(pool.rawEvents, events...)
	if len(pool.rawEvents) > pool.maxRawEvents {
		trim := len(pool.rawEvents) - pool.maxRawEvents
		copy(pool.rawEvents, pool.rawEvents[trim:])
		pool.rawEvents = pool.rawEvents[:len(pool.rawEvents)-trim]
	}

	if len(whitenedBytes) == 0 {
		return
	}
	pool.lastReport = report

	pool.whitened = append(pool.whitened, whitenedBytes...)
	if len(pool.whitened) > pool.maxPoolSize {
		trim := len(pool.whitened) - pool.maxPoolSize
		copy(pool.whitened, pool.whitened[trim:])
		pool.whitened = pool.whitened[:len(pool.whitened)-trim]
	}

	metrics.SetEntropyPoolSize(len(pool.whitened))
}

// ExtractEntropy removes and returns exactly numBytes of whitened entropy.
// It returns (nil, false) when numBytes is non-positive, the pool is below
// its reserve, too few bytes are buffered, or a continuous health test
// rejects the block. A rejected block stays in the pool and the failing
// test is reset.
func (pool *WhitenedPool) ExtractEntropy(numBytes int) ([]byte, bool) {
	if numBytes <= 0 {
		return nil, false
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	if len(pool.whitened) < pool.minPoolSize || len(pool.whitened) < numBytes {
		return nil, false
	}

	output := make([]byte, numBytes)
	copy(output, pool.whitened[:numBytes])

	if err := pool.health.CheckBlock(output); err != nil {
		switch {
		case errors.Is(err, validation.ErrRepetitionCount):
			pool.logger.Warn("RCT failure detected, possible entropy source fault")
			metrics.RecordContinuousRCTFailure()
			metrics.RecordEventDropped("rct_failure")
		case errors.Is(err, validation.ErrAdaptiveProportion):
			pool.logger.Warn("APT failure detected, statistical bias in entropy source")
			metrics.RecordContinuousAPTFailure()
			metrics.RecordEventDropped("apt_failure")
		}
		return nil, false
	}

	pool.whitened = append([]byte(nil), pool.whitened[numBytes:]...)

	metrics.RecordEntropyExtraction(numBytes)
	metrics.SetEntropyPoolSize(len(pool.whitened))

	return output, true
}

// PoolStatus returns the number of diagnostic raw events tracked and the
// number of whitened bytes stored.
func (pool *WhitenedPool) PoolStatus() (int, int) {
	pool.mu.RLock()
	defer pool.mu.RUnlock()

	return len(pool.rawEvents), len(pool.whitened)
}

// AvailableEntropy reports the bytes ready for extraction above the reserve.
func (pool *WhitenedPool) AvailableEntropy() int {
	pool.mu.RLock()
	defer pool.mu.RUnlock()

	if len(pool.whitened) <= pool.minPoolSize {
		return 0
	}

	return len(pool.whitened) - pool.minPoolSize
}

// Dropped returns the number of events discarded before reaching the pool.
func (pool *WhitenedPool) Dropped() uint64 {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	return pool.dropped
}

// LastReport returns the battery result for the most recent whitened batch.
func (pool *WhitenedPool) LastReport() (validation.AnalysisReport, bool) {
	pool.mu.RLock()
	defer pool.mu.RUnlock()

	if pool.lastReport == nil {
		return validation.AnalysisReport{}, false
	}
	return *pool.lastReport, true
}

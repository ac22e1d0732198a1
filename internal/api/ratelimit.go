package api

import (
	"math"
	"strconv"
	"sync"
	"time"

	"entropy-compare/internal/clock"

	"github.com/gin-gonic/gin"
)

// tokenBucket refills at a constant rate up to its burst capacity. It is
// safe for concurrent use.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
	clock      clock.Clock
}

// newTokenBucket creates a bucket refilling at rate tokens per second. The
// bucket starts full.
func newTokenBucket(rate, burst float64, clk clock.Clock) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = rate
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &tokenBucket{
		capacity:   burst,
		tokens:     burst,
		refillRate: rate,
		lastRefill: clk.Now(),
		clock:      clk,
	}
}

// Allow takes one token. When the bucket is empty it reports how long until
// the next token, never less than one second.
func (b *tokenBucket) Allow() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed.Seconds()*b.refillRate)
		b.lastRefill = now
	}

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true, 0
	}

	deficit := math.Max(1.0-b.tokens, 0)
	wait := time.Duration(deficit / b.refillRate * float64(time.Second))
	if wait < time.Second {
		wait = time.Second
	}
	return false, wait
}

// setRetryAfter writes the larger of the configured floor and wait, in whole
// seconds.
func setRetryAfter(c *gin.Context, floorSeconds int, wait time.Duration) int {
	seconds := floorSeconds
	if wait > 0 {
		if calc := int(math.Ceil(wait.Seconds())); calc > seconds {
			seconds = calc
		}
	}
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	return seconds
}

// setNoStoreHeaders prevents caching of generated material.
func setNoStoreHeaders(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}

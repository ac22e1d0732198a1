// Package clock abstracts time so that generation timings, benchmark loops
// and rate limiting can be driven deterministically in tests.
package clock

import "time"

// MinElapsedMS is the smallest generation time reported. Downstream ratios
// divide by elapsed time, so zero is never returned.
const MinElapsedMS = 0.001

// Clock abstracts time progression for components that need deterministic tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock delegates to the standard library for production use.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// After relays to time.After for real scheduling.
func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Stopwatch measures one elapsed interval against a Clock.
type Stopwatch struct {
	clock Clock
	start time.Time
}

// Start begins timing on c. A nil clock uses RealClock.
func Start(c Clock) Stopwatch {
	if c == nil {
		c = RealClock{}
	}
	return Stopwatch{clock: c, start: c.Now()}
}

// Elapsed returns the time since Start.
func (s Stopwatch) Elapsed() time.Duration {
	return s.clock.Now().Sub(s.start)
}

// ElapsedMS returns the elapsed time in milliseconds, floored at MinElapsedMS.
func (s Stopwatch) ElapsedMS() float64 {
	ms := float64(s.Elapsed().Nanoseconds()) / float64(time.Millisecond)
	if ms < MinElapsedMS {
		return MinElapsedMS
	}
	return ms
}

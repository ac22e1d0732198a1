package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually driven Clock. Time moves only through Advance or,
// for a stepping clock, by a fixed step on every Now. Timers ignore their
// duration and fire when the test calls Fire.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	step   time.Duration
	timers []chan time.Time
	banked int
}

// NewFakeClock returns a clock frozen at the Unix epoch.
func NewFakeClock() *FakeClock {
	return NewSteppingClock(0)
}

// NewSteppingClock returns a clock at the Unix epoch that moves forward by
// step after each Now, so a Stopwatch observes exactly one step.
func NewSteppingClock(step time.Duration) *FakeClock {
	return &FakeClock{now: time.Unix(0, 0), step: step}
}

// Now reports the fake time and then applies the step.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.now
	f.now = t.Add(f.step)
	return t
}

// After returns a timer channel. A Fire that happened while no timer was
// pending is delivered immediately.
func (f *FakeClock) After(time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if f.banked > 0 {
		f.banked--
		ch <- f.now
		return ch
	}
	f.timers = append(f.timers, ch)
	return ch
}

// Fire expires every pending timer. With none pending the tick is banked
// for the next After.
func (f *FakeClock) Fire() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.timers) == 0 {
		f.banked++
		return
	}
	for _, ch := range f.timers {
		ch <- f.now
	}
	f.timers = nil
}

// Advance moves the fake time forward by d.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

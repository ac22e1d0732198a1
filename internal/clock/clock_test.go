package clock

import (
	"testing"
	"time"
)

func TestRealClock_NowTracksWallClock(t *testing.T) {
	t.Parallel()

	var c Clock = RealClock{}
	lo := time.Now()
	got := c.Now()
	hi := time.Now()

	if got.Before(lo) || got.After(hi) {
		t.Fatalf("Now() = %v, want within [%v, %v]", got, lo, hi)
	}
}

func TestRealClock_After(t *testing.T) {
	t.Parallel()

	for _, d := range []time.Duration{-time.Second, 0, 2 * time.Millisecond} {
		start := time.Now()
		select {
		case fired := <-(RealClock{}).After(d):
			if d > 0 && fired.Sub(start) < d {
				t.Fatalf("After(%v) fired after only %v", d, fired.Sub(start))
			}
		case <-time.After(time.Second):
			t.Fatalf("After(%v) never fired", d)
		}
	}
}

func TestStopwatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		clock Clock
		want  float64
	}{
		{name: "frozen clock is floored", clock: NewFakeClock(), want: MinElapsedMS},
		{name: "sub-floor step is floored", clock: NewSteppingClock(100 * time.Nanosecond), want: MinElapsedMS},
		{name: "one step", clock: NewSteppingClock(2500 * time.Microsecond), want: 2.5},
		{name: "seconds", clock: NewSteppingClock(3 * time.Second), want: 3000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Start(tc.clock).ElapsedMS(); got != tc.want {
				t.Fatalf("ElapsedMS() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStopwatch_NilClockUsesRealClock(t *testing.T) {
	t.Parallel()

	sw := Start(nil)
	time.Sleep(time.Millisecond)
	if got := sw.Elapsed(); got < time.Millisecond {
		t.Fatalf("Elapsed() = %v, want at least 1ms", got)
	}
}

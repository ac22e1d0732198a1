package clock

import (
	"testing"
	"time"
)

func TestSteppingClock_AdvancesOnEveryNow(t *testing.T) {
	t.Parallel()

	clk := NewSteppingClock(time.Millisecond)
	first := clk.Now()
	second := clk.Now()
	if got := second.Sub(first); got != time.Millisecond {
		t.Fatalf("step between Now calls = %v, want 1ms", got)
	}

	clk.Advance(time.Second)
	if got := clk.Now().Sub(second); got != time.Second+time.Millisecond {
		t.Fatalf("Advance not applied on top of the step: %v", got)
	}
}

func TestFakeClock_StopwatchFollowsAdvance(t *testing.T) {
	t.Parallel()

	clk := NewFakeClock()
	sw := Start(clk)
	clk.Advance(125 * time.Millisecond)

	if got := sw.ElapsedMS(); got != 125 {
		t.Fatalf("elapsed = %.3fms, want 125ms", got)
	}
}

func TestFakeClock_FireWakesWaitersWithCurrentTime(t *testing.T) {
	t.Parallel()

	clk := NewFakeClock()
	clk.Advance(time.Minute)
	waiters := []<-chan time.Time{clk.After(time.Second), clk.After(time.Hour)}

	clk.Fire()

	for i, ch := range waiters {
		select {
		case ts := <-ch:
			if !ts.Equal(time.Unix(60, 0)) {
				t.Fatalf("waiter %d got %v, want the advanced time", i, ts)
			}
		default:
			t.Fatalf("waiter %d was not woken", i)
		}
	}
}

func TestFakeClock_FireWithoutWaitersIsBanked(t *testing.T) {
	t.Parallel()

	clk := NewFakeClock()
	clk.Fire()

	select {
	case <-clk.After(time.Hour):
	default:
		t.Fatal("banked tick was not delivered to the next waiter")
	}

	select {
	case <-clk.After(time.Hour):
		t.Fatal("a single Fire must wake only one later waiter")
	default:
	}
}

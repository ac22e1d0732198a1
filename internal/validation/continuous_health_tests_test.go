package validation

import (
	"errors"
	"sync"
	"testing"
)

func TestRepetitionCountTest_DetectsStuckValue(t *testing.T) {
	t.Parallel()

	rct := NewRepetitionCountTest(5)
	for i := 0; i < 4; i++ {
		if !rct.Test(0xAB) {
			t.Fatalf("sample %d: expected pass below cutoff", i)
		}
	}
	if rct.Test(0xAB) {
		t.Fatalf("expected failure once cutoff is reached")
	}

	rct.Reset()
	if !rct.Test(0xAB) {
		t.Fatalf("expected pass after reset")
	}
}

func TestRepetitionCountTest_ChangingValuesPass(t *testing.T) {
	t.Parallel()

	rct := NewRepetitionCountTest(3)
	block := []byte{1, 1, 2, 2, 3, 3, 4, 4}
	if !rct.TestBlock(block) {
		t.Fatalf("expected pairs of repeats to pass with cutoff 3")
	}
}

func TestRepetitionCountTest_DefaultCutoff(t *testing.T) {
	t.Parallel()

	rct := NewRepetitionCountTest(0)
	if rct.cutoff != DefaultRCTCutoff {
		t.Fatalf("expected default cutoff %d, got %d", DefaultRCTCutoff, rct.cutoff)
	}
}

func TestAdaptiveProportionTest_WindowEvaluation(t *testing.T) {
	t.Parallel()

	apt := NewAdaptiveProportionTest(4, 8)
	biased := []byte{7, 7, 1, 7, 2, 7, 3, 4}
	if apt.TestBlock(biased) {
		t.Fatalf("expected biased window to fail")
	}

	balanced := []byte{7, 1, 2, 3, 4, 5, 6, 8}
	if !apt.TestBlock(balanced) {
		t.Fatalf("expected balanced window to pass")
	}
}

func TestAdaptiveProportionTest_PartialWindowPasses(t *testing.T) {
	t.Parallel()

	apt := NewAdaptiveProportionTest(2, 16)
	if !apt.TestBlock([]byte{9, 9, 9, 9}) {
		t.Fatalf("expected incomplete window to pass")
	}
}

func TestHealthMonitor_CheckBlock(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		block []byte
		want  error
	}{
		{name: "healthy", block: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{name: "stuck", block: []byte{0, 0, 0, 0, 0, 0, 0, 0}, want: ErrRepetitionCount},
		{name: "biased", block: []byte{5, 1, 5, 2, 5, 3, 5, 4}, want: ErrAdaptiveProportion},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			monitor := NewHealthMonitorWith(NewRepetitionCountTest(4), NewAdaptiveProportionTest(4, 8))
			err := monitor.CheckBlock(tc.block)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestHealthMonitor_ConcurrentUse(t *testing.T) {
	t.Parallel()

	monitor := NewHealthMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seed byte) {
			defer wg.Done()
			block := make([]byte, 256)
			for j := range block {
				block[j] = byte(j) ^ seed
			}
			_ = monitor.CheckBlock(block)
		}(byte(i))
	}
	wg.Wait()
}

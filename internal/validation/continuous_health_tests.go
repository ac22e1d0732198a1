package validation

import (
	"errors"
	"sync"
)

// Default NIST SP 800-90B cutoffs for alpha = 2^-40 (APT assumes H = 0.5).
const (
	DefaultRCTCutoff     = 40
	DefaultAPTCutoff     = 605
	DefaultAPTWindowSize = 4096
)

var (
	// ErrRepetitionCount reports a stuck-at fault detected by the RCT.
	ErrRepetitionCount = errors.New("repetition count test failed")
	// ErrAdaptiveProportion reports bias detected by the APT.
	ErrAdaptiveProportion = errors.New("adaptive proportion test failed")
)

// RepetitionCountTest implements NIST SP 800-90B Section 4.4.1. It fails
// when a byte value repeats cutoff or more consecutive times. Safe for
// concurrent use.
type RepetitionCountTest struct {
	mu          sync.Mutex
	cutoff      int
	lastSample  byte
	repeatCount int
	initialized bool
}

// NewRepetitionCountTest returns an RCT with the given cutoff, or
// DefaultRCTCutoff when cutoff is not positive.
func NewRepetitionCountTest(cutoff int) *RepetitionCountTest {
	if cutoff <= 0 {
		cutoff = DefaultRCTCutoff
	}
	return &RepetitionCountTest{cutoff: cutoff}
}

// Test feeds one sample and reports whether the test still passes.
func (rct *RepetitionCountTest) Test(sample byte) bool {
	rct.mu.Lock()
	defer rct.mu.Unlock()
	return rct.testLocked(sample)
}

func (rct *RepetitionCountTest) testLocked(sample byte) bool {
	if rct.initialized && sample == rct.lastSample {
		rct.repeatCount++
		return rct.repeatCount < rct.cutoff
	}
	rct.lastSample = sample
	rct.repeatCount = 1
	rct.initialized = true
	return true
}

// TestBlock feeds samples in order and stops at the first failure.
func (rct *RepetitionCountTest) TestBlock(samples []byte) bool {
	rct.mu.Lock()
	defer rct.mu.Unlock()
	for _, sample := range samples {
		if !rct.testLocked(sample) {
			return false
		}
	}
	return true
}

// Reset returns the test to its uninitialised state.
func (rct *RepetitionCountTest) Reset() {
	rct.mu.Lock()
	defer rct.mu.Unlock()
	rct.lastSample, rct.repeatCount, rct.initialized = 0, 0, false
}

// AdaptiveProportionTest implements NIST SP 800-90B Section 4.4.2. Within
// each window of windowSize samples it counts recurrences of the window's
// first sample and fails when that count reaches cutoff. Safe for concurrent
// use.
type AdaptiveProportionTest struct {
	mu          sync.Mutex
	cutoff      int
	windowSize  int
	firstSample byte
	matchCount  int
	sampleCount int
}

// NewAdaptiveProportionTest returns an APT. Non-positive arguments fall back
// to DefaultAPTCutoff and DefaultAPTWindowSize.
func NewAdaptiveProportionTest(cutoff, windowSize int) *AdaptiveProportionTest {
	if cutoff <= 0 {
		cutoff = DefaultAPTCutoff
	}
	if windowSize <= 0 {
		windowSize = DefaultAPTWindowSize
	}
	return &AdaptiveProportionTest{cutoff: cutoff, windowSize: windowSize}
}

// Test feeds one sample. It only reports failure when a window completes.
func (apt *AdaptiveProportionTest) Test(sample byte) bool {
	apt.mu.Lock()
	defer apt.mu.Unlock()
	return apt.testLocked(sample)
}

func (apt *AdaptiveProportionTest) testLocked(sample byte) bool {
	if apt.sampleCount == 0 {
		apt.firstSample = sample
		apt.matchCount = 1
	} else if sample == apt.firstSample {
		apt.matchCount++
	}
	apt.sampleCount++

	if apt.sampleCount < apt.windowSize {
		return true
	}

	passed := apt.matchCount < apt.cutoff
	apt.sampleCount = 0
	apt.matchCount = 0
	return passed
}

// TestBlock feeds samples in order and stops at the first failing window.
func (apt *AdaptiveProportionTest) TestBlock(samples []byte) bool {
	apt.mu.Lock()
	defer apt.mu.Unlock()
	for _, sample := range samples {
		if !apt.testLocked(sample) {
			return false
		}
	}
	return true
}

// Reset starts a fresh window.
func (apt *AdaptiveProportionTest) Reset() {
	apt.mu.Lock()
	defer apt.mu.Unlock()
	apt.firstSample, apt.matchCount, apt.sampleCount = 0, 0, 0
}

// HealthMonitor runs the RCT and APT over every block drawn from a physical
// source. A failing test is reset so the source can recover on later blocks.
type HealthMonitor struct {
	rct *RepetitionCountTest
	apt *AdaptiveProportionTest
}

// NewHealthMonitor returns a monitor using the default SP 800-90B cutoffs.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		rct: NewRepetitionCountTest(DefaultRCTCutoff),
		apt: NewAdaptiveProportionTest(DefaultAPTCutoff, DefaultAPTWindowSize),
	}
}

// NewHealthMonitorWith builds a monitor from explicit tests.
func NewHealthMonitorWith(rct *RepetitionCountTest, apt *AdaptiveProportionTest) *HealthMonitor {
	return &HealthMonitor{rct: rct, apt: apt}
}

// CheckBlock returns ErrRepetitionCount or ErrAdaptiveProportion when the
// block trips a test, nil otherwise.
func (m *HealthMonitor) CheckBlock(block []byte) error {
	if !m.rct.TestBlock(block) {
		m.rct.Reset()
		return ErrRepetitionCount
	}
	if !m.apt.TestBlock(block) {
		m.apt.Reset()
		return ErrAdaptiveProportion
	}
	return nil
}

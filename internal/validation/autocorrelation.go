package validation

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// DefaultLag is the only lag Analyze evaluates.
const DefaultLag = 1

// Autocorrelation correlates the sequence with a copy of itself shifted by
// lag, treating symbols as the numbers 0 and 1. The coefficient is normalised
// by (N-lag) times the population variance and compared against a standard
// error of 1/sqrt(N); the test passes when |z| < 1.96. It fails with
// ErrInsufficientLength when N < lag+10 and ErrDegenerateSequence when the
// variance is zero.
func Autocorrelation(seq BitSequence, lag int) TestResult {
	label := fmt.Sprintf("Autocorrelation Test (lag=%d)", lag)
	if lag < 1 {
		return inapplicable(TestAutocorrelation, label, fmt.Errorf("%w: lag must be positive, got %d", ErrInvalidInput, lag))
	}

	n := seq.Len()
	if n < lag+10 {
		return inapplicable(TestAutocorrelation, label, fmt.Errorf("%w: autocorrelation at lag %d needs at least %d bits, got %d", ErrInsufficientLength, lag, lag+10, n))
	}

	data := seq.Floats()
	mean, err := stats.Mean(data)
	if err != nil {
		return inapplicable(TestAutocorrelation, label, fmt.Errorf("%w: %v", ErrInsufficientLength, err))
	}
	variance, err := stats.PopulationVariance(data)
	if err != nil {
		return inapplicable(TestAutocorrelation, label, fmt.Errorf("%w: %v", ErrInsufficientLength, err))
	}
	if variance == 0 {
		return inapplicable(TestAutocorrelation, label, fmt.Errorf("%w: zero variance", ErrDegenerateSequence))
	}

	sum := 0.0
	for i := 0; i < n-lag; i++ {
		sum += (data[i] - mean) * (data[i+lag] - mean)
	}

	coefficient := sum / (float64(n-lag) * variance)
	stdError := 1 / math.Sqrt(float64(n))
	z := coefficient / stdError
	absZ := math.Abs(z)
	passed := absZ < ZCritical

	return TestResult{
		Name:      TestAutocorrelation,
		Label:     label,
		Passed:    passed,
		Quality:   zQuality(absZ, passed),
		Threshold: ZCritical,
		Statistics: map[string]float64{
			"autocorrelation": round(coefficient, 6),
			"z_score":         round(z, 4),
			"lag":             float64(lag),
			"std_error":       round(stdError, 6),
		},
	}
}

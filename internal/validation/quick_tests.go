package validation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// FrequencyChiSquareCritical is the chi-square critical value for one
	// degree of freedom at alpha = 0.05.
	FrequencyChiSquareCritical = 3.84
	// ZCritical is the two-sided normal critical value at alpha = 0.05.
	ZCritical = 1.96

	runsVarianceFloor = 0.001
)

// Frequency runs the monobit test. It compares the observed counts of ones
// and zeros against N/2 each with a one degree of freedom chi-square
// statistic and passes when the statistic is below 3.84.
func Frequency(seq BitSequence) TestResult {
	const label = "Frequency (Monobit) Test"
	n := seq.Len()
	if n == 0 {
		return inapplicable(TestFrequency, label, fmt.Errorf("%w: empty sequence", ErrInsufficientLength))
	}

	ones := float64(seq.Ones())
	zeros := float64(seq.Zeros())
	expected := float64(n) / 2.0

	chiSquare := (ones-expected)*(ones-expected)/expected + (zeros-expected)*(zeros-expected)/expected
	passed := chiSquare < FrequencyChiSquareCritical

	proportion := ones / float64(n)
	deviation := math.Abs(proportion - 0.5)

	var quality Quality
	switch {
	case deviation < 0.02:
		quality = QualityExcellent
	case deviation < 0.05:
		quality = QualityGood
	case passed:
		quality = QualityAcceptable
	default:
		quality = QualityPoor
	}

	return TestResult{
		Name:      TestFrequency,
		Label:     label,
		Passed:    passed,
		Quality:   quality,
		Threshold: FrequencyChiSquareCritical,
		Statistics: map[string]float64{
			"ones_count":        ones,
			"zeros_count":       zeros,
			"proportion_ones":   round(proportion*100, 2),
			"deviation_from_50": round(deviation*100, 2),
			"chi_square":        round(chiSquare, 4),
			"p_value":           round(chiSquarePValue(chiSquare, 1), 6),
		},
	}
}

// Runs counts maximal blocks of identical symbols and compares the count to
// its expectation under independence, given the observed number of ones k:
// E = 1 + 2k(N-k)/N. The test passes when |z| < 1.96. A sequence made of a
// single symbol fails with ErrDegenerateSequence.
func Runs(seq BitSequence) TestResult {
	const label = "Runs Test"
	n := seq.Len()
	if n == 0 {
		return inapplicable(TestRuns, label, fmt.Errorf("%w: empty sequence", ErrInsufficientLength))
	}

	k := seq.Ones()
	if k == 0 || k == n {
		return inapplicable(TestRuns, label, fmt.Errorf("%w: all %d symbols are identical", ErrDegenerateSequence, n))
	}

	runs := 1
	for i := 1; i < n; i++ {
		if seq.At(i) != seq.At(i-1) {
			runs++
		}
	}

	nf := float64(n)
	kf := float64(k)
	product := 2 * kf * (nf - kf)

	expectedRuns := 1 + product/nf
	variance := product * (product - nf) / (nf * nf * (nf - 1))
	if variance <= 0 {
		variance = runsVarianceFloor
	}

	z := (float64(runs) - expectedRuns) / math.Sqrt(variance)
	absZ := math.Abs(z)
	passed := absZ < ZCritical

	return TestResult{
		Name:      TestRuns,
		Label:     label,
		Passed:    passed,
		Quality:   zQuality(absZ, passed),
		Threshold: ZCritical,
		Statistics: map[string]float64{
			"total_runs":    float64(runs),
			"expected_runs": round(expectedRuns, 2),
			"deviation":     round(math.Abs(float64(runs)-expectedRuns), 2),
			"z_score":       round(z, 4),
			"p_value":       round(normalPValue(absZ), 6),
		},
	}
}

// chiSquarePValue returns P(X > stat) for a chi-square variable with k
// degrees of freedom.
func chiSquarePValue(stat float64, k float64) float64 {
	dist := distuv.ChiSquared{K: k}
	return clampProbability(dist.Survival(stat))
}

// normalPValue returns the two-sided tail probability of a standard normal
// variable exceeding absZ.
func normalPValue(absZ float64) float64 {
	return clampProbability(2 * distuv.UnitNormal.Survival(absZ))
}

func clampProbability(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

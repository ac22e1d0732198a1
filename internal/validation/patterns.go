package validation

import (
	"fmt"
	"math"
)

const (
	// SerialChiSquareCritical is the chi-square critical value for three
	// degrees of freedom at alpha = 0.05.
	SerialChiSquareCritical = 7.81
	// SerialMinLength is the shortest sequence the serial test accepts.
	SerialMinLength = 4

	longestRunFloor = 10.0
)

var serialPatterns = [4]string{"00", "01", "10", "11"}

// Serial counts overlapping 2-bit patterns and compares each of the four
// buckets against (N-1)/4 with a three degree of freedom chi-square
// statistic. It passes when the statistic is below 7.81.
func Serial(seq BitSequence) TestResult {
	const label = "Serial Test (2-bit patterns)"
	n := seq.Len()
	if n < SerialMinLength {
		return inapplicable(TestSerial, label, fmt.Errorf("%w: serial test needs at least %d bits, got %d", ErrInsufficientLength, SerialMinLength, n))
	}

	counts := pairCounts(seq)
	windows := float64(n - 1)
	expected := windows / 4

	chiSquare := 0.0
	maxDeviation := 0.0
	stats := map[string]float64{
		"expected_proportion": 25,
	}
	for i, pattern := range serialPatterns {
		observed := float64(counts[i])
		chiSquare += (observed - expected) * (observed - expected) / expected

		proportion := observed / windows * 100
		if deviation := math.Abs(proportion - 25); deviation > maxDeviation {
			maxDeviation = deviation
		}
		stats["count_"+pattern] = observed
		stats["proportion_"+pattern] = round(proportion, 2)
	}

	passed := chiSquare < SerialChiSquareCritical

	var quality Quality
	switch {
	case maxDeviation < 3:
		quality = QualityExcellent
	case maxDeviation < 5:
		quality = QualityGood
	case passed:
		quality = QualityAcceptable
	default:
		quality = QualityPoor
	}

	stats["chi_square"] = round(chiSquare, 4)
	stats["max_deviation"] = round(maxDeviation, 2)
	stats["p_value"] = round(chiSquarePValue(chiSquare, 3), 6)

	return TestResult{
		Name:       TestSerial,
		Label:      label,
		Passed:     passed,
		Quality:    quality,
		Threshold:  SerialChiSquareCritical,
		Statistics: stats,
	}
}

// LongestRun tracks the longest run of zeros and of ones, including the final
// unterminated run. The expected maximum is log2(N) and the test passes when
// the longer of the two does not exceed max(2.5*log2(N), 10).
func LongestRun(seq BitSequence) TestResult {
	const label = "Longest Run Test"
	n := seq.Len()
	if n == 0 {
		return inapplicable(TestLongestRun, label, fmt.Errorf("%w: empty sequence", ErrInsufficientLength))
	}

	var longest [2]int
	current := 1
	for i := 1; i <= n; i++ {
		if i < n && seq.At(i) == seq.At(i-1) {
			current++
			continue
		}
		symbol := seq.At(i - 1)
		if current > longest[symbol] {
			longest[symbol] = current
		}
		current = 1
	}

	overall := longest[0]
	if longest[1] > overall {
		overall = longest[1]
	}

	expectedMax := math.Log2(float64(n))
	threshold := math.Max(2.5*expectedMax, longestRunFloor)
	observed := float64(overall)
	passed := observed <= threshold

	var quality Quality
	switch {
	case observed <= expectedMax*1.5:
		quality = QualityExcellent
	case observed <= expectedMax*2:
		quality = QualityGood
	case passed:
		quality = QualityAcceptable
	default:
		quality = QualityPoor
	}

	return TestResult{
		Name:      TestLongestRun,
		Label:     label,
		Passed:    passed,
		Quality:   quality,
		Threshold: round(threshold, 2),
		Statistics: map[string]float64{
			"longest_run_ones":    float64(longest[1]),
			"longest_run_zeros":   float64(longest[0]),
			"longest_run_overall": observed,
			"expected_max_run":    round(expectedMax, 2),
			"threshold":           round(threshold, 2),
		},
	}
}

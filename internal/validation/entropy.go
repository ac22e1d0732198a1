package validation

import (
	"fmt"
	"math"
)

// ShannonEntropyThreshold is the per-bit entropy a sequence must exceed.
const ShannonEntropyThreshold = 0.9

// ShannonEntropy computes H = -sum(p log2 p) over the {0,1} distribution and
// passes when H > 0.9. A block entropy over overlapping 2-bit windows,
// halved to a per-bit rate, is reported alongside but does not gate the
// result.
func ShannonEntropy(seq BitSequence) TestResult {
	const label = "Shannon Entropy Test"
	n := seq.Len()
	if n == 0 {
		return inapplicable(TestShannonEntropy, label, fmt.Errorf("%w: empty sequence", ErrInsufficientLength))
	}

	h := distributionEntropy([]int{seq.Zeros(), seq.Ones()}, n)

	blockEntropy := 0.0
	if n >= 2 {
		counts := pairCounts(seq)
		blockEntropy = distributionEntropy(counts[:], n-1) / 2
	}

	passed := h > ShannonEntropyThreshold

	var quality Quality
	switch {
	case h > 0.99:
		quality = QualityExcellent
	case h > 0.95:
		quality = QualityGood
	case passed:
		quality = QualityAcceptable
	default:
		quality = QualityPoor
	}

	percentage := round(h*100, 2)

	return TestResult{
		Name:      TestShannonEntropy,
		Label:     label,
		Passed:    passed,
		Quality:   quality,
		Threshold: ShannonEntropyThreshold,
		Statistics: map[string]float64{
			"entropy":            round(h, 6),
			"max_entropy":        1.0,
			"entropy_percentage": percentage,
			"block_entropy":      round(blockEntropy, 6),
		},
		Interpretation: fmt.Sprintf("Each bit carries %.2f%% of maximum possible information", percentage),
	}
}

// distributionEntropy returns the Shannon entropy in bits of a frequency
// distribution whose counts sum to total. Empty categories contribute zero.
func distributionEntropy(counts []int, total int) float64 {
	if total <= 0 {
		return 0
	}
	h := 0.0
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / float64(total)
		h -= p * math.Log2(p)
	}
	// -0 for a single populated category
	return math.Abs(h)
}

// pairCounts tallies overlapping 2-bit windows into buckets 00, 01, 10, 11.
func pairCounts(seq BitSequence) [4]int {
	var counts [4]int
	for i := 0; i+1 < seq.Len(); i++ {
		counts[seq.At(i)<<1|seq.At(i+1)]++
	}
	return counts
}

package validation

import (
	"math"
)

// Diagnostics carries non-gating min-entropy estimates computed over the
// packed bytes of a sequence. Values are in bits per byte, within [0, 8].
// They are zero when the sequence holds fewer than eight bits.
type Diagnostics struct {
	PackedBytes         int     `json:"packed_bytes"`
	MinEntropyMCV       float64 `json:"min_entropy_mcv"`
	MinEntropyCollision float64 `json:"min_entropy_collision"`
	MinEntropy          float64 `json:"min_entropy"`
	MostCommonByte      byte    `json:"most_common_byte"`
	UniqueBytes         int     `json:"unique_bytes"`
}

// Diagnose computes min-entropy diagnostics for seq.
func Diagnose(seq BitSequence) Diagnostics {
	data := seq.Bytes()
	if len(data) == 0 {
		return Diagnostics{}
	}

	mcv, mostCommon, _, unique := EstimateMCVWithStats(data)
	collision := EstimateCollision(data)

	return Diagnostics{
		PackedBytes:         len(data),
		MinEntropyMCV:       round(mcv, 6),
		MinEntropyCollision: round(collision, 6),
		MinEntropy:          round(math.Min(mcv, collision), 6),
		MostCommonByte:      mostCommon,
		UniqueBytes:         unique,
	}
}

// EstimateMCV estimates min-entropy using the Most Common Value method from
// NIST SP 800-90B Section 6.3.1: -log2(pmax) over byte values. Empty input
// yields 0.0.
func EstimateMCV(data []byte) float64 {
	minEntropy, _, _, _ := EstimateMCVWithStats(data)
	return minEntropy
}

// EstimateMCVWithStats returns the MCV estimate together with the most common
// byte value, its occurrence count and the number of distinct values seen.
// Ties resolve to the smallest byte value.
func EstimateMCVWithStats(data []byte) (minEntropy float64, mostCommonValue byte, maxCount int, uniqueValues int) {
	if len(data) == 0 {
		return 0.0, 0, 0, 0
	}

	var histogram [256]int
	for _, b := range data {
		if histogram[b] == 0 {
			uniqueValues++
		}
		histogram[b]++
	}

	for value, count := range histogram {
		if count > maxCount {
			maxCount = count
			mostCommonValue = byte(value)
		}
	}

	pMax := float64(maxCount) / float64(len(data))
	if pMax >= 1.0 {
		return 0.0, mostCommonValue, maxCount, uniqueValues
	}
	return -math.Log2(pMax), mostCommonValue, maxCount, uniqueValues
}

// EstimateCollision estimates min-entropy from the position of the first
// repeated byte value, following NIST SP 800-90B Section 6.3.2. It returns
// log2(t) for a one-indexed collision position t, clamped to [0, 8], and 8.0
// when no collision occurs. Empty input yields 0.0.
func EstimateCollision(data []byte) float64 {
	if len(data) == 0 {
		return 0.0
	}

	var seen [256]bool
	for i, b := range data {
		if seen[b] {
			t := i + 1
			if t == 2 {
				return 1.0
			}
			return math.Max(0, math.Min(8.0, math.Log2(float64(t))))
		}
		seen[b] = true
	}

	return 8.0
}

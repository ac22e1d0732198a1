package compare

import (
	"fmt"

	"entropy-compare/internal/source"
)

// Summary metric names, in table order.
const (
	MetricGenerationSpeed  = "Generation Speed"
	MetricEntropyScore     = "Entropy Score"
	MetricDeterministic    = "Deterministic"
	MetricCryptographicUse = "Cryptographic Use"
	MetricReproducibility  = "Reproducibility"
)

// SummaryRow is one line of the fixed five-row summary table.
type SummaryRow struct {
	Metric    string `json:"metric"`
	Classical string `json:"classical"`
	Quantum   string `json:"quantum"`
	Winner    string `json:"winner"`
}

// BuildSummary returns the five summary rows. Only the first two winners
// are computed; the remaining rows describe structural properties.
func BuildSummary(classical, quantum source.Record, entropy EntropyComparison, speed SpeedComparison) []SummaryRow {
	return []SummaryRow{
		{
			Metric:    MetricGenerationSpeed,
			Classical: fmt.Sprintf("%.3f ms", classical.GenerationTimeMS),
			Quantum:   fmt.Sprintf("%.3f ms", quantum.GenerationTimeMS),
			Winner:    speed.Faster,
		},
		{
			Metric:    MetricEntropyScore,
			Classical: fmt.Sprintf("%.1f%%", entropy.Classical.OverallScore),
			Quantum:   fmt.Sprintf("%.1f%%", entropy.Quantum.OverallScore),
			Winner:    EntropyWinner(entropy.Classical.OverallScore, entropy.Quantum.OverallScore),
		},
		{
			Metric:    MetricDeterministic,
			Classical: "Yes (same seed = same output)",
			Quantum:   "No (true randomness)",
			Winner:    SideQuantum,
		},
		{
			Metric:    MetricCryptographicUse,
			Classical: "Not suitable (PRNG output is predictable)",
			Quantum:   "Strong entropy source for keys",
			Winner:    SideQuantum,
		},
		{
			Metric:    MetricReproducibility,
			Classical: "Yes (useful for testing)",
			Quantum:   "No",
			Winner:    WinnerDepends,
		},
	}
}

// EntropyWinner favours the quantum side on equal scores.
func EntropyWinner(classicalScore, quantumScore float64) string {
	if quantumScore >= classicalScore {
		return SideQuantum
	}
	return SideClassical
}

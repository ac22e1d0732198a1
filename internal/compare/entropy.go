package compare

import "entropy-compare/internal/validation"

// SideScore condenses one AnalysisReport for side-by-side display.
type SideScore struct {
	OverallScore float64 `json:"overall_score"`
	Verdict      string  `json:"verdict"`
	Entropy      float64 `json:"entropy"`
	PassedTests  int     `json:"passed_tests"`
	TotalTests   int     `json:"total_tests"`
}

// EntropyComparison pairs the two analyses with the per-test winners.
type EntropyComparison struct {
	Classical         SideScore                 `json:"classical"`
	Quantum           SideScore                 `json:"quantum"`
	ClassicalAnalysis validation.AnalysisReport `json:"full_classical_analysis"`
	QuantumAnalysis   validation.AnalysisReport `json:"full_quantum_analysis"`
	TestWinners       map[string]string         `json:"test_winners"`
}

// CompareEntropy builds the entropy block from two analyses.
func CompareEntropy(classical, quantum validation.AnalysisReport) EntropyComparison {
	return EntropyComparison{
		Classical:         scoreOf(classical),
		Quantum:           scoreOf(quantum),
		ClassicalAnalysis: classical,
		QuantumAnalysis:   quantum,
		TestWinners:       TestWinners(classical, quantum),
	}
}

// TestWinners maps each test name to tie, classical, quantum or neither
// depending on which sides passed it. A test missing from one report counts
// as failed for that side.
func TestWinners(classical, quantum validation.AnalysisReport) map[string]string {
	winners := make(map[string]string, len(classical.Tests))
	for _, c := range classical.Tests {
		q, _ := quantum.Tests.Get(c.Name)
		winners[c.Name] = winnerOf(c.Passed, q.Passed)
	}
	for _, q := range quantum.Tests {
		if _, ok := winners[q.Name]; !ok {
			winners[q.Name] = winnerOf(false, q.Passed)
		}
	}
	return winners
}

func winnerOf(classicalPassed, quantumPassed bool) string {
	switch {
	case classicalPassed && quantumPassed:
		return WinnerTie
	case classicalPassed:
		return SideClassical
	case quantumPassed:
		return SideQuantum
	default:
		return WinnerNeither
	}
}

func scoreOf(r validation.AnalysisReport) SideScore {
	var entropy float64
	if t, ok := r.Tests.Get(validation.TestShannonEntropy); ok {
		entropy = t.Statistics["entropy"]
	}
	return SideScore{
		OverallScore: r.OverallScore,
		Verdict:      r.Verdict,
		Entropy:      entropy,
		PassedTests:  r.PassedTests,
		TotalTests:   r.TotalTests,
	}
}

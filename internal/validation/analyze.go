package validation

import "math"

// TotalTests is the fixed size of the test battery.
const TotalTests = 6

// Verdicts by score band.
const (
	VerdictHigh     = "HIGH QUALITY"
	VerdictModerate = "MODERATE QUALITY"
	VerdictLow      = "LOW QUALITY"
)

// AnalysisReport summarises the full battery over one sequence.
type AnalysisReport struct {
	Length       int         `json:"length"`
	Tests        TestResults `json:"tests"`
	OverallScore float64     `json:"overall_score"`
	Verdict      string      `json:"verdict"`
	PassedTests  int         `json:"passed_tests"`
	TotalTests   int         `json:"total_tests"`
	Diagnostics  Diagnostics `json:"diagnostics"`
}

// Analyze validates bits and runs the six tests over it. Only whole-sequence
// validation failures (ErrInvalidInput, ErrInsufficientLength) are returned
// as errors, in which case no partial report is produced.
func Analyze(bits string) (AnalysisReport, error) {
	seq, err := ParseBits(bits)
	if err != nil {
		return AnalysisReport{}, err
	}
	return AnalyzeSequence(seq), nil
}

// AnalyzeSequence runs the battery in fixed order over an already validated
// sequence. A test that cannot be applied is recorded as failed with its
// reason and does not affect the others.
func AnalyzeSequence(seq BitSequence) AnalysisReport {
	results := TestResults{
		Frequency(seq),
		Runs(seq),
		ShannonEntropy(seq),
		Serial(seq),
		LongestRun(seq),
		Autocorrelation(seq, DefaultLag),
	}

	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}

	score := Score(passed, TotalTests)
	return AnalysisReport{
		Length:       seq.Len(),
		Tests:        results,
		OverallScore: score,
		Verdict:      Verdict(score),
		PassedTests:  passed,
		TotalTests:   TotalTests,
		Diagnostics:  Diagnose(seq),
	}
}

// FailedTests returns the names of tests that did not pass, in order.
func (r AnalysisReport) FailedTests() []string {
	var failed []string
	for _, t := range r.Tests {
		if !t.Passed {
			failed = append(failed, t.Name)
		}
	}
	return failed
}

// Score returns 100*passed/total rounded to one decimal.
func Score(passed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(1000*float64(passed)/float64(total)) / 10
}

// Verdict bands a score: >=80 high, >=50 moderate, otherwise low.
func Verdict(score float64) string {
	switch {
	case score >= 80:
		return VerdictHigh
	case score >= 50:
		return VerdictModerate
	default:
		return VerdictLow
	}
}

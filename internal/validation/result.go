package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
)

// Quality grades how comfortably a test passed.
type Quality string

const (
	QualityExcellent  Quality = "Excellent"
	QualityGood       Quality = "Good"
	QualityAcceptable Quality = "Acceptable"
	QualityPoor       Quality = "Poor"
)

// Test identifiers, in the fixed order used by Analyze.
const (
	TestFrequency       = "frequency"
	TestRuns            = "runs"
	TestShannonEntropy  = "shannon_entropy"
	TestSerial          = "serial"
	TestLongestRun      = "longest_run"
	TestAutocorrelation = "autocorrelation"
)

// TestResult is the outcome of one statistical test.
type TestResult struct {
	Name           string             `json:"-"`
	Label          string             `json:"test"`
	Passed         bool               `json:"passed"`
	Quality        Quality            `json:"quality"`
	Threshold      float64            `json:"threshold,omitempty"`
	Statistics     map[string]float64 `json:"statistics,omitempty"`
	Interpretation string             `json:"interpretation,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	ErrorKind      string             `json:"error_kind,omitempty"`

	// Err holds ErrInsufficientLength, ErrDegenerateSequence or
	// ErrInvalidInput when the test could not be applied.
	Err error `json:"-"`
}

// Inapplicable reports whether the test could not be evaluated.
func (r TestResult) Inapplicable() bool {
	return r.Err != nil
}

// inapplicable builds a failed result carrying the reason the test could not run.
func inapplicable(name, label string, err error) TestResult {
	return TestResult{
		Name:      name,
		Label:     label,
		Passed:    false,
		Quality:   QualityPoor,
		Reason:    err.Error(),
		ErrorKind: ErrorKind(err),
		Err:       err,
	}
}

// ErrorKind maps a validation error to its stable taxonomy name.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInsufficientLength):
		return "insufficient_length"
	case errors.Is(err, ErrDegenerateSequence):
		return "degenerate_sequence"
	default:
		return "unknown"
	}
}

// TestResults keeps results in execution order and marshals to a JSON object
// keyed by test name in that same order.
type TestResults []TestResult

// Get returns the result for the named test.
func (rs TestResults) Get(name string) (TestResult, bool) {
	for _, r := range rs {
		if r.Name == name {
			return r, true
		}
	}
	return TestResult{}, false
}

// Names returns the test names in order.
func (rs TestResults) Names() []string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Name
	}
	return names
}

// MarshalJSON implements json.Marshaler.
func (rs TestResults) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, r := range rs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(r.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// zQuality grades a two-sided z statistic. Shared by the runs and
// autocorrelation tests.
func zQuality(absZ float64, passed bool) Quality {
	switch {
	case absZ < 1.0:
		return QualityExcellent
	case absZ < 1.5:
		return QualityGood
	case passed:
		return QualityAcceptable
	default:
		return QualityPoor
	}
}

func round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}

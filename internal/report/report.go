// Package report renders analysis and comparison reports as JSON, Markdown
// or XLSX workbooks.
package report

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"entropy-compare/internal/compare"
	"entropy-compare/internal/validation"
)

// Format selects a renderer.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatXLSX     Format = "xlsx"
)

// ErrUnsupportedFormat is returned for unknown format names.
var ErrUnsupportedFormat = errors.New("unsupported report format")

// ParseFormat accepts json, markdown (or md) and xlsx, case-insensitively.
// An empty name selects JSON.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// WriteComparison renders a comparison report in the given format.
func WriteComparison(w io.Writer, format Format, r compare.Report) error {
	switch format {
	case FormatJSON:
		return JSON(w, r)
	case FormatMarkdown:
		return ComparisonMarkdown(w, r)
	case FormatXLSX:
		return ComparisonXLSX(w, r)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// WriteAnalysis renders a single analysis report in the given format.
func WriteAnalysis(w io.Writer, format Format, r validation.AnalysisReport) error {
	switch format {
	case FormatJSON:
		return JSON(w, r)
	case FormatMarkdown:
		return AnalysisMarkdown(w, r)
	case FormatXLSX:
		return AnalysisXLSX(w, r)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// testRow is one test of a comparison, in battery order.
type testRow struct {
	Label     string
	Classical validation.TestResult
	Quantum   validation.TestResult
	Winner    string
}

// testRows lines up both analyses by test name. Tests present on only one
// side keep a zero result for the other.
func testRows(e compare.EntropyComparison) []testRow {
	rows := make([]testRow, 0, len(e.ClassicalAnalysis.Tests))
	seen := make(map[string]bool, len(e.ClassicalAnalysis.Tests))
	for _, c := range e.ClassicalAnalysis.Tests {
		q, _ := e.QuantumAnalysis.Tests.Get(c.Name)
		rows = append(rows, testRow{Label: c.Label, Classical: c, Quantum: q, Winner: e.TestWinners[c.Name]})
		seen[c.Name] = true
	}
	for _, q := range e.QuantumAnalysis.Tests {
		if seen[q.Name] {
			continue
		}
		rows = append(rows, testRow{Label: q.Label, Quantum: q, Winner: e.TestWinners[q.Name]})
	}
	return rows
}

func passFail(r validation.TestResult) string {
	switch {
	case r.Label == "":
		return "n/a"
	case r.Passed:
		return "PASS"
	default:
		return "FAIL"
	}
}

// statistics formats a statistics map as sorted key=value pairs.
func statistics(stats map[string]float64) string {
	if len(stats) == 0 {
		return ""
	}
	parts := make([]string, 0, len(stats))
	for _, k := range slices.Sorted(maps.Keys(stats)) {
		parts = append(parts, k+"="+formatFloat(stats[k]))
	}
	return strings.Join(parts, ", ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

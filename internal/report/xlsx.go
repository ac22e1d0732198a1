package report

import (
	"fmt"
	"io"
	"time"

	"entropy-compare/internal/compare"
	"entropy-compare/internal/validation"

	"github.com/xuri/excelize/v2"
)

// Sheet names used in workbooks.
const (
	SheetSummary    = "Summary"
	SheetTests      = "Tests"
	SheetGeneration = "Generation"
	SheetSecurity   = "Security"
)

const defaultSheet = "Sheet1"

// ComparisonXLSX writes a comparison report as a workbook with Summary, Tests,
// Generation and Security sheets.
func ComparisonXLSX(w io.Writer, r compare.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	summary := [][]any{
		{"Report ID", r.ID},
		{"Bit Length", r.Parameters.Length},
		{"Mode", r.Parameters.Mode},
		{"Shots", r.Parameters.Shots},
		{"Timestamp", r.Parameters.Timestamp.Format(time.RFC3339)},
		{},
		{"Metric", "Classical", "Quantum", "Winner"},
	}
	for _, row := range r.Summary {
		summary = append(summary, []any{row.Metric, row.Classical, row.Quantum, row.Winner})
	}
	summary = append(summary, []any{}, []any{"Speed", r.Speed.Message, r.Speed.Ratio, r.Speed.Faster})
	if r.Quantum.Simulated {
		summary = append(summary, []any{"Fallback", r.Quantum.Note})
	}
	if err := fillSheet(f, SheetSummary, []string{"Field", "Value"}, summary); err != nil {
		return err
	}

	tests := make([][]any, 0, len(r.Entropy.TestWinners))
	for _, t := range testRows(r.Entropy) {
		tests = append(tests, []any{
			t.Label,
			passFail(t.Classical), statistics(t.Classical.Statistics),
			passFail(t.Quantum), statistics(t.Quantum.Statistics),
			t.Winner,
		})
	}
	tests = append(tests,
		[]any{},
		[]any{"Overall Score", r.Entropy.Classical.OverallScore, r.Entropy.Classical.Verdict, r.Entropy.Quantum.OverallScore, r.Entropy.Quantum.Verdict},
	)
	if err := fillSheet(f, SheetTests,
		[]string{"Test", "Classical", "Classical Statistics", "Quantum", "Quantum Statistics", "Winner"}, tests); err != nil {
		return err
	}

	generation := make([][]any, 0, 11)
	for _, row := range generationRows(r.Classical, r.Quantum) {
		generation = append(generation, []any{row[0], row[1], row[2]})
	}
	generation = append(generation, []any{"Binary", r.Classical.Binary, r.Quantum.Binary})
	if err := fillSheet(f, SheetGeneration, []string{"Property", "Classical", "Quantum"}, generation); err != nil {
		return err
	}

	s := r.Security
	security := [][]any{
		{"Model", s.Classical.Model, s.Quantum.Model},
		{"Predictability", s.Classical.Predictability, s.Quantum.Predictability},
		{"Known Attack", s.Classical.KnownAttack, s.Quantum.KnownAttack},
		{"Impact", s.Classical.Impact, s.Quantum.Impact},
		{"Recommendation", s.Classical.Recommendation, s.Quantum.Recommendation},
		{},
		{"Conclusion", s.Conclusion},
	}
	if err := fillSheet(f, SheetSecurity, []string{"Aspect", "Classical", "Quantum"}, security); err != nil {
		return err
	}

	return f.Write(w)
}

// AnalysisXLSX writes a single analysis report as a workbook with a Summary
// and a Tests sheet.
func AnalysisXLSX(w io.Writer, r validation.AnalysisReport) error {
	f := excelize.NewFile()
	defer f.Close()

	summary := [][]any{
		{"Length", r.Length},
		{"Overall Score", r.OverallScore},
		{"Verdict", r.Verdict},
		{"Passed Tests", r.PassedTests},
		{"Total Tests", r.TotalTests},
		{"Min-Entropy", r.Diagnostics.MinEntropy},
	}
	if err := fillSheet(f, SheetSummary, []string{"Field", "Value"}, summary); err != nil {
		return err
	}

	tests := make([][]any, 0, len(r.Tests))
	for _, t := range r.Tests {
		tests = append(tests, []any{t.Label, passFail(t), string(t.Quality), statistics(t.Statistics), t.Interpretation, t.Reason})
	}
	if err := fillSheet(f, SheetTests,
		[]string{"Test", "Result", "Quality", "Statistics", "Interpretation", "Reason"}, tests); err != nil {
		return err
	}
	return f.Write(w)
}

// fillSheet writes a header row and data rows to sheet, reusing the default
// sheet for the first one created.
func fillSheet(f *excelize.File, sheet string, header []string, rows [][]any) error {
	if idx, err := f.GetSheetIndex(defaultSheet); err == nil && idx != -1 {
		if err := f.SetSheetName(defaultSheet, sheet); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	} else if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}

	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}

	last, _ := excelize.ColumnNumberToName(max(len(header), 1))
	return f.SetColWidth(sheet, "A", last, 24)
}

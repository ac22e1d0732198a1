package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"entropy-compare/internal/compare"
	"entropy-compare/internal/source"
	"entropy-compare/internal/validation"

	"github.com/nao1215/markdown"
)

// ComparisonMarkdown writes a comparison report as GitHub-flavoured Markdown.
func ComparisonMarkdown(w io.Writer, r compare.Report) error {
	md := markdown.NewMarkdown(w)

	md.H1("Randomness Comparison Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Parameter", "Value"},
		Rows: [][]string{
			{"Report ID", "`" + r.ID + "`"},
			{"Bit Length", strconv.Itoa(r.Parameters.Length)},
			{"Mode", r.Parameters.Mode},
			{"Shots", strconv.Itoa(r.Parameters.Shots)},
			{"Timestamp", r.Parameters.Timestamp.Format(time.RFC3339)},
		},
	})
	md.PlainText("")
	if r.Quantum.Simulated {
		md.Warningf("Quantum output was produced by the local simulator fallback. %s", r.Quantum.Note)
		md.PlainText("")
	}

	writeGeneration(md, r.Classical, r.Quantum)
	writeEntropy(md, r.Entropy)
	writeSpeed(md, r.Speed)

	md.H2("Summary")
	md.PlainText("")
	rows := make([][]string, 0, len(r.Summary))
	for _, row := range r.Summary {
		rows = append(rows, []string{row.Metric, row.Classical, row.Quantum, row.Winner})
	}
	md.Table(markdown.TableSet{Header: []string{"Metric", "Classical", "Quantum", "Winner"}, Rows: rows})
	md.PlainText("")

	writeSecurity(md, r.Security)
	return md.Build()
}

// AnalysisMarkdown writes a single analysis report as Markdown.
func AnalysisMarkdown(w io.Writer, r validation.AnalysisReport) error {
	md := markdown.NewMarkdown(w)

	md.H1("Randomness Analysis Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Length", strconv.Itoa(r.Length)},
			{"Overall Score", fmt.Sprintf("%.1f%%", r.OverallScore)},
			{"Verdict", r.Verdict},
			{"Passed Tests", fmt.Sprintf("%d / %d", r.PassedTests, r.TotalTests)},
			{"Min-Entropy", formatFloat(r.Diagnostics.MinEntropy)},
		},
	})
	md.PlainText("")

	switch r.Verdict {
	case validation.VerdictHigh:
		md.Tip("The sequence passed the battery with a high score.")
	case validation.VerdictModerate:
		md.Note("Some tests failed. Review the failing tests before relying on this source.")
	default:
		md.Warningf("Low quality sequence: %d of %d tests passed.", r.PassedTests, r.TotalTests)
	}
	md.PlainText("")

	md.H2("Tests")
	md.PlainText("")
	rows := make([][]string, 0, len(r.Tests))
	for _, t := range r.Tests {
		detail := t.Interpretation
		if t.Inapplicable() {
			detail = t.Reason
		}
		rows = append(rows, []string{t.Label, passFail(t), string(t.Quality), statistics(t.Statistics), detail})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Test", "Result", "Quality", "Statistics", "Interpretation"},
		Rows:   rows,
	})
	md.PlainText("")
	return md.Build()
}

func writeGeneration(md *markdown.Markdown, classical, quantum source.Record) {
	md.H2("Generation")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Classical", "Quantum"},
		Rows:   generationRows(classical, quantum),
	})
	md.PlainText("")
}

func generationRows(classical, quantum source.Record) [][]string {
	return [][]string{
		{"Method", classical.Method, quantum.Method},
		{"Algorithm", classical.Algorithm, quantum.Algorithm},
		{"Length", strconv.Itoa(classical.Length), strconv.Itoa(quantum.Length)},
		{"Generation Time (ms)", formatFloat(classical.GenerationTimeMS), formatFloat(quantum.GenerationTimeMS)},
		{"Bits per ms", formatFloat(classical.BitsPerMS), formatFloat(quantum.BitsPerMS)},
		{"Deterministic", yesNo(classical.Deterministic), yesNo(quantum.Deterministic)},
		{"Cryptographic Strength", classical.CryptographicStrength, quantum.CryptographicStrength},
		{"Source", classical.Source, quantum.Source},
		{"Backend", classical.Backend, quantum.Backend},
		{"Simulated", yesNo(classical.Simulated), yesNo(quantum.Simulated)},
		{"Hex", "`" + classical.Hex + "`", "`" + quantum.Hex + "`"},
	}
}

func writeEntropy(md *markdown.Markdown, e compare.EntropyComparison) {
	md.H2("Entropy")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Side", "Score", "Verdict", "Shannon Entropy", "Passed"},
		Rows: [][]string{
			sideRow("Classical", e.Classical),
			sideRow("Quantum", e.Quantum),
		},
	})
	md.PlainText("")

	rows := make([][]string, 0, len(e.TestWinners))
	for _, t := range testRows(e) {
		rows = append(rows, []string{t.Label, passFail(t.Classical), passFail(t.Quantum), t.Winner})
	}
	md.H3("Per-Test Winners")
	md.PlainText("")
	md.Table(markdown.TableSet{Header: []string{"Test", "Classical", "Quantum", "Winner"}, Rows: rows})
	md.PlainText("")
}

func sideRow(side string, s compare.SideScore) []string {
	return []string{
		side,
		fmt.Sprintf("%.1f%%", s.OverallScore),
		s.Verdict,
		fmt.Sprintf("%.4f", s.Entropy),
		fmt.Sprintf("%d / %d", s.PassedTests, s.TotalTests),
	}
}

func writeSpeed(md *markdown.Markdown, s compare.SpeedComparison) {
	md.H2("Speed")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Classical (ms)", "Quantum (ms)", "Ratio", "Faster"},
		Rows: [][]string{
			{formatFloat(s.ClassicalTimeMS), formatFloat(s.QuantumTimeMS), formatFloat(s.Ratio), s.Faster},
		},
	})
	md.PlainText("")
	md.PlainText(s.Message)
	md.PlainText("")
	if s.Note != "" {
		md.Note(s.Note)
		md.PlainText("")
	}
}

func writeSecurity(md *markdown.Markdown, s compare.Security) {
	md.H2("Security")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Aspect", "Classical", "Quantum"},
		Rows: [][]string{
			{"Model", s.Classical.Model, s.Quantum.Model},
			{"Predictability", s.Classical.Predictability, s.Quantum.Predictability},
			{"Known Attack", s.Classical.KnownAttack, s.Quantum.KnownAttack},
			{"Impact", s.Classical.Impact, s.Quantum.Impact},
			{"Recommendation", s.Classical.Recommendation, s.Quantum.Recommendation},
		},
	})
	md.PlainText("")
	md.PlainText(s.Conclusion)
	md.PlainText("")
}

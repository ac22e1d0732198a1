package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"entropy-compare/internal/compare"
	"entropy-compare/internal/metrics"
	"entropy-compare/internal/report"
	"entropy-compare/internal/source"
	"entropy-compare/internal/validation"

	"github.com/spf13/cobra"
)

const (
	defaultLength = 256
	cliOrigin     = "cli"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var file, format, output string

	cmd := &cobra.Command{
		Use:   "analyze [BITS]",
		Short: "Run the six-test battery over a bit string",
		Long: `Analyze runs the frequency, runs, Shannon entropy, serial, longest run and
autocorrelation tests over a string of '0' and '1' characters and prints the
per-test results, the overall score and a quality verdict.

Examples:
  entropy-compare analyze 0110100110010110...
  entropy-compare analyze --file bits.txt --format markdown`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			bits, err := readBits(args, file)
			if err != nil {
				return err
			}
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			r, err := validation.Analyze(bits)
			if err != nil {
				return err
			}
			metrics.RecordAnalysis(cliOrigin, r.OverallScore, r.Verdict, r.FailedTests())

			return a.writeOutput(output, f, func(w io.Writer) error {
				return report.WriteAnalysis(w, f, r)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the bit string from a file instead of the argument")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json, markdown or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to a file instead of stdout")
	return cmd
}

func newCompareCmd(a *app) *cobra.Command {
	var (
		req            compare.Request
		seed           int64
		format, output string
	)

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Generate bits from both sources and compare them",
		Long: `Compare generates the requested number of bits from the classical PRNG and from
the quantum simulator or the configured hardware backend, analyzes both and
reports per-test winners, speed, a five-row summary and a security comparison.

In simulator mode a failed simulator run is replaced by locally generated bits
and flagged as simulated. Hardware failures are reported as errors.

Examples:
  entropy-compare compare --length 512 --seed 42
  entropy-compare compare --mode hardware --format xlsx --output report.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				req.Seed = &seed
			}
			if req.Shots == 0 {
				req.Shots = a.cfg.Generation.DefaultShots
			}

			hw, err := openHardware(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return fmt.Errorf("hardware: %w", err)
			}
			defer hw.Close()
			comparator, _ := newComparator(hw, a.logger)

			ctx, cancel := a.generationContext(cmd.Context())
			defer cancel()
			r, err := comparator.Compare(ctx, req)
			if err != nil {
				return describeError(err)
			}

			return a.writeOutput(output, f, func(w io.Writer) error {
				return report.WriteComparison(w, f, r)
			})
		},
	}
	cmd.Flags().IntVarP(&req.Length, "length", "n", defaultLength, "number of bits to generate from each source")
	cmd.Flags().StringVarP(&req.Mode, "mode", "m", source.ModeSimulator, "quantum mode: simulator or hardware")
	cmd.Flags().IntVar(&req.Shots, "shots", 0, "simulator shots per circuit (default from configuration)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "seed for the classical PRNG")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json, markdown or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to a file instead of stdout")
	return cmd
}

func newBenchmarkCmd(a *app) *cobra.Command {
	var req compare.BenchmarkRequest

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Time repeated generations from one source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hw, err := openHardware(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return fmt.Errorf("hardware: %w", err)
			}
			defer hw.Close()
			comparator, _ := newComparator(hw, a.logger)

			ctx, cancel := a.generationContext(cmd.Context())
			defer cancel()
			result, err := comparator.Benchmark(ctx, req)
			if err != nil {
				return describeError(err)
			}
			return report.JSON(a.stdout, result)
		},
	}
	cmd.Flags().StringVar(&req.Method, "method", compare.SideClassical, "source to benchmark: classical or quantum")
	cmd.Flags().IntVarP(&req.Length, "length", "n", defaultLength, "bits per generation")
	cmd.Flags().IntVarP(&req.Iterations, "iterations", "i", compare.DefaultIterations, "number of timed generations")
	cmd.Flags().StringVarP(&req.Mode, "mode", "m", source.ModeSimulator, "quantum mode: simulator or hardware")
	cmd.Flags().IntVar(&req.Shots, "shots", 0, "simulator shots per circuit")
	return cmd
}

// readBits takes the bit string from exactly one of the positional argument
// or the file. Whitespace, including line breaks, is stripped.
func readBits(args []string, file string) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", errors.New("pass either BITS or --file, not both")
	case len(args) == 1:
		return strings.Join(strings.Fields(args[0]), ""), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read bits: %w", err)
		}
		return strings.Join(strings.Fields(string(data)), ""), nil
	default:
		return "", errors.New("a bit string is required (pass BITS or --file)")
	}
}

func (a *app) generationContext(parent context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Generation.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, a.cfg.Generation.Timeout)
}

// writeOutput renders to stdout or, when path is set, to a file. Workbooks
// are never written to a terminal.
func (a *app) writeOutput(path string, format report.Format, render func(io.Writer) error) error {
	if path == "" || path == "-" {
		if format == report.FormatXLSX {
			return errors.New("xlsx output requires --output")
		}
		return render(a.stdout)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := render(file); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	a.logger.Infow("report written", "path", path, "format", format)
	return nil
}

// describeError appends the hint carried by a source failure.
func describeError(err error) error {
	var srcErr *source.Error
	if errors.As(err, &srcErr) && srcErr.Hint != "" {
		return fmt.Errorf("%w (hint: %s)", err, srcErr.Hint)
	}
	return err
}

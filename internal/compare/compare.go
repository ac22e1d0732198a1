// Package compare runs a classical PRNG and an external entropy source side
// by side, scores both outputs with the validation battery and assembles the
// comparison report: per-test winners, speed, a fixed summary table and the
// security narrative.
package compare

import (
	"context"
	"fmt"
	"time"

	"entropy-compare/internal/clock"
	"entropy-compare/internal/metrics"
	"entropy-compare/internal/source"
	"entropy-compare/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sides and winner labels.
const (
	SideClassical = "classical"
	SideQuantum   = "quantum"

	WinnerTie     = "tie"
	WinnerNeither = "neither"
	WinnerDepends = "depends"
)

// fallbackTimeout bounds the substitute generation after a simulator failure.
const fallbackTimeout = 5 * time.Second

// Request holds the parameters of one comparison.
type Request struct {
	Length int
	Mode   string
	Shots  int
	Seed   *int64
}

// Parameters echoes the normalized request in the report.
type Parameters struct {
	Length    int       `json:"bit_length"`
	Mode      string    `json:"mode"`
	Shots     int       `json:"shots"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the full result of Compare.
type Report struct {
	ID         string            `json:"id"`
	Parameters Parameters        `json:"comparison_parameters"`
	Classical  source.Record     `json:"classical_generation"`
	Quantum    source.Record     `json:"quantum_generation"`
	Entropy    EntropyComparison `json:"entropy_comparison"`
	Speed      SpeedComparison   `json:"speed_comparison"`
	Summary    []SummaryRow      `json:"summary"`
	Security   Security          `json:"security_comparison"`
}

// Comparator holds the two sources under comparison. It has no mutable
// state and may be shared between goroutines.
type Comparator struct {
	classical source.Source
	external  source.Source
	fallback  *source.Fallback
	clock     clock.Clock
	logger    *zap.SugaredLogger
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithFallback replaces the crypto/rand fallback used when the simulator
// fails.
func WithFallback(fallback *source.Fallback) Option {
	return func(c *Comparator) {
		if fallback != nil {
			c.fallback = fallback
		}
	}
}

// WithClock injects the clock used for report timestamps and benchmarks.
func WithClock(clockSource clock.Clock) Option {
	return func(c *Comparator) {
		if clockSource != nil {
			c.clock = clockSource
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Comparator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns a Comparator over a classical and an external source.
func New(classical, external source.Source, opts ...Option) *Comparator {
	c := &Comparator{
		classical: classical,
		external:  external,
		clock:     clock.RealClock{},
		logger:    zap.S().Named("compare"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fallback == nil {
		c.fallback = source.NewFallback(source.WithClock(c.clock), source.WithLogger(c.logger))
	}
	return c
}

// Compare generates req.Length bits from both sources concurrently and
// builds the report. A classical failure aborts the comparison. An external
// failure is replaced by the fallback in simulator mode and returned as is
// in every other mode.
func (c *Comparator) Compare(ctx context.Context, req Request) (Report, error) {
	genReq, err := c.normalize(req)
	if err != nil {
		return Report{}, err
	}

	var (
		classicalRec, quantumRec source.Record
		externalErr              error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rec, err := c.classical.Produce(gctx, genReq)
		if err != nil {
			return fmt.Errorf("compare: classical source: %w", err)
		}
		classicalRec = rec
		return nil
	})
	g.Go(func() error {
		quantumRec, externalErr = c.external.Produce(gctx, genReq)
		return nil
	})
	if err := g.Wait(); err != nil {
		metrics.RecordGenerationError(SideClassical)
		return Report{}, err
	}
	metrics.RecordGeneration(SideClassical, classicalRec.Length, classicalRec.GenerationTimeMS)

	if externalErr != nil {
		metrics.RecordGenerationError(genReq.Mode)
		if genReq.Mode != source.ModeSimulator {
			c.logger.Warnw("external source failed", "mode", genReq.Mode, "error", externalErr)
			return Report{}, externalErr
		}
		// The external failure may be the request deadline itself, so the
		// fallback runs on a detached context with its own bound.
		fbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fallbackTimeout)
		quantumRec, err = c.fallback.Substitute(fbCtx, genReq, externalErr)
		cancel()
		if err != nil {
			return Report{}, fmt.Errorf("compare: %w", err)
		}
		metrics.RecordFallback()
	}
	metrics.RecordGeneration(genReq.Mode, quantumRec.Length, quantumRec.GenerationTimeMS)

	report, err := c.assemble(genReq, classicalRec, quantumRec)
	if err != nil {
		return Report{}, err
	}

	metrics.RecordComparison(genReq.Mode, EntropyWinner(report.Entropy.Classical.OverallScore, report.Entropy.Quantum.OverallScore))
	c.logger.Infow("comparison complete",
		"id", report.ID,
		"mode", genReq.Mode,
		"length", genReq.Length,
		"classical_score", report.Entropy.Classical.OverallScore,
		"quantum_score", report.Entropy.Quantum.OverallScore,
		"simulated", quantumRec.Simulated)
	return report, nil
}

func (c *Comparator) normalize(req Request) (source.Request, error) {
	if req.Length < validation.MinAnalysisLength {
		return source.Request{}, fmt.Errorf("compare: %w: length %d is below the analysable minimum of %d",
			validation.ErrInsufficientLength, req.Length, validation.MinAnalysisLength)
	}
	shots, err := source.NormalizeShots(req.Shots)
	if err != nil {
		return source.Request{}, fmt.Errorf("compare: %w", err)
	}
	return source.Request{
		Length: req.Length,
		Mode:   source.NormalizeMode(req.Mode),
		Shots:  shots,
		Seed:   req.Seed,
	}, nil
}

// assemble runs the pure steps over the two records.
func (c *Comparator) assemble(req source.Request, classicalRec, quantumRec source.Record) (Report, error) {
	classicalReport, err := analyzeRecord(SideClassical, classicalRec)
	if err != nil {
		return Report{}, err
	}
	quantumReport, err := analyzeRecord(SideQuantum, quantumRec)
	if err != nil {
		return Report{}, err
	}

	entropy := CompareEntropy(classicalReport, quantumReport)
	speed := CompareSpeed(classicalRec.GenerationTimeMS, quantumRec.GenerationTimeMS, req.Mode)

	return Report{
		ID: uuid.NewString(),
		Parameters: Parameters{
			Length:    req.Length,
			Mode:      req.Mode,
			Shots:     req.Shots,
			Timestamp: c.clock.Now().UTC(),
		},
		Classical: classicalRec,
		Quantum:   quantumRec,
		Entropy:   entropy,
		Speed:     speed,
		Summary:   BuildSummary(classicalRec, quantumRec, entropy, speed),
		Security:  SecurityAnalysis(),
	}, nil
}

// analyzeRecord scores one record and records the analysis metric under the
// side's origin label.
func analyzeRecord(side string, rec source.Record) (validation.AnalysisReport, error) {
	report, err := validation.Analyze(rec.Binary)
	if err != nil {
		return validation.AnalysisReport{}, fmt.Errorf("compare: %s output: %w", side, err)
	}
	metrics.RecordAnalysis(side, report.OverallScore, report.Verdict, report.FailedTests())
	return report, nil
}

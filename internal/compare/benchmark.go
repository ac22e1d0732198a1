package compare

import (
	"context"
	"fmt"
	"math"
	"strings"

	"entropy-compare/internal/clock"
	"entropy-compare/internal/metrics"
	"entropy-compare/internal/source"

	"github.com/montanaflynn/stats"
)

// Benchmark iteration limits.
const (
	DefaultIterations = 10
	MaxIterations     = 100
)

// BenchmarkRequest selects the side to time and the per-iteration request.
type BenchmarkRequest struct {
	Method     string
	Length     int
	Iterations int
	Mode       string
	Shots      int
}

// BenchmarkResult summarises repeated generation timings.
type BenchmarkResult struct {
	Method            string    `json:"method"`
	Mode              string    `json:"mode,omitempty"`
	BitsPerGeneration int       `json:"bits_per_generation"`
	Iterations        int       `json:"iterations"`
	AverageTimeMS     float64   `json:"average_time_ms"`
	MinTimeMS         float64   `json:"min_time_ms"`
	MaxTimeMS         float64   `json:"max_time_ms"`
	StdDevTimeMS      float64   `json:"stddev_time_ms"`
	BitsPerSecond     float64   `json:"bits_per_second"`
	TimesMS           []float64 `json:"times_ms"`
}

// Benchmark runs one side Iterations times and reports timing statistics.
// The quantum side uses the external source without fallback, so a failing
// simulator surfaces its error.
func (c *Comparator) Benchmark(ctx context.Context, req BenchmarkRequest) (BenchmarkResult, error) {
	method := strings.ToLower(strings.TrimSpace(req.Method))
	var src source.Source
	switch method {
	case SideClassical:
		src = c.classical
	case SideQuantum:
		src = c.external
	default:
		return BenchmarkResult{}, fmt.Errorf("compare: %w: unknown method %q", source.ErrInvalidRequest, req.Method)
	}

	iterations := req.Iterations
	if iterations == 0 {
		iterations = DefaultIterations
	}
	if iterations < 1 || iterations > MaxIterations {
		return BenchmarkResult{}, fmt.Errorf("compare: %w: iterations must be between 1 and %d, got %d",
			source.ErrInvalidRequest, MaxIterations, req.Iterations)
	}
	shots, err := source.NormalizeShots(req.Shots)
	if err != nil {
		return BenchmarkResult{}, fmt.Errorf("compare: %w", err)
	}

	genReq := source.Request{Length: req.Length, Mode: source.NormalizeMode(req.Mode), Shots: shots}
	times := make(stats.Float64Data, 0, iterations)
	for range iterations {
		if err := ctx.Err(); err != nil {
			return BenchmarkResult{}, err
		}
		sw := clock.Start(c.clock)
		if _, err := src.Produce(ctx, genReq); err != nil {
			return BenchmarkResult{}, err
		}
		times = append(times, sw.ElapsedMS())
	}

	result, err := summarize(times)
	if err != nil {
		return BenchmarkResult{}, fmt.Errorf("compare: benchmark statistics: %w", err)
	}
	result.Method = method
	if method == SideQuantum {
		result.Mode = genReq.Mode
	}
	result.BitsPerGeneration = req.Length
	result.Iterations = iterations
	if result.AverageTimeMS > 0 {
		result.BitsPerSecond = math.Round(float64(req.Length) * 1000 / result.AverageTimeMS)
	}

	metrics.RecordBenchmark(method)
	c.logger.Debugw("benchmark complete", "method", method, "iterations", iterations, "avg_ms", result.AverageTimeMS)
	return result, nil
}

func summarize(times stats.Float64Data) (BenchmarkResult, error) {
	mean, err := times.Mean()
	if err != nil {
		return BenchmarkResult{}, err
	}
	minimum, err := times.Min()
	if err != nil {
		return BenchmarkResult{}, err
	}
	maximum, err := times.Max()
	if err != nil {
		return BenchmarkResult{}, err
	}
	stddev, err := times.StandardDeviation()
	if err != nil {
		return BenchmarkResult{}, err
	}

	rounded := make([]float64, len(times))
	for i, t := range times {
		rounded[i] = round3(t)
	}
	return BenchmarkResult{
		AverageTimeMS: round3(mean),
		MinTimeMS:     round3(minimum),
		MaxTimeMS:     round3(maximum),
		StdDevTimeMS:  round3(stddev),
		TimesMS:       rounded,
	}, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"entropy-compare/internal/compare"
	"entropy-compare/internal/metrics"
	"entropy-compare/internal/source"
	"entropy-compare/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	defaultCompareLength = 256
	defaultEntropyBytes  = 32
	minEntropyBytes      = 1
	maxEntropyBytes      = 4096
	analysisOrigin       = "api"
)

type analyzeBody struct {
	Binary string `json:"binary"`
}

type compareBody struct {
	Length int    `json:"length"`
	Mode   string `json:"mode"`
	Shots  int    `json:"shots"`
	Seed   *int64 `json:"seed"`
}

type benchmarkBody struct {
	Method     string `json:"method"`
	Length     int    `json:"length"`
	Iterations int    `json:"iterations"`
	Mode       string `json:"mode"`
	Shots      int    `json:"shots"`
}

type analyzeResponse struct {
	RequestID string `json:"request_id"`
	validation.AnalysisReport
}

type compareResponse struct {
	RequestID string `json:"request_id"`
	compare.Report
}

type benchmarkResponse struct {
	RequestID string `json:"request_id"`
	compare.BenchmarkResult
}

type poolHealth struct {
	RawEvents      int `json:"raw_events"`
	WhitenedBytes  int `json:"whitened_bytes"`
	AvailableBytes int `json:"available_bytes"`
}

type healthResponse struct {
	RequestID       string         `json:"request_id"`
	Status          string         `json:"status"`
	HardwareBackend string         `json:"hardware_backend"`
	Hardware        *source.Status `json:"hardware,omitempty"`
	Pool            *poolHealth    `json:"pool,omitempty"`
}

// bind validates the raw body against schema and decodes it into dst.
func (s *Server) bind(c *gin.Context, schema *jsonschema.Schema, dst any) bool {
	raw, err := c.GetRawData()
	if err != nil {
		badRequest(c, "request body could not be read", err.Error())
		return false
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := validateJSON(schema, raw); err != nil {
		badRequest(c, "request body failed validation", err.Error())
		return false
	}
	if err := decodeStrict(raw, dst); err != nil {
		badRequest(c, "request body could not be decoded", err.Error())
		return false
	}
	return true
}

func (s *Server) generationContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.generationTimeout)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var body analyzeBody
	if !s.bind(c, s.schemas.analyze, &body) {
		return
	}

	report, err := validation.Analyze(body.Binary)
	if err != nil {
		fail(c, err)
		return
	}
	metrics.RecordAnalysis(analysisOrigin, report.OverallScore, report.Verdict, report.FailedTests())

	setNoStoreHeaders(c)
	c.JSON(http.StatusOK, analyzeResponse{RequestID: requestID(c), AnalysisReport: report})
}

func (s *Server) handleCompare(c *gin.Context) {
	var body compareBody
	if !s.bind(c, s.schemas.compare, &body) {
		return
	}
	if body.Length == 0 {
		body.Length = defaultCompareLength
	}

	ctx, cancel := s.generationContext(c)
	defer cancel()

	report, err := s.deps.Comparator.Compare(ctx, compare.Request{
		Length: body.Length,
		Mode:   body.Mode,
		Shots:  body.Shots,
		Seed:   body.Seed,
	})
	if err != nil {
		s.logger.Warnw("compare failed", "request_id", requestID(c), "error", err)
		fail(c, err)
		return
	}

	setNoStoreHeaders(c)
	c.JSON(http.StatusOK, compareResponse{RequestID: requestID(c), Report: report})
}

func (s *Server) handleBenchmark(c *gin.Context) {
	var body benchmarkBody
	if !s.bind(c, s.schemas.benchmark, &body) {
		return
	}
	if body.Length == 0 {
		body.Length = defaultCompareLength
	}

	ctx, cancel := s.generationContext(c)
	defer cancel()

	result, err := s.deps.Comparator.Benchmark(ctx, compare.BenchmarkRequest{
		Method:     body.Method,
		Length:     body.Length,
		Iterations: body.Iterations,
		Mode:       body.Mode,
		Shots:      body.Shots,
	})
	if err != nil {
		fail(c, err)
		return
	}

	setNoStoreHeaders(c)
	c.JSON(http.StatusOK, benchmarkResponse{RequestID: requestID(c), BenchmarkResult: result})
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{
		RequestID:       requestID(c),
		Status:          "ok",
		HardwareBackend: source.BackendNone,
	}
	if s.deps.Health != nil {
		resp.HardwareBackend = s.deps.Health.Backend()
		if status, ok := s.deps.Health.Health(); ok {
			resp.Hardware = &status
			if !status.OK {
				resp.Status = "degraded"
			}
		}
	}
	if s.deps.Pool != nil {
		raw, whitened := s.deps.Pool.PoolStatus()
		resp.Pool = &poolHealth{RawEvents: raw, WhitenedBytes: whitened, AvailableBytes: s.deps.Pool.AvailableEntropy()}
	}

	setNoStoreHeaders(c)
	c.JSON(http.StatusOK, resp)
}

// handleEntropy serves raw whitened bytes from the local pool, the same
// endpoint the gateway backend of another instance consumes.
func (s *Server) handleEntropy(c *gin.Context) {
	requested := defaultEntropyBytes
	if value := c.Query("bytes"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			badRequest(c, "invalid bytes parameter", err.Error())
			return
		}
		requested = parsed
	}
	if requested < minEntropyBytes || requested > maxEntropyBytes {
		badRequest(c, fmt.Sprintf("bytes must be between %d and %d", minEntropyBytes, maxEntropyBytes), "")
		return
	}

	setNoStoreHeaders(c)
	if s.deps.Pool == nil {
		setRetryAfter(c, s.retryAfterSeconds, 0)
		abortWith(c, http.StatusServiceUnavailable, errorBody{
			Error: "entropy pool unavailable",
			Hint:  "set HARDWARE_BACKEND=tdc to serve local entropy",
			Kind:  kindUnavailable,
		})
		return
	}

	available := s.deps.Pool.AvailableEntropy()
	c.Header("X-Entropy-Available", strconv.Itoa(available))
	c.Header("X-Entropy-Request", strconv.Itoa(requested))

	data, ok := s.deps.Pool.ExtractEntropy(requested)
	if !ok {
		seconds := setRetryAfter(c, s.retryAfterSeconds, 0)
		abortWith(c, http.StatusServiceUnavailable, errorBody{
			Error:  "insufficient entropy",
			Detail: fmt.Sprintf("requested %d, available %d", requested, available),
			Hint:   fmt.Sprintf("wait for the pool to fill; retry after %d seconds", seconds),
			Kind:   kindUnavailable,
		})
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", data)
}

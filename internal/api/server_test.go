package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"entropy-compare/internal/clock"
	"entropy-compare/internal/compare"
	"entropy-compare/internal/config"
	"entropy-compare/internal/metrics"
	"entropy-compare/internal/source"
	"entropy-compare/internal/tlsconfig"
	"entropy-compare/testutil"

	"github.com/gin-gonic/gin"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBits = "101100101101001101010100110101101010011010010110"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeHealth struct {
	backend string
	status  source.Status
	tracked bool
}

func (f fakeHealth) Backend() string { return f.backend }

func (f fakeHealth) Health() (source.Status, bool) { return f.status, f.tracked }

type fakePool struct {
	data     []byte
	raw      int
	reserved int
}

func (p *fakePool) ExtractEntropy(n int) ([]byte, bool) {
	if n <= 0 || n > p.AvailableEntropy() {
		return nil, false
	}
	out := p.data[:n]
	p.data = p.data[n:]
	return out, true
}

func (p *fakePool) AvailableEntropy() int {
	return max(len(p.data)-p.reserved, 0)
}

func (p *fakePool) PoolStatus() (int, int) {
	return p.raw, len(p.data)
}

func staticSource(elapsedMS float64) source.Source {
	return source.Func(func(_ context.Context, req source.Request) (source.Record, error) {
		bits := strings.Repeat("10110010", (req.Length+7)/8)[:req.Length]
		return source.Record{Binary: bits, Length: req.Length, GenerationTimeMS: elapsedMS}, nil
	})
}

func testAPIConfig() config.API {
	return config.API{Bind: "127.0.0.1:0", RateLimitRPS: 1000, RateLimitBurst: 1000, RetryAfterSec: 1}
}

func newTestServer(t *testing.T, external source.Source, deps Dependencies, opts ...Option) *Server {
	t.Helper()
	if external == nil {
		external = staticSource(2)
	}
	deps.Comparator = compare.New(source.NewClassical(), external)
	server, err := New(testAPIConfig(), deps, opts...)
	require.NoError(t, err)
	return server
}

func do(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAnalyze_ReturnsReport(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	server := newTestServer(t, nil, Dependencies{})

	rec := do(t, server, http.MethodPost, "/api/v1/analyze", `{"binary":"`+sampleBits+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.NotEmpty(t, body["request_id"])
	assert.Equal(t, rec.Header().Get("X-Request-ID"), body["request_id"])
	assert.Equal(t, float64(6), body["total_tests"])
	tests, ok := body["tests"].(map[string]any)
	require.True(t, ok)
	for _, name := range []string{"frequency", "runs", "shannon_entropy", "serial", "longest_run", "autocorrelation"} {
		assert.Contains(t, tests, name)
	}
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.AnalysesTotal.WithLabelValues(analysisOrigin)))
}

func TestAnalyze_StatusMapping(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	server := newTestServer(t, nil, Dependencies{})

	cases := []struct {
		name     string
		body     string
		wantCode int
		wantKind string
	}{
		{"non-binary character", `{"binary":"0101010101010101010x"}`, http.StatusBadRequest, "invalid_input"},
		{"too short", `{"binary":"0101"}`, http.StatusUnprocessableEntity, "insufficient_length"},
		{"missing field", `{}`, http.StatusBadRequest, kindInvalidRequest},
		{"unknown field", `{"binary":"0101","extra":1}`, http.StatusBadRequest, kindInvalidRequest},
		{"malformed json", `{"binary":`, http.StatusBadRequest, kindInvalidRequest},
		{"wrong type", `{"binary":101}`, http.StatusBadRequest, kindInvalidRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, server, http.MethodPost, "/api/v1/analyze", tc.body)
			require.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			body := decode(t, rec)
			assert.Equal(t, tc.wantKind, body["kind"])
			assert.NotEmpty(t, body["error"])
			assert.NotEmpty(t, body["request_id"])
		})
	}
}

func TestCompare_ReturnsReport(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	server := newTestServer(t, nil, Dependencies{})

	rec := do(t, server, http.MethodPost, "/api/v1/compare", `{"length":64,"mode":"simulator","shots":16,"seed":42}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))

	var body struct {
		RequestID  string               `json:"request_id"`
		ID         string               `json:"id"`
		Parameters compare.Parameters   `json:"comparison_parameters"`
		Summary    []compare.SummaryRow `json:"summary"`
		Classical  source.Record        `json:"classical_generation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RequestID)
	assert.NotEmpty(t, body.ID)
	assert.Equal(t, 64, body.Parameters.Length)
	assert.Equal(t, 16, body.Parameters.Shots)
	assert.Len(t, body.Summary, 5)
	assert.Len(t, body.Classical.Binary, 64)
	require.NotNil(t, body.Classical.Seed)
	assert.Equal(t, int64(42), *body.Classical.Seed)
}

func TestCompare_DefaultsLength(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	server := newTestServer(t, nil, Dependencies{})

	rec := do(t, server, http.MethodPost, "/api/v1/compare", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	params := body["comparison_parameters"].(map[string]any)
	assert.Equal(t, float64(defaultCompareLength), params["bit_length"])
	assert.Equal(t, source.ModeSimulator, params["mode"])
}

func TestCompare_RequestLimits(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	server := newTestServer(t, nil, Dependencies{})

	cases := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"length below schema minimum", `{"length":4}`, http.StatusBadRequest},
		{"length above maximum", `{"length":5000}`, http.StatusBadRequest},
		{"fractional length", `{"length":64.5}`, http.StatusBadRequest},
		{"shots zero", `{"length":64,"shots":0}`, http.StatusBadRequest},
		{"shots above maximum", `{"length":64,"shots":10001}`, http.StatusBadRequest},
		{"unknown mode", `{"length":64,"mode":"analog"}`, http.StatusBadRequest},
		{"below analysis minimum", `{"length":10}`, http.StatusUnprocessableEntity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, server, http.MethodPost, "/api/v1/compare", tc.body)
			assert.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestCompare_ExternalFailureMapsTo502(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	failing := source.Func(func(context.Context, source.Request) (source.Record, error) {
		return source.Record{}, source.Failure("gateway returned 503 Service Unavailable", errors.New("pool draining"), "retry after 5 seconds")
	})
	server := newTestServer(t, failing, Dependencies{})

	rec := do(t, server, http.MethodPost, "/api/v1/compare", `{"length":64,"mode":"hardware"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "gateway returned 503 Service Unavailable", body["error"])
	assert.Equal(t, "pool draining", body["detail"])
	assert.Equal(t, "retry after 5 seconds", body["hint"])
	assert.Equal(t, source.KindExternalSourceFailure, body["kind"])
}

func TestCompare_SimulatorFailureFallsBack(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	failing := source.Func(func(context.Context, source.Request) (source.Record, error) {
		return source.Record{}, source.Failure("simulator unavailable", nil, "")
	})
	server := newTestServer(t, failing, Dependencies{})

	rec := do(t, server, http.MethodPost, "/api/v1/compare", `{"length":64,"mode":"simulator"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Quantum source.Record `json:"quantum_generation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Quantum.Simulated)
	assert.Contains(t, body.Quantum.Note, "simulator unavailable")
}

func TestBenchmark_Endpoint(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	server := newTestServer(t, nil, Dependencies{})

	rec := do(t, server, http.MethodPost, "/api/v1/benchmark", `{"method":"classical","length":64,"iterations":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body compare.BenchmarkResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, compare.SideClassical, body.Method)
	assert.Equal(t, 3, body.Iterations)
	assert.Len(t, body.TimesMS, 3)

	rec = do(t, server, http.MethodPost, "/api/v1/benchmark", `{"method":"classical","iterations":101}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server, http.MethodPost, "/api/v1/benchmark", `{"length":64}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit_Returns503WithRetryAfter(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	cfg := testAPIConfig()
	cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RetryAfterSec = 1, 1, 1
	deps := Dependencies{Comparator: compare.New(source.NewClassical(), staticSource(1))}
	server, err := New(cfg, deps, WithClock(clock.NewFakeClock()))
	require.NoError(t, err)

	first := do(t, server, http.MethodPost, "/api/v1/analyze", `{"binary":"`+sampleBits+`"}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := do(t, server, http.MethodPost, "/api/v1/analyze", `{"binary":"`+sampleBits+`"}`)
	require.Equal(t, http.StatusServiceUnavailable, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Equal(t, "no-store", second.Header().Get("Cache-Control"))
	assert.Equal(t, kindRateLimited, decode(t, second)["kind"])
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.APIRateLimited))

	health := do(t, server, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, health.Code, "health is not rate limited")
}

func TestHealth_ReportsBackendAndPool(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	deps := Dependencies{
		Health: fakeHealth{backend: source.BackendSerial, tracked: true, status: source.Status{OK: false, Message: "device unplugged"}},
		Pool:   &fakePool{data: make([]byte, 96), raw: 12, reserved: 32},
	}
	server := newTestServer(t, nil, deps)

	rec := do(t, server, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, source.BackendSerial, body["hardware_backend"])
	hardware := body["hardware"].(map[string]any)
	assert.Equal(t, "device unplugged", hardware["message"])
	pool := body["pool"].(map[string]any)
	assert.Equal(t, float64(12), pool["raw_events"])
	assert.Equal(t, float64(96), pool["whitened_bytes"])
	assert.Equal(t, float64(64), pool["available_bytes"])
}

func TestHealth_WithoutHardware(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	server := newTestServer(t, nil, Dependencies{})

	body := decode(t, do(t, server, http.MethodGet, "/api/v1/health", ""))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, source.BackendNone, body["hardware_backend"])
	assert.NotContains(t, body, "pool")
}

func TestEntropy_ServesPoolBytes(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	data := bytes.Repeat([]byte{0xA5}, 64)
	server := newTestServer(t, nil, Dependencies{Pool: &fakePool{data: data}})

	rec := do(t, server, http.MethodGet, "/api/v1/entropy/binary?bytes=16", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "64", rec.Header().Get("X-Entropy-Available"))
	assert.Equal(t, "16", rec.Header().Get("X-Entropy-Request"))
	assert.Equal(t, data[:16], rec.Body.Bytes())

	rec = do(t, server, http.MethodGet, "/api/v1/entropy/binary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Body.Bytes(), defaultEntropyBytes)
}

func TestEntropy_Errors(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	withPool := newTestServer(t, nil, Dependencies{Pool: &fakePool{data: make([]byte, 8)}})
	withoutPool := newTestServer(t, nil, Dependencies{})

	cases := []struct {
		name       string
		server     *Server
		query      string
		wantCode   int
		retryAfter bool
	}{
		{"non-numeric", withPool, "?bytes=abc", http.StatusBadRequest, false},
		{"zero", withPool, "?bytes=0", http.StatusBadRequest, false},
		{"above maximum", withPool, "?bytes=4097", http.StatusBadRequest, false},
		{"insufficient", withPool, "?bytes=32", http.StatusServiceUnavailable, true},
		{"no pool", withoutPool, "?bytes=8", http.StatusServiceUnavailable, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, tc.server, http.MethodGet, "/api/v1/entropy/binary"+tc.query, "")
			require.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			if tc.retryAfter {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	cfg := testAPIConfig()
	cfg.CORSOrigins = []string{"http://localhost:3000"}
	server, err := New(cfg, Dependencies{Comparator: compare.New(source.NewClassical(), staticSource(1))})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/compare", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNotFound_ReturnsJSON(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	server := newTestServer(t, nil, Dependencies{})

	rec := do(t, server, http.MethodGet, "/api/v1/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["request_id"])
}

func TestNew_Validation(t *testing.T) {
	comparator := compare.New(source.NewClassical(), staticSource(1))

	_, err := New(testAPIConfig(), Dependencies{})
	require.Error(t, err)

	cfg := testAPIConfig()
	cfg.Bind = "192.168.0.5:8090"
	_, err = New(cfg, Dependencies{Comparator: comparator})
	require.Error(t, err)

	cfg.AllowPublic = true
	server, err := New(cfg, Dependencies{Comparator: comparator})
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.5:8090", server.Addr())
}

func TestServer_StartAndShutdown(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	server := newTestServer(t, nil, Dependencies{})

	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Shutdown(context.Background()) })

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + server.Addr() + "/api/v1/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))
}

func TestServer_StartTLSRejectsMissingCertificate(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	server := newTestServer(t, nil, Dependencies{})

	err := server.StartTLS(tlsconfig.ServerConfig{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"})
	require.Error(t, err)
}

func TestShutdown_NilServer(t *testing.T) {
	var server *Server
	assert.NoError(t, server.Shutdown(context.Background()))
}

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"entropy-compare/internal/clock"
)

const (
	// GatewayMaxRequestBytes is the largest read accepted by the gateway's
	// entropy endpoint.
	GatewayMaxRequestBytes = 4096
	gatewayEntropyPath     = "/api/v1/entropy/binary"
	defaultGatewayTimeout  = 10 * time.Second
	maxErrorBodyBytes      = 512
)

// Gateway fetches whitened bytes from a remote entropy gateway over HTTP.
type Gateway struct {
	settings
	baseURL string
	client  *http.Client
}

// NewGateway returns a Gateway for baseURL. A nil client gets a default
// client with a ten second timeout.
func NewGateway(baseURL string, client *http.Client, opts ...Option) (*Gateway, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("source: gateway URL must not be empty")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("source: invalid gateway URL %q: %w", baseURL, err)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultGatewayTimeout}
	}
	return &Gateway{settings: newSettings(opts), baseURL: baseURL, client: client}, nil
}

// Produce requests ceil(length/8) bytes, split into requests of at most
// GatewayMaxRequestBytes.
func (g *Gateway) Produce(ctx context.Context, req Request) (Record, error) {
	if err := validateLength(req.Length); err != nil {
		return Record{}, err
	}

	sw := clock.Start(g.clock)
	needed := byteCount(req.Length)
	data := make([]byte, 0, needed)
	requests := 0
	for len(data) < needed {
		chunk := min(needed-len(data), GatewayMaxRequestBytes)
		part, err := g.fetch(ctx, chunk)
		if err != nil {
			return Record{}, err
		}
		data = append(data, part...)
		requests++
	}

	bits := BitsFromBytes(data, req.Length)
	elapsed := sw.ElapsedMS()

	g.logger.Debugw("gateway: entropy fetched", "bytes", needed, "requests", requests, "elapsed_ms", elapsed)

	return Record{
		Method:                "Hardware RNG",
		Algorithm:             "TDC decay timing + SHA-256 conditioning",
		Binary:                bits,
		Hex:                   HexOf(bits),
		Length:                req.Length,
		GenerationTimeMS:      elapsed,
		BitsPerMS:             bitsPerMS(req.Length, elapsed),
		Deterministic:         false,
		CryptographicStrength: StrengthStrong,
		Source:                "Remote entropy gateway (" + g.baseURL + ")",
		Backend:               BackendGateway,
		ChunksGenerated:       requests,
	}, nil
}

func (g *Gateway) fetch(ctx context.Context, n int) ([]byte, error) {
	endpoint := g.baseURL + gatewayEntropyPath + "?bytes=" + strconv.Itoa(n)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, Failure("gateway request could not be built", err, "")
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, Failure("gateway unreachable", err, "check that the gateway is reachable and has entropy available")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &Error{
			Kind:    KindExternalSourceFailure,
			Message: fmt.Sprintf("gateway returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			Detail:  strings.TrimSpace(string(body)),
			Hint:    gatewayHint(resp.Header.Get("Retry-After")),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(n)+1))
	if err != nil {
		return nil, Failure("gateway response could not be read", err, "")
	}
	if len(data) != n {
		return nil, Failure("gateway returned a short read", fmt.Errorf("requested %d bytes, received %d", n, len(data)), "check the gateway entropy endpoint")
	}
	return data, nil
}

func gatewayHint(retryAfter string) string {
	hint := "check that the gateway is reachable and has entropy available"
	if seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && seconds > 0 {
		hint += fmt.Sprintf("; retry after %d seconds", seconds)
	}
	return hint
}

package source

import (
	"context"
	"fmt"

	"entropy-compare/internal/clock"
)

// EntropyPool is the extraction surface of a local whitened entropy pool.
type EntropyPool interface {
	ExtractEntropy(numBytes int) ([]byte, bool)
	AvailableEntropy() int
}

// Pool draws bytes from a local TDC entropy pool fed over MQTT.
type Pool struct {
	settings
	pool EntropyPool
}

// NewPool wraps pool as a Source.
func NewPool(pool EntropyPool, opts ...Option) *Pool {
	return &Pool{settings: newSettings(opts), pool: pool}
}

// Produce extracts ceil(length/8) bytes in a single call. The pool refuses
// the extraction when it is below its reserve or a continuous health test
// trips.
func (p *Pool) Produce(ctx context.Context, req Request) (Record, error) {
	if err := validateLength(req.Length); err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, Failure("entropy pool read interrupted", err, "")
	}
	if p.pool == nil {
		return Record{}, Failure("entropy pool unavailable", nil, "configure MQTT ingest for the tdc backend")
	}

	sw := clock.Start(p.clock)
	needed := byteCount(req.Length)
	available := p.pool.AvailableEntropy()
	data, ok := p.pool.ExtractEntropy(needed)
	if !ok {
		return Record{}, Failure(
			"insufficient entropy in pool",
			fmt.Errorf("requested %d bytes, available %d", needed, available),
			"wait for the pool to fill",
		)
	}

	bits := BitsFromBytes(data, req.Length)
	elapsed := sw.ElapsedMS()

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
		Source:                "Radioactive decay (local TDC pool)",
		Backend:               BackendTDC,
	}, nil
}

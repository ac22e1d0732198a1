package source

import (
	"context"
	"fmt"
	"io"

	"entropy-compare/internal/clock"
)

// Fallback is a best-effort stand-in for the simulator. It reads
// cryptographically strong bytes and labels the record as simulated so the
// substitution is visible to every consumer.
type Fallback struct {
	settings
}

// NewFallback constructs a Fallback source.
func NewFallback(opts ...Option) *Fallback {
	return &Fallback{settings: newSettings(opts)}
}

// Produce returns req.Length bits from the randomness reader.
func (f *Fallback) Produce(ctx context.Context, req Request) (Record, error) {
	if err := validateLength(req.Length); err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	sw := clock.Start(f.clock)
	buf := make([]byte, byteCount(req.Length))
	if _, err := io.ReadFull(readerOrDefault(f.random), buf); err != nil {
		return Record{}, Failure("fallback generator failed", err, "")
	}
	bits := BitsFromBytes(buf, req.Length)
	elapsed := sw.ElapsedMS()

	return Record{
		Method:                "Quantum RNG (Simulated)",
		Algorithm:             "crypto/rand fallback",
		Binary:                bits,
		Hex:                   HexOf(bits),
		Length:                req.Length,
		GenerationTimeMS:      elapsed,
		BitsPerMS:             bitsPerMS(req.Length, elapsed),
		Deterministic:         false,
		CryptographicStrength: StrengthStrong,
		Source:                "Operating system CSPRNG (not quantum)",
		Backend:               "fallback",
		Simulated:             true,
	}, nil
}

// Substitute produces a fallback record whose note records why the primary
// external source was replaced.
func (f *Fallback) Substitute(ctx context.Context, req Request, cause error) (Record, error) {
	rec, err := f.Produce(ctx, req)
	if err != nil {
		return Record{}, fmt.Errorf("fallback after %v: %w", cause, err)
	}
	if cause != nil {
		rec.Note = "Simulator unavailable, substituted cryptographic fallback: " + cause.Error()
	} else {
		rec.Note = "Simulator unavailable, substituted cryptographic fallback"
	}
	f.logger.Warnw("source: simulator replaced by fallback", "length", req.Length, "cause", cause)
	return rec, nil
}

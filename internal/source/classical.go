package source

import (
	"context"
	"math/rand/v2"
	"strings"

	"entropy-compare/internal/clock"
)

// pcgStream is the fixed PCG increment used for seeded generators.
const pcgStream = 0x9E3779B97F4A7C15

// Classical is the deterministic reference generator. With a seed the output
// is fully reproducible; without one the generator is seeded from process
// entropy.
type Classical struct {
	settings
}

// NewClassical constructs a Classical source.
func NewClassical(opts ...Option) *Classical {
	return &Classical{settings: newSettings(opts)}
}

// Produce draws req.Length uniform bits. Mode and Shots are ignored.
func (c *Classical) Produce(ctx context.Context, req Request) (Record, error) {
	if err := validateLength(req.Length); err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	sw := clock.Start(c.clock)

	var rng *rand.Rand
	if req.Seed != nil {
		rng = rand.New(rand.NewPCG(uint64(*req.Seed), pcgStream))
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	var sb strings.Builder
	sb.Grow(req.Length)
	var word uint64
	for i := 0; i < req.Length; i++ {
		if i%64 == 0 {
			word = rng.Uint64()
		}
		sb.WriteByte('0' + byte(word>>63))
		word <<= 1
	}
	binary := sb.String()
	hex := HexOf(binary)

	elapsed := sw.ElapsedMS()

	var seed *int64
	if req.Seed != nil {
		value := *req.Seed
		seed = &value
	}

	return Record{
		Method:                "Classical PRNG",
		Algorithm:             "PCG (math/rand/v2)",
		Binary:                binary,
		Hex:                   hex,
		Length:                req.Length,
		GenerationTimeMS:      elapsed,
		BitsPerMS:             bitsPerMS(req.Length, elapsed),
		Deterministic:         true,
		CryptographicStrength: StrengthWeak,
		Source:                "Mathematical algorithm",
		Seed:                  seed,
	}, nil
}

// Package source defines the bit-generation capability consumed by the
// comparator and its implementations: a seedable classical PRNG, a local
// quantum-circuit simulator, a cryptographic fallback, and physical
// backends (remote entropy gateway, local TDC pool, USB serial TRNG).
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"entropy-compare/internal/clock"

	"go.uber.org/zap"
)

// Modes select the external source.
const (
	ModeSimulator = "simulator"
	ModeHardware  = "hardware"

	// hardwareAlias is accepted for compatibility with older clients.
	hardwareAlias = "ibm_hardware"
)

// Shot limits for the simulator.
const (
	DefaultShots = 1024
	MinShots     = 1
	MaxShots     = 10000
)

// Cryptographic strength labels.
const (
	StrengthWeak   = "weak"
	StrengthStrong = "strong"
)

// KindExternalSourceFailure tags every *Error.
const KindExternalSourceFailure = "external_source_failure"

var (
	// ErrExternalSource matches any *Error via errors.Is.
	ErrExternalSource = errors.New("external source failure")
	// ErrInvalidRequest reports a request a source cannot serve, such as a
	// non-positive length or shots outside [MinShots, MaxShots].
	ErrInvalidRequest = errors.New("invalid generation request")
)

// Request describes one generation call.
type Request struct {
	Length int
	Mode   string
	Shots  int
	Seed   *int64
}

// Record is the output of a single generation call.
type Record struct {
	Method                string  `json:"method"`
	Algorithm             string  `json:"algorithm"`
	Binary                string  `json:"binary"`
	Hex                   string  `json:"hex"`
	Length                int     `json:"length"`
	GenerationTimeMS      float64 `json:"generation_time_ms"`
	BitsPerMS             float64 `json:"bits_per_ms"`
	Deterministic         bool    `json:"deterministic"`
	CryptographicStrength string  `json:"cryptographic_strength"`
	Source                string  `json:"source"`
	Seed                  *int64  `json:"seed_used,omitempty"`
	Backend               string  `json:"backend_type,omitempty"`
	ChunksGenerated       int     `json:"chunks_generated,omitempty"`
	ShotsPerChunk         int     `json:"shots_per_chunk,omitempty"`
	Simulated             bool    `json:"simulated,omitempty"`
	Note                  string  `json:"note,omitempty"`
}

// Source produces a Record for a Request. Implementations must be safe for
// concurrent use.
type Source interface {
	Produce(ctx context.Context, req Request) (Record, error)
}

// Func adapts a function to the Source interface.
type Func func(ctx context.Context, req Request) (Record, error)

// Produce calls f.
func (f Func) Produce(ctx context.Context, req Request) (Record, error) {
	return f(ctx, req)
}

// Error is the structured failure of an external source. Message, Detail and
// Hint are preserved verbatim for the caller.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"error"`
	Detail  string `json:"detail,omitempty"`
	Hint    string `json:"hint,omitempty"`
	Err     error  `json:"-"`
}

// Failure builds an *Error. Detail is taken from cause when non-nil.
func Failure(message string, cause error, hint string) *Error {
	e := &Error{Kind: KindExternalSourceFailure, Message: message, Hint: hint, Err: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "source: " + e.Message
	}
	return fmt.Sprintf("source: %s: %s", e.Message, e.Detail)
}

// Is reports a match against ErrExternalSource.
func (e *Error) Is(target error) bool {
	return target == ErrExternalSource
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NormalizeMode lowercases mode, maps the legacy hardware alias and defaults
// an empty mode to the simulator.
func NormalizeMode(mode string) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	switch mode {
	case "":
		return ModeSimulator
	case hardwareAlias:
		return ModeHardware
	default:
		return mode
	}
}

// NormalizeShots applies DefaultShots to zero and validates the range.
func NormalizeShots(shots int) (int, error) {
	if shots == 0 {
		return DefaultShots, nil
	}
	if shots < MinShots || shots > MaxShots {
		return 0, fmt.Errorf("%w: shots must be between %d and %d, got %d", ErrInvalidRequest, MinShots, MaxShots, shots)
	}
	return shots, nil
}

func validateLength(length int) error {
	if length <= 0 {
		return fmt.Errorf("%w: length must be positive, got %d", ErrInvalidRequest, length)
	}
	return nil
}

// Option configures a source.
type Option func(*settings)

type settings struct {
	clock  clock.Clock
	random io.Reader
	logger *zap.SugaredLogger
}

func newSettings(opts []Option) settings {
	s := settings{clock: clock.RealClock{}, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithClock injects the clock used for generation timing.
func WithClock(c clock.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithRandom replaces the randomness reader used by the simulator and the
// fallback. Defaults to crypto/rand.
func WithRandom(r io.Reader) Option {
	return func(s *settings) {
		s.random = r
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// bitsPerMS returns length/elapsed rounded to two decimals.
func bitsPerMS(length int, elapsedMS float64) float64 {
	if elapsedMS < clock.MinElapsedMS {
		elapsedMS = clock.MinElapsedMS
	}
	return math.Round(float64(length)/elapsedMS*100) / 100
}

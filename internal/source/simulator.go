package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"entropy-compare/internal/clock"
)

// qubitsPerChunk is the register width of one simulated circuit.
const qubitsPerChunk = 8

// Simulator models an ideal register of eight qubits, each placed in
// superposition by a Hadamard gate and then measured. Every chunk executes
// the circuit shots times and keeps the most frequent 8-bit outcome, with
// ties broken uniformly. Measurement outcomes are drawn from crypto/rand.
type Simulator struct {
	settings
}

// NewSimulator constructs a Simulator source.
func NewSimulator(opts ...Option) *Simulator {
	return &Simulator{settings: newSettings(opts)}
}

// Produce runs ceil(length/8) chunks and truncates the result to length bits.
func (s *Simulator) Produce(ctx context.Context, req Request) (Record, error) {
	if err := validateLength(req.Length); err != nil {
		return Record{}, err
	}
	shots, err := NormalizeShots(req.Shots)
	if err != nil {
		return Record{}, err
	}

	sw := clock.Start(s.clock)
	random := readerOrDefault(s.random)

	chunks := byteCount(req.Length)
	outcomes := make([]byte, chunks)
	measurements := make([]byte, shots)
	for chunk := 0; chunk < chunks; chunk++ {
		if err := ctx.Err(); err != nil {
			return Record{}, Failure("quantum simulator interrupted", err, "retry with fewer shots or a longer timeout")
		}
		if _, err := io.ReadFull(random, measurements); err != nil {
			return Record{}, Failure("quantum simulator failed", err, "the local simulator could not sample measurement outcomes")
		}
		outcome, err := mostFrequentOutcome(measurements, random)
		if err != nil {
			return Record{}, Failure("quantum simulator failed", err, "the local simulator could not sample measurement outcomes")
		}
		outcomes[chunk] = outcome
	}

	bits := BitsFromBytes(outcomes, req.Length)
	elapsed := sw.ElapsedMS()

	s.logger.Debugw("simulator: circuit batch complete", "chunks", chunks, "shots", shots, "elapsed_ms", elapsed)

	return Record{
		Method:                "Quantum RNG",
		Algorithm:             "Hadamard superposition + measurement",
		Binary:                bits,
		Hex:                   HexOf(bits),
		Length:                req.Length,
		GenerationTimeMS:      elapsed,
		BitsPerMS:             bitsPerMS(req.Length, elapsed),
		Deterministic:         false,
		CryptographicStrength: StrengthStrong,
		Source:                "Quantum superposition (simulated)",
		Backend:               "local_simulator",
		ChunksGenerated:       chunks,
		ShotsPerChunk:         shots,
	}, nil
}

// mostFrequentOutcome returns the modal byte of measurements. When several
// outcomes share the highest count one of them is chosen uniformly using
// random.
func mostFrequentOutcome(measurements []byte, random io.Reader) (byte, error) {
	var counts [1 << qubitsPerChunk]int
	for _, m := range measurements {
		counts[m]++
	}

	best := 0
	var candidates []byte
	for value, count := range counts {
		switch {
		case count > best:
			best = count
			candidates = append(candidates[:0], byte(value))
		case count == best && count > 0:
			candidates = append(candidates, byte(value))
		}
	}

	if len(candidates) == 1 {
		return candidates[0], nil
	}

	var raw [8]byte
	if _, err := io.ReadFull(random, raw[:]); err != nil {
		return 0, fmt.Errorf("tie break: %w", err)
	}
	return candidates[binary.BigEndian.Uint64(raw[:])%uint64(len(candidates))], nil
}

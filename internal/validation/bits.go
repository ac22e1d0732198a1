// Package validation implements the randomness quality assessment engine.
// It provides a fixed battery of six statistical tests derived from
// NIST SP 800-22 (frequency, runs, Shannon entropy, serial, longest run and
// autocorrelation), an aggregator that scores a sequence against all six,
// min-entropy diagnostics per NIST SP 800-90B Section 6, and the continuous
// health tests of NIST SP 800-90B Section 4.4.
package validation

import (
	"errors"
	"fmt"
)

// MinAnalysisLength is the shortest sequence accepted for a full analysis.
const MinAnalysisLength = 20

var (
	// ErrInvalidInput reports a symbol outside {'0','1'} or an invalid test parameter.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientLength reports a sequence shorter than a test's minimum.
	ErrInsufficientLength = errors.New("insufficient length")
	// ErrDegenerateSequence reports a sequence whose statistic is undefined,
	// such as zero variance or a single repeated symbol.
	ErrDegenerateSequence = errors.New("degenerate sequence")
)

// BitSequence is an immutable sequence of binary symbols. The zero value is
// an empty sequence and is rejected by every test.
type BitSequence struct {
	bits []uint8
	ones int
}

// NewBitSequence validates that every character of s is '0' or '1' and that s
// is not empty. It does not enforce MinAnalysisLength, so individual tests can
// be exercised on short inputs.
func NewBitSequence(s string) (BitSequence, error) {
	if len(s) == 0 {
		return BitSequence{}, fmt.Errorf("%w: empty bit string", ErrInsufficientLength)
	}

	bits := make([]uint8, len(s))
	ones := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '0':
		case '1':
			bits[i] = 1
			ones++
		default:
			return BitSequence{}, fmt.Errorf("%w: character %q at position %d is not a binary digit", ErrInvalidInput, s[i], i)
		}
	}

	return BitSequence{bits: bits, ones: ones}, nil
}

// ParseBits validates s for a whole-sequence analysis. It fails with
// ErrInvalidInput for non-binary characters and ErrInsufficientLength when s
// holds fewer than MinAnalysisLength symbols.
func ParseBits(s string) (BitSequence, error) {
	seq, err := NewBitSequence(s)
	if err != nil {
		return BitSequence{}, err
	}
	if seq.Len() < MinAnalysisLength {
		return BitSequence{}, fmt.Errorf("%w: got %d bits, need at least %d", ErrInsufficientLength, seq.Len(), MinAnalysisLength)
	}
	return seq, nil
}

// FromBytes unpacks data MSB-first into a sequence of 8*len(data) symbols.
func FromBytes(data []byte) BitSequence {
	bits := make([]uint8, 0, len(data)*8)
	ones := 0
	for _, b := range data {
		for shift := 7; shift >= 0; shift-- {
			bit := (b >> shift) & 1
			ones += int(bit)
			bits = append(bits, bit)
		}
	}
	return BitSequence{bits: bits, ones: ones}
}

// Len returns the number of symbols N.
func (s BitSequence) Len() int {
	return len(s.bits)
}

// Ones returns the count of '1' symbols.
func (s BitSequence) Ones() int {
	return s.ones
}

// Zeros returns the count of '0' symbols.
func (s BitSequence) Zeros() int {
	return len(s.bits) - s.ones
}

// At returns the symbol at index i as 0 or 1.
func (s BitSequence) At(i int) uint8 {
	return s.bits[i]
}

// String renders the sequence back to its textual form.
func (s BitSequence) String() string {
	out := make([]byte, len(s.bits))
	for i, bit := range s.bits {
		out[i] = '0' + bit
	}
	return string(out)
}

// Floats returns the symbols as float64 values for numeric statistics.
func (s BitSequence) Floats() []float64 {
	out := make([]float64, len(s.bits))
	for i, bit := range s.bits {
		out[i] = float64(bit)
	}
	return out
}

// Bytes packs the sequence MSB-first into bytes. A trailing partial byte is
// dropped.
func (s BitSequence) Bytes() []byte {
	out := make([]byte, len(s.bits)/8)
	for i := range out {
		var value byte
		for _, bit := range s.bits[i*8 : i*8+8] {
			value = value<<1 | bit
		}
		out[i] = value
	}
	return out
}

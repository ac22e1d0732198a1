package entropy

import (
	"crypto/sha256"
	"encoding/binary"

	"entropy-compare/internal/mqtt"
)

const timestampBytes = 8

// conditioned is the result of whitening one batch of TDC events.
type conditioned struct {
	rawBytes int
	output   []byte
}

// extractionRate is output bytes per raw byte, zero for an empty batch.
func (c conditioned) extractionRate() float64 {
	if c.rawBytes == 0 {
		return 0
	}
	return float64(len(c.output)) / float64(c.rawBytes)
}

// whitenEvents serialises the picosecond timestamps little-endian, folds
// adjacent bytes with XOR and condenses the fold with SHA-256 (the vetted
// conditioning function of NIST SP 800-90B). Every non-empty batch yields
// exactly sha256.Size bytes.
func whitenEvents(events []mqtt.TDCEvent) conditioned {
	raw := make([]byte, len(events)*timestampBytes)
	for i, ev := range events {
		binary.LittleEndian.PutUint64(raw[i*timestampBytes:], ev.TdcTimestampPs)
	}

	c := conditioned{rawBytes: len(raw)}
	folded := xorFold(raw)
	if len(folded) == 0 {
		return c
	}
	sum := sha256.Sum256(folded)
	c.output = sum[:]
	return c
}

// xorFold returns len(data)-1 bytes where byte i is data[i] ^ data[i+1].
// Inputs shorter than two bytes fold to nothing.
func xorFold(data []byte) []byte {
	if len(data) < 2 {
		return nil
	}
	out := make([]byte, len(data)-1)
	for i := range out {
		out[i] = data[i] ^ data[i+1]
	}
	return out
}

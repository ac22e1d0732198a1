package source

import (
	"crypto/rand"
	"io"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// BitsFromBytes renders the first length bits of data MSB-first. It panics
// when data holds fewer than length bits.
func BitsFromBytes(data []byte, length int) string {
	var sb strings.Builder
	sb.Grow(length)
	for i := 0; i < length; i++ {
		bit := data[i/8] >> (7 - uint(i%8)) & 1
		sb.WriteByte('0' + bit)
	}
	return sb.String()
}

// HexOf encodes a binary string as uppercase hex, one digit per four bits.
// The result has exactly len(binary)/4 digits, so leading zeros are kept.
// It returns "" unless len(binary) is a multiple of four.
func HexOf(binary string) string {
	if len(binary) == 0 || len(binary)%4 != 0 {
		return ""
	}
	out := make([]byte, len(binary)/4)
	for i := range out {
		nibble := 0
		for _, ch := range binary[i*4 : i*4+4] {
			nibble = nibble<<1 | int(ch-'0')
		}
		out[i] = hexDigits[nibble]
	}
	return string(out)
}

// byteCount returns the number of whole bytes needed for length bits.
func byteCount(length int) int {
	return (length + 7) / 8
}

func readerOrDefault(r io.Reader) io.Reader {
	if r == nil {
		return rand.Reader
	}
	return r
}

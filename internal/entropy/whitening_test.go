package entropy

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"entropy-compare/internal/mqtt"
	"entropy-compare/internal/validation"
)

func TestXORFold(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{name: "empty", in: nil, want: nil},
		{name: "single byte", in: []byte{0x5A}, want: nil},
		{name: "pair", in: []byte{0xF0, 0x0F}, want: []byte{0xFF}},
		{name: "constant run cancels", in: []byte{0xAA, 0xAA, 0xAA}, want: []byte{0x00, 0x00}},
		{name: "mixed", in: []byte{0x01, 0x03, 0x07, 0x0F}, want: []byte{0x02, 0x04, 0x08}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := xorFold(tc.in); !bytes.Equal(got, tc.want) {
				t.Fatalf("xorFold(%x) = %x, want %x", tc.in, got, tc.want)
			}
		})
	}
}

func TestWhitenEvents_EmptyBatch(t *testing.T) {
	c := whitenEvents(nil)
	if c.rawBytes != 0 || c.output != nil {
		t.Fatalf("expected empty result, got %+v", c)
	}
	if rate := c.extractionRate(); rate != 0 {
		t.Fatalf("expected zero extraction rate, got %v", rate)
	}
}

func TestWhitenEvents_HashesFoldedTimestamps(t *testing.T) {
	events := []mqtt.TDCEvent{
		{Channel: 1, TdcTimestampPs: 123_456_789},
		{Channel: 2, TdcTimestampPs: 987_654_321},
	}

	raw := make([]byte, 16)
	binary.LittleEndian.PutUint64(raw[0:], events[0].TdcTimestampPs)
	binary.LittleEndian.PutUint64(raw[8:], events[1].TdcTimestampPs)
	want := sha256.Sum256(xorFold(raw))

	c := whitenEvents(events)
	if c.rawBytes != 16 {
		t.Fatalf("rawBytes = %d, want 16", c.rawBytes)
	}
	if !bytes.Equal(c.output, want[:]) {
		t.Fatalf("output = %x, want %x", c.output, want)
	}
	if rate := c.extractionRate(); rate != 2 {
		t.Fatalf("extraction rate = %v, want 2 (32 output bytes from 16 raw)", rate)
	}
}

func TestWhitenEvents_SingleEventStillConditioned(t *testing.T) {
	c := whitenEvents([]mqtt.TDCEvent{{TdcTimestampPs: 42}})
	if len(c.output) != sha256.Size {
		t.Fatalf("expected %d bytes from one event, got %d", sha256.Size, len(c.output))
	}
}

func TestWhitenEvents_ChannelDoesNotAffectOutput(t *testing.T) {
	a := whitenEvents([]mqtt.TDCEvent{{Channel: 0, TdcTimestampPs: 1_000}, {Channel: 0, TdcTimestampPs: 2_000}})
	b := whitenEvents([]mqtt.TDCEvent{{Channel: 3, TdcTimestampPs: 1_000}, {Channel: 7, TdcTimestampPs: 2_000}})
	if !bytes.Equal(a.output, b.output) {
		t.Fatal("only timestamps should feed the conditioner")
	}
}

// Structured timestamps must come out of the conditioner looking random to
// the six-test battery.
func TestWhitenEvents_OutputPassesBattery(t *testing.T) {
	var stream []byte
	seen := make(map[string]bool)
	for batch := range 32 {
		c := whitenEvents(offsetEvents(16, uint64(batch)))
		if seen[string(c.output)] {
			t.Fatalf("batch %d repeated an earlier block", batch)
		}
		seen[string(c.output)] = true
		stream = append(stream, c.output...)
	}

	report := validation.AnalyzeSequence(validation.FromBytes(stream))
	if report.Length != 32*sha256.Size*8 {
		t.Fatalf("analysed %d bits, want %d", report.Length, 32*sha256.Size*8)
	}
	if report.OverallScore < 50 {
		t.Fatalf("whitened stream scored %.1f (%s), failed: %v", report.OverallScore, report.Verdict, report.FailedTests())
	}
}

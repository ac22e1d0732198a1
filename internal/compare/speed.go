package compare

import (
	"fmt"
	"math"
	"strconv"

	"entropy-compare/internal/source"
)

// minSpeedMS keeps near-zero timings from inflating the ratio.
const minSpeedMS = 0.1

const (
	simulatorSpeedNote = "Quantum simulator includes local circuit execution overhead"
	hardwareSpeedNote  = "Hardware source includes remote queue + execution latency"
)

// SpeedComparison reports which side generated faster and by how much.
type SpeedComparison struct {
	ClassicalTimeMS float64 `json:"classical_time_ms"`
	QuantumTimeMS   float64 `json:"quantum_time_ms"`
	Ratio           float64 `json:"speed_ratio"`
	Faster          string  `json:"faster"`
	Message         string  `json:"message"`
	Note            string  `json:"note"`
}

// CompareSpeed compares two generation times in milliseconds. The ratio is
// computed on times floored at 0.1 ms and rounded to two decimals, while the
// faster side is decided on the raw times.
func CompareSpeed(classicalMS, quantumMS float64, mode string) SpeedComparison {
	a := math.Max(classicalMS, minSpeedMS)
	b := math.Max(quantumMS, minSpeedMS)
	ratio := math.Round(math.Max(a, b)/math.Min(a, b)*100) / 100

	result := SpeedComparison{
		ClassicalTimeMS: classicalMS,
		QuantumTimeMS:   quantumMS,
		Ratio:           ratio,
		Note:            speedNote(mode),
	}
	switch {
	case classicalMS < quantumMS:
		result.Faster = SideClassical
		result.Message = fmt.Sprintf("Classical is %sx faster", formatRatio(ratio))
	case quantumMS < classicalMS:
		result.Faster = SideQuantum
		result.Message = fmt.Sprintf("Quantum is %sx faster", formatRatio(ratio))
	default:
		result.Faster = WinnerTie
		result.Message = "Both methods have similar speed"
	}
	return result
}

func speedNote(mode string) string {
	if source.NormalizeMode(mode) == source.ModeHardware {
		return hardwareSpeedNote
	}
	return simulatorSpeedNote
}

// formatRatio prints whole ratios with one decimal ("5.0") and others as
// rounded ("2.35").
func formatRatio(ratio float64) string {
	if ratio == math.Trunc(ratio) {
		return strconv.FormatFloat(ratio, 'f', 1, 64)
	}
	return strconv.FormatFloat(ratio, 'f', -1, 64)
}

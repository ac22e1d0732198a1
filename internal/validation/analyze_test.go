package validation

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSequence(t *testing.T, bits string) BitSequence {
	t.Helper()
	seq, err := NewBitSequence(bits)
	if err != nil {
		t.Fatalf("NewBitSequence(%q): %v", bits, err)
	}
	return seq
}

func TestParseBits_Errors(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want error
	}{
		{name: "empty", in: "", want: ErrInsufficientLength},
		{name: "non binary", in: strings.Repeat("01", 10) + "2", want: ErrInvalidInput},
		{name: "whitespace", in: "0101 0101010101010101", want: ErrInvalidInput},
		{name: "too short", in: strings.Repeat("1", MinAnalysisLength-1), want: ErrInsufficientLength},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseBits(tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestBitSequence_Accessors(t *testing.T) {
	t.Parallel()

	seq := mustSequence(t, "1000000111")
	assert.Equal(t, 10, seq.Len())
	assert.Equal(t, 4, seq.Ones())
	assert.Equal(t, 6, seq.Zeros())
	assert.Equal(t, "1000000111", seq.String())
	assert.Equal(t, []byte{0x81}, seq.Bytes())
	assert.Equal(t, []float64{1, 0, 0, 0, 0, 0, 0, 1, 1, 1}, seq.Floats())
}

func TestFromBytes_RoundTrip(t *testing.T) {
	t.Parallel()

	seq := FromBytes([]byte{0x81, 0x0F})
	assert.Equal(t, "1000000100001111", seq.String())
	assert.Equal(t, 6, seq.Ones())
	assert.Equal(t, []byte{0x81, 0x0F}, seq.Bytes())
	assert.Zero(t, FromBytes(nil).Len())
}

func TestFrequency_AllZeros(t *testing.T) {
	t.Parallel()

	result := Frequency(mustSequence(t, "00000000000000000000"))
	require.False(t, result.Passed)
	assert.Equal(t, 20.0, result.Statistics["chi_square"])
	assert.Equal(t, QualityPoor, result.Quality)
	assert.Equal(t, 50.0, result.Statistics["deviation_from_50"])
}

func TestFrequency_Balanced(t *testing.T) {
	t.Parallel()

	result := Frequency(mustSequence(t, strings.Repeat("10", 16)))
	require.True(t, result.Passed)
	assert.Equal(t, 0.0, result.Statistics["chi_square"])
	assert.Equal(t, QualityExcellent, result.Quality)
	assert.Equal(t, 1.0, result.Statistics["p_value"])
}

func TestRuns_DegenerateSequence(t *testing.T) {
	for _, bits := range []string{strings.Repeat("1", 32), strings.Repeat("0", 32)} {
		bits := bits
		t.Run(bits[:1], func(t *testing.T) {
			t.Parallel()

			result := Runs(mustSequence(t, bits))
			require.ErrorIs(t, result.Err, ErrDegenerateSequence)
			assert.False(t, result.Passed)
			assert.Equal(t, "degenerate_sequence", result.ErrorKind)
			assert.NotEmpty(t, result.Reason)
		})
	}
}

func TestRuns_Alternating(t *testing.T) {
	t.Parallel()

	// n=20, k=10: E=11, var=36000/7600, runs=20.
	result := Runs(mustSequence(t, strings.Repeat("01", 10)))
	require.NoError(t, result.Err)
	assert.False(t, result.Passed)
	assert.Equal(t, 20.0, result.Statistics["total_runs"])
	assert.Equal(t, 11.0, result.Statistics["expected_runs"])

	wantZ := 9 / math.Sqrt(36000.0/7600.0)
	assert.InDelta(t, wantZ, result.Statistics["z_score"], 1e-4)
}

func TestRuns_VarianceFloor(t *testing.T) {
	t.Parallel()

	// k=1, n=2 gives 2k(N-k)-N = 0, so the variance is floored.
	result := Runs(mustSequence(t, "01"))
	require.NoError(t, result.Err)
	assert.Equal(t, 2.0, result.Statistics["total_runs"])
	assert.Equal(t, 2.0, result.Statistics["expected_runs"])
	assert.Equal(t, 0.0, result.Statistics["z_score"])
}

func TestShannonEntropy_Alternating(t *testing.T) {
	t.Parallel()

	result := ShannonEntropy(mustSequence(t, strings.Repeat("01", 24)))
	require.True(t, result.Passed)
	assert.Equal(t, 1.0, result.Statistics["entropy"])
	assert.Equal(t, QualityExcellent, result.Quality)
	assert.Equal(t, "Each bit carries 100.00% of maximum possible information", result.Interpretation)
	// Only 01 and 10 windows occur: 47 windows split 24/23.
	assert.Less(t, result.Statistics["block_entropy"], 0.51)
}

func TestShannonEntropy_Constant(t *testing.T) {
	t.Parallel()

	result := ShannonEntropy(mustSequence(t, strings.Repeat("1", 20)))
	assert.False(t, result.Passed)
	assert.Equal(t, 0.0, result.Statistics["entropy"])
	assert.Equal(t, QualityPoor, result.Quality)
}

func TestSerial_InsufficientLength(t *testing.T) {
	t.Parallel()

	result := Serial(mustSequence(t, "010"))
	require.ErrorIs(t, result.Err, ErrInsufficientLength)
	assert.False(t, result.Passed)
}

func TestSerial_MinimumLength(t *testing.T) {
	t.Parallel()

	// Windows 00, 01, 11 against an expectation of 0.75 each.
	result := Serial(mustSequence(t, "0011"))
	require.NoError(t, result.Err)
	assert.True(t, result.Passed)
	assert.Equal(t, 1.0, result.Statistics["chi_square"])
	assert.Equal(t, 25.0, result.Statistics["max_deviation"])
	assert.Equal(t, QualityAcceptable, result.Quality)
	assert.Equal(t, 0.0, result.Statistics["count_10"])
}

func TestLongestRun_TracksFinalRun(t *testing.T) {
	t.Parallel()

	result := LongestRun(mustSequence(t, "0001011111"))
	assert.Equal(t, 3.0, result.Statistics["longest_run_zeros"])
	assert.Equal(t, 5.0, result.Statistics["longest_run_ones"])
	assert.Equal(t, 5.0, result.Statistics["longest_run_overall"])
	assert.Equal(t, 10.0, result.Threshold)
	assert.True(t, result.Passed)
}

func TestLongestRun_ExceedsThreshold(t *testing.T) {
	t.Parallel()

	bits := strings.Repeat("01", 10) + strings.Repeat("1", 20) + strings.Repeat("01", 10)
	result := LongestRun(mustSequence(t, bits))
	assert.False(t, result.Passed)
	assert.Equal(t, QualityPoor, result.Quality)
}

func TestAutocorrelation_Errors(t *testing.T) {
	cases := []struct {
		name string
		bits string
		lag  int
		want error
	}{
		{name: "too short", bits: strings.Repeat("01", 5), lag: 1, want: ErrInsufficientLength},
		{name: "too short for lag", bits: strings.Repeat("01", 10), lag: 11, want: ErrInsufficientLength},
		{name: "constant", bits: strings.Repeat("1", 30), lag: 1, want: ErrDegenerateSequence},
		{name: "zero lag", bits: strings.Repeat("01", 10), lag: 0, want: ErrInvalidInput},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			result := Autocorrelation(mustSequence(t, tc.bits), tc.lag)
			require.ErrorIs(t, result.Err, tc.want)
			assert.False(t, result.Passed)
		})
	}
}

func TestAutocorrelation_Alternating(t *testing.T) {
	t.Parallel()

	result := Autocorrelation(mustSequence(t, strings.Repeat("01", 10)), DefaultLag)
	require.NoError(t, result.Err)
	assert.Equal(t, "Autocorrelation Test (lag=1)", result.Label)
	assert.Equal(t, -1.0, result.Statistics["autocorrelation"])
	assert.InDelta(t, -math.Sqrt(20), result.Statistics["z_score"], 1e-4)
	assert.False(t, result.Passed)
}

func TestAnalyze_AllZeros(t *testing.T) {
	t.Parallel()

	report, err := Analyze("00000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, 0, report.PassedTests)
	assert.Equal(t, 0.0, report.OverallScore)
	assert.Equal(t, VerdictLow, report.Verdict)

	runs, ok := report.Tests.Get(TestRuns)
	require.True(t, ok)
	assert.ErrorIs(t, runs.Err, ErrDegenerateSequence)
}

func TestAnalyze_ReferenceSequence(t *testing.T) {
	t.Parallel()

	report, err := Analyze("1011001011010011010101001101011010100110100101")
	require.NoError(t, err)

	assert.Equal(t, []string{
		TestFrequency, TestRuns, TestShannonEntropy, TestSerial, TestLongestRun, TestAutocorrelation,
	}, report.Tests.Names())
	assert.Equal(t, TotalTests, report.TotalTests)

	passed := 0
	for _, r := range report.Tests {
		if r.Passed {
			passed++
		}
	}
	assert.Equal(t, passed, report.PassedTests)
	assert.Equal(t, Score(passed, TotalTests), report.OverallScore)
	assert.Equal(t, Verdict(report.OverallScore), report.Verdict)
}

func TestAnalyze_AbortsOnValidationFailure(t *testing.T) {
	t.Parallel()

	report, err := Analyze("0101x")
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, report.Tests)

	_, err = Analyze("0101")
	require.ErrorIs(t, err, ErrInsufficientLength)
}

func TestAnalyze_Idempotent(t *testing.T) {
	t.Parallel()

	bits := "1100100100001111110110101010001000100001011010001100001000110100"
	first, err := Analyze(bits)
	require.NoError(t, err)
	second, err := Analyze(bits)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAnalyze_RandomInputsStayInBounds(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 200; i++ {
		length := MinAnalysisLength + rng.IntN(300)
		bias := rng.Float64()
		var sb strings.Builder
		for j := 0; j < length; j++ {
			if rng.Float64() < bias {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}

		report, err := Analyze(sb.String())
		require.NoError(t, err)
		require.Len(t, report.Tests, TotalTests)
		require.GreaterOrEqual(t, report.OverallScore, 0.0)
		require.LessOrEqual(t, report.OverallScore, 100.0)
		require.LessOrEqual(t, report.PassedTests, report.TotalTests)
	}
}

func TestScoreAndVerdict(t *testing.T) {
	cases := []struct {
		passed  int
		score   float64
		verdict string
	}{
		{passed: 6, score: 100, verdict: VerdictHigh},
		{passed: 5, score: 83.3, verdict: VerdictHigh},
		{passed: 4, score: 66.7, verdict: VerdictModerate},
		{passed: 3, score: 50, verdict: VerdictModerate},
		{passed: 2, score: 33.3, verdict: VerdictLow},
		{passed: 0, score: 0, verdict: VerdictLow},
	}

	for _, tc := range cases {
		score := Score(tc.passed, TotalTests)
		if score != tc.score {
			t.Fatalf("Score(%d): expected %.1f, got %.1f", tc.passed, tc.score, score)
		}
		if got := Verdict(score); got != tc.verdict {
			t.Fatalf("Verdict(%.1f): expected %s, got %s", score, tc.verdict, got)
		}
	}
}

func TestTestResults_MarshalJSONPreservesOrder(t *testing.T) {
	t.Parallel()

	report, err := Analyze(strings.Repeat("0110", 8))
	require.NoError(t, err)

	raw, err := json.Marshal(report)
	require.NoError(t, err)

	body := string(raw)
	last := -1
	for _, name := range report.Tests.Names() {
		idx := strings.Index(body, `"`+name+`":`)
		require.Greater(t, idx, last, "test %s out of order", name)
		last = idx
	}
}

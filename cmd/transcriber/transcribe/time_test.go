package transcribe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVTTTS(t *testing.T) {
	require.Equal(t, "00:00:00.000", vttTS(0, true))

	require.Equal(t, "00:01:10.000", vttTS(70, true))

	require.Equal(t, "00:00:00.999", vttTS(0.999, true))

	require.Equal(t, "00:00:01.000", vttTS(1, true))

	require.Equal(t, "00:00:01.100", vttTS(1.1, true))

	require.Equal(t, "00:01:02.200", vttTS(62.2, true))

	require.Equal(t, "01:00:00.000", vttTS(3600, true))

	require.Equal(t, "01:45:45.045", vttTS(6345.045, true))

	t.Run("without ms", func(t *testing.T) {
		require.Equal(t, "00:00:00", vttTS(0.4, false))
		require.Equal(t, "00:00:01", vttTS(0.5, false))
		require.Equal(t, "00:01:00", vttTS(59.6, false))
		require.Equal(t, "01:00:00", vttTS(3599.9, false))
	})
}

func TestFormatSRTTime(t *testing.T) {
	tcs := []struct {
		name     string
		input    float64
		expected string
	}{
		{
			name:     "zero",
			input:    0,
			expected: "00:00:00,000",
		},
		{
			name:     "negative",
			input:    -1.5,
			expected: "00:00:00,000",
		},
		{
			name:     "fractional",
			input:    10.5,
			expected: "00:00:10,500",
		},
		{
			name:     "rounding",
			input:    1.0006,
			expected: "00:00:01,001",
		},
		{
			name:     "hours",
			input:    3661.1,
			expected: "01:01:01,100",
		},
		{
			name:     "timestamp resolution",
			input:    0.02 * 7,
			expected: "00:00:00,140",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, FormatSRTTime(tc.input))
		})
	}
}

func TestParseTime(t *testing.T) {
	tcs := []struct {
		name        string
		input       string
		expected    float64
		expectedErr string
	}{
		{
			name:     "empty",
			input:    "",
			expected: 0,
		},
		{
			name:     "blank",
			input:    "   ",
			expected: 0,
		},
		{
			name:     "comma",
			input:    "00:00:10,500",
			expected: 10.5,
		},
		{
			name:     "dot",
			input:    "00:00:10.500",
			expected: 10.5,
		},
		{
			name:     "no fraction",
			input:    "0:00:10",
			expected: 10,
		},
		{
			name:     "short fraction",
			input:    "00:00:01,5",
			expected: 1.5,
		},
		{
			name:     "hours",
			input:    "01:01:01,100",
			expected: 3661.1,
		},
		{
			name:     "surrounding spaces",
			input:    " 00:01:00 ",
			expected: 60,
		},
		{
			name:        "garbage",
			input:       "ten seconds",
			expectedErr: `invalid time format: "ten seconds"`,
		},
		{
			name:        "too many fraction digits",
			input:       "00:00:01,5000",
			expectedErr: `invalid time format: "00:00:01,5000"`,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			sec, err := ParseTime(tc.input)
			if tc.expectedErr != "" {
				require.EqualError(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			require.InDelta(t, tc.expected, sec, 1e-9)
		})
	}
}

func TestTimeRoundTrip(t *testing.T) {
	sec, err := ParseTime(FormatSRTTime(10.5))
	require.NoError(t, err)
	require.Equal(t, 10.5, sec)

	require.Equal(t, "00:00:10,500", FormatSRTTime(sec))
}

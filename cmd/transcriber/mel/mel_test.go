package mel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFilterbank(t *testing.T, nMels int, fn func(m, k int) float32) *Filterbank {
	t.Helper()

	weights := make([]float32, nMels*NFreqBins)
	for m := 0; m < nMels; m++ {
		for k := 0; k < NFreqBins; k++ {
			weights[m*NFreqBins+k] = fn(m, k)
		}
	}

	fb, err := NewFilterbank(nMels, NFreqBins, weights)
	require.NoError(t, err)
	return fb
}

func TestConstants(t *testing.T) {
	require.Equal(t, 480000, NSamples)
	require.Equal(t, 3000, NFrames)
	require.Equal(t, 201, NFreqBins)
}

func TestHannWindow(t *testing.T) {
	w := HannWindow(NFFT)
	require.Len(t, w, NFFT)
	require.Equal(t, 0.0, w[0])
	require.InDelta(t, 1.0, w[NFFT/2], 1e-12)

	for i, v := range w {
		require.LessOrEqual(t, v, w[NFFT/2], "index %d", i)
		require.GreaterOrEqual(t, v, 0.0, "index %d", i)
	}

	// Periodic window: symmetric around n/2 but not including the endpoint.
	require.InDelta(t, w[1], w[NFFT-1], 1e-12)
}

func TestPadOrTrim(t *testing.T) {
	require.Len(t, PadOrTrim(nil), NSamples)

	short := PadOrTrim([]float32{1, 2, 3})
	require.Len(t, short, NSamples)
	require.Equal(t, []float32{1, 2, 3, 0}, short[:4])

	long := make([]float32, NSamples+100)
	long[NSamples-1] = 1
	long[NSamples] = 2
	trimmed := PadOrTrim(long)
	require.Len(t, trimmed, NSamples)
	require.Equal(t, float32(1), trimmed[NSamples-1])
}

func TestFilterbank(t *testing.T) {
	t.Run("load", func(t *testing.T) {
		weights := make([]float32, 80*NFreqBins)
		for i := range weights {
			weights[i] = float32(i) / 100
		}
		var buf bytes.Buffer
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, weights))

		fb, err := LoadFilterbank(&buf, 80)
		require.NoError(t, err)
		require.Equal(t, 80, fb.NMels)
		require.Equal(t, weights, fb.Weights)
	})

	t.Run("wrong number of mels", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, make([]float32, 80*NFreqBins)))

		_, err := LoadFilterbank(&buf, 128)
		var shapeErr *ShapeMismatchError
		require.True(t, errors.As(err, &shapeErr))
		require.Equal(t, []int{128, NFreqBins}, shapeErr.Expected)
		require.Equal(t, []int{80, NFreqBins}, shapeErr.Actual)
		require.EqualError(t, err, "mel filterbank shape mismatch: expected [128 201], got [80 201]")
	})

	t.Run("odd length", func(t *testing.T) {
		_, err := LoadFilterbank(bytes.NewReader(make([]byte, 10)), 80)
		require.EqualError(t, err, "invalid filterbank data: length 10 is not a multiple of 4")
	})

	t.Run("wrong frequency bins", func(t *testing.T) {
		_, err := NewFilterbank(80, 257, make([]float32, 80*257))
		var shapeErr *ShapeMismatchError
		require.True(t, errors.As(err, &shapeErr))
		require.Equal(t, []int{80, 257}, shapeErr.Actual)
	})
}

func TestNewExtractor(t *testing.T) {
	fb := newTestFilterbank(t, 80, func(_, _ int) float32 { return 0 })

	_, err := NewExtractor(128, fb)
	var shapeErr *ShapeMismatchError
	require.True(t, errors.As(err, &shapeErr))

	_, err = NewExtractor(80, nil)
	require.True(t, errors.As(err, &shapeErr))

	e, err := NewExtractor(80, fb)
	require.NoError(t, err)
	require.Equal(t, 80, e.NumMels())
}

func TestExtract(t *testing.T) {
	// Each band picks a single frequency bin.
	fb := newTestFilterbank(t, 80, func(m, k int) float32 {
		if k == m*2 {
			return 1
		}
		return 0
	})
	e, err := NewExtractor(80, fb)
	require.NoError(t, err)

	tone := func(n int) []float32 {
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
		}
		return samples
	}

	t.Run("short input is padded", func(t *testing.T) {
		spec := e.Extract(tone(SampleRate))
		require.Equal(t, [3]int{1, 80, NFrames}, spec.Shape())
		require.Len(t, spec.Data, 80*NFrames)
	})

	t.Run("long input is truncated", func(t *testing.T) {
		a := tone(NSamples + 1000)
		b := tone(NSamples + 5000)
		for i := NSamples; i < len(b); i++ {
			b[i] = 1
		}

		specA := e.Extract(a)
		specB := e.Extract(b)
		require.Equal(t, [3]int{1, 80, NFrames}, specB.Shape())
		require.Equal(t, specA.Data, specB.Data)
	})

	t.Run("dynamic range clamp", func(t *testing.T) {
		spec := e.Extract(tone(NSamples / 2))

		maxV := float32(math.Inf(-1))
		for _, v := range spec.Data {
			maxV = max(maxV, v)
		}
		for _, v := range spec.Data {
			require.GreaterOrEqual(t, v, maxV-2)
		}
	})
}

func TestExtractScaling(t *testing.T) {
	fb := newTestFilterbank(t, 2, func(m, k int) float32 {
		if m == 0 && k == 0 {
			return 1
		}
		return 0
	})
	e, err := NewExtractor(2, fb)
	require.NoError(t, err)

	t.Run("silence", func(t *testing.T) {
		spec := e.Extract(nil)
		for _, v := range spec.Data {
			require.InDelta(t, -1.5, v, 1e-6)
		}
	})

	t.Run("unit energy maps to one", func(t *testing.T) {
		// The periodic Hann window sums to NFFT/2, so a constant input of
		// 2/NFFT yields a DC coefficient of exactly one.
		samples := make([]float32, NSamples)
		for i := range samples {
			samples[i] = 2.0 / NFFT
		}

		spec := e.Extract(samples)
		require.InDelta(t, 1.0, spec.At(0, 0), 1e-5)
		require.InDelta(t, 1.0, spec.At(0, 100), 1e-5)

		// The other band has no energy and sits at the clamp floor.
		require.InDelta(t, -1.0, spec.At(1, 0), 1e-5)
		for _, v := range spec.Data {
			require.GreaterOrEqual(t, v, float32(-1.0-1e-5))
			require.LessOrEqual(t, v, float32(1.0+1e-5))
		}
	})
}

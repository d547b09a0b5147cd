// Package mel computes log-mel spectrograms in the layout expected by
// Whisper-style encoders.
package mel

import (
	"math"
)

const (
	SampleRate  = 16000
	NFFT        = 400
	HopLength   = 160
	ChunkLength = 30 // seconds
	NSamples    = ChunkLength * SampleRate
	NFrames     = NSamples / HopLength
	NFreqBins   = NFFT/2 + 1

	logFloor     = 1e-10
	dynamicRange = 8.0
)

// PadOrTrim returns a copy of samples zero-padded or truncated to exactly
// NSamples.
func PadOrTrim(samples []float32) []float32 {
	out := make([]float32, NSamples)
	copy(out, samples)
	return out
}

// HannWindow returns the periodic Hann window of size n.
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}

// Spectrogram is a log-mel spectrogram stored row-major as
// (NMels, NFrames). It represents a tensor of shape (1, NMels, NFrames).
type Spectrogram struct {
	NMels   int
	NFrames int
	Data    []float32
}

func (s *Spectrogram) Shape() [3]int {
	return [3]int{1, s.NMels, s.NFrames}
}

func (s *Spectrogram) At(mel, frame int) float32 {
	return s.Data[mel*s.NFrames+frame]
}

package mel

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// Extractor turns PCM windows into log-mel spectrograms. An Extractor is
// not safe for concurrent use.
type Extractor struct {
	nMels   int
	window  []float64
	fft     *fourier.FFT
	filters *mat.Dense
}

// NewExtractor returns an Extractor producing nMels bands. The filterbank
// must have been built for the same number of bands.
func NewExtractor(nMels int, fb *Filterbank) (*Extractor, error) {
	if fb == nil || fb.NMels != nMels || len(fb.Weights) != nMels*NFreqBins {
		var actual []int
		if fb != nil {
			actual = weightsShape(len(fb.Weights), NFreqBins)
		}
		return nil, &ShapeMismatchError{
			Expected: []int{nMels, NFreqBins},
			Actual:   actual,
		}
	}

	weights := make([]float64, len(fb.Weights))
	for i, w := range fb.Weights {
		weights[i] = float64(w)
	}

	return &Extractor{
		nMels:   nMels,
		window:  HannWindow(NFFT),
		fft:     fourier.NewFFT(NFFT),
		filters: mat.NewDense(nMels, NFreqBins, weights),
	}, nil
}

func (e *Extractor) NumMels() int {
	return e.nMels
}

// Extract computes the log-mel spectrogram of the first NSamples of
// samples, zero-padding shorter inputs.
func (e *Extractor) Extract(samples []float32) *Spectrogram {
	buf := PadOrTrim(samples)

	power := mat.NewDense(NFrames, NFreqBins, nil)
	frame := make([]float64, NFFT)
	coeffs := make([]complex128, NFreqBins)
	for i := 0; i < NFrames; i++ {
		offset := i * HopLength
		for j := range frame {
			if idx := offset + j; idx < len(buf) {
				frame[j] = float64(buf[idx]) * e.window[j]
			} else {
				frame[j] = 0
			}
		}

		coeffs = e.fft.Coefficients(coeffs, frame)

		row := power.RawRowView(i)
		for k, c := range coeffs {
			row[k] = real(c)*real(c) + imag(c)*imag(c)
		}
	}

	var melSpec mat.Dense
	melSpec.Mul(e.filters, power.T())

	out := &Spectrogram{
		NMels:   e.nMels,
		NFrames: NFrames,
		Data:    make([]float32, e.nMels*NFrames),
	}

	logs := make([]float64, len(out.Data))
	maxLog := math.Inf(-1)
	for m := 0; m < e.nMels; m++ {
		row := melSpec.RawRowView(m)
		for f, v := range row {
			l := math.Log(math.Max(v, logFloor)) / math.Ln10
			logs[m*NFrames+f] = l
			if l > maxLog {
				maxLog = l
			}
		}
	}

	floor := maxLog - dynamicRange
	for i, l := range logs {
		out.Data[i] = float32((math.Max(l, floor) + 4) / 4)
	}

	return out
}

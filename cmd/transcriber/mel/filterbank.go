package mel

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

type ShapeMismatchError struct {
	Expected []int
	Actual   []int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("mel filterbank shape mismatch: expected %v, got %v", e.Expected, e.Actual)
}

// Filterbank holds the mel projection weights, row-major with shape
// (NMels, NFreqBins). It is never modified after construction.
type Filterbank struct {
	NMels   int
	Weights []float32
}

func NewFilterbank(nMels, nFreq int, weights []float32) (*Filterbank, error) {
	if nMels <= 0 || nFreq != NFreqBins || len(weights) != nMels*nFreq {
		return nil, &ShapeMismatchError{
			Expected: []int{nMels, NFreqBins},
			Actual:   weightsShape(len(weights), nFreq),
		}
	}

	return &Filterbank{
		NMels:   nMels,
		Weights: weights,
	}, nil
}

func weightsShape(n, nFreq int) []int {
	if nFreq > 0 && n%nFreq == 0 {
		return []int{n / nFreq, nFreq}
	}
	return []int{n}
}

// LoadFilterbank reads nMels*NFreqBins little-endian float32 weights from r.
func LoadFilterbank(r io.Reader, nMels int) (*Filterbank, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read filterbank: %w", err)
	}

	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid filterbank data: length %d is not a multiple of 4", len(data))
	}

	weights := make([]float32, len(data)/4)
	for i := range weights {
		weights[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}

	if len(weights) != nMels*NFreqBins {
		return nil, &ShapeMismatchError{
			Expected: []int{nMels, NFreqBins},
			Actual:   weightsShape(len(weights), NFreqBins),
		}
	}

	return NewFilterbank(nMels, NFreqBins, weights)
}

func LoadFilterbankFile(path string, nMels int) (*Filterbank, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open filterbank file: %w", err)
	}
	defer f.Close()

	return LoadFilterbank(f, nMels)
}

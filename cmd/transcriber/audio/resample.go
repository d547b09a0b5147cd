package audio

import (
	"fmt"
	"log/slog"

	resampling "github.com/tphakala/go-audio-resampling"
)

type ResampleMode string

const (
	// ResampleModeDecimate only converts 48kHz input (by keeping every
	// third sample). Other rates pass through unchanged.
	ResampleModeDecimate ResampleMode = "decimate"
	// ResampleModeBandLimited converts any rate with a band-limited
	// resampler. 16kHz and 48kHz input still follow the decimate path.
	ResampleModeBandLimited ResampleMode = "bandlimited"
)

func (m ResampleMode) IsValid() error {
	switch m {
	case ResampleModeDecimate, ResampleModeBandLimited:
		return nil
	default:
		return fmt.Errorf("invalid ResampleMode %q", m)
	}
}

// Decimate keeps samples at indices 0, factor, 2*factor and so on. No
// anti-aliasing filter is applied.
func Decimate(samples []float32, factor int) []float32 {
	if factor <= 1 {
		return samples
	}
	out := make([]float32, 0, (len(samples)+factor-1)/factor)
	for i := 0; i < len(samples); i += factor {
		out = append(out, samples[i])
	}
	return out
}

// Downmix averages interleaved channels into a single channel. A trailing
// partial frame is dropped.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for _, s := range samples[i*channels : (i+1)*channels] {
			sum += s
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples between arbitrary rates using a
// band-limited resampler.
func Resample(samples []float32, inRate, outRate int) ([]float32, error) {
	if inRate == outRate || len(samples) == 0 {
		return samples, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(inRate),
		OutputRate: float64(outRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}

	output, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("failed to resample: %w", err)
	}

	out := make([]float32, len(output))
	for i, s := range output {
		out[i] = float32(s)
	}
	return out, nil
}

// Canonicalize converts decoded PCM into a mono stream at SampleRate.
func Canonicalize(pcm PCM, mode ResampleMode) ([]float32, error) {
	if pcm.SampleRate <= 0 {
		return nil, &DecodeError{Reason: "unknown sample rate"}
	}

	samples := Downmix(pcm.Samples, pcm.Channels)

	switch {
	case pcm.SampleRate == SampleRate:
		return samples, nil
	case pcm.SampleRate == opusSampleRate:
		return Decimate(samples, decimationFactor), nil
	case mode == ResampleModeBandLimited:
		slog.Debug("resampling audio",
			slog.Int("inRate", pcm.SampleRate),
			slog.Int("outRate", SampleRate))
		return Resample(samples, pcm.SampleRate, SampleRate)
	default:
		slog.Warn("unsupported sample rate, passing samples through unchanged: timestamps will be off",
			slog.Int("sampleRate", pcm.SampleRate),
			slog.Int("expectedRate", SampleRate))
		return samples, nil
	}
}

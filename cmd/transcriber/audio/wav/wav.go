// Package wav decodes RIFF/WAVE files into float PCM.
package wav

import (
	"fmt"
	"io"

	"github.com/go-audio/wav"

	"github.com/mattermost/file-transcriber/cmd/transcriber/audio"
)

type Decoder struct{}

func (Decoder) Decode(r io.ReadSeeker) (audio.PCM, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return audio.PCM{}, &audio.DecodeError{Reason: "no decodable track", Err: d.Err()}
	}

	if d.SampleRate == 0 {
		return audio.PCM{}, &audio.DecodeError{Reason: "unknown sample rate"}
	}

	if d.BitDepth == 0 || d.BitDepth > 32 {
		return audio.PCM{}, &audio.DecodeError{Reason: fmt.Sprintf("unsupported bit depth %d", d.BitDepth)}
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return audio.PCM{}, &audio.DecodeError{Reason: "failed to read samples", Err: err}
	}

	// 8 bit WAV samples are unsigned, the rest are signed.
	var offset float32
	if d.BitDepth == 8 {
		offset = 128
	}
	scale := float32(int64(1) << (d.BitDepth - 1))

	samples := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = (float32(s) - offset) / scale
	}

	return audio.PCM{
		Samples:    samples,
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
	}, nil
}

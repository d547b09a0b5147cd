// Package audio turns decoded audio into the mono 16kHz float PCM stream
// consumed by the feature extractor.
package audio

import (
	"fmt"
	"io"
)

const (
	// SampleRate is the canonical rate every input is brought to.
	SampleRate = 16000

	opusSampleRate   = 48000
	decimationFactor = opusSampleRate / SampleRate
)

// PCM is a buffer of interleaved float samples as returned by a Decoder.
type PCM struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Decoder decodes an audio container into PCM samples.
type Decoder interface {
	Decode(r io.ReadSeeker) (PCM, error)
}

// DecodeError reports that an input could not be turned into PCM: the
// container has no decodable track, the sample rate is unknown, or the
// decoder failed.
type DecodeError struct {
	Source string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "failed to decode audio"
	if e.Source != "" {
		msg += " " + fmt.Sprintf("%q", e.Source)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Package ogg decodes Ogg/Opus files into float PCM at the Opus native
// rate of 48kHz.
package ogg

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mattermost/file-transcriber/cmd/transcriber/audio"
	"github.com/mattermost/file-transcriber/cmd/transcriber/opus"
)

const decodeRate = 48000

type Decoder struct{}

func (Decoder) Decode(r io.ReadSeeker) (audio.PCM, error) {
	reader, hdr, err := NewPacketReader(r)
	if err != nil {
		return audio.PCM{}, &audio.DecodeError{Reason: "no decodable track", Err: err}
	}

	if hdr.Channels == 0 {
		return audio.PCM{}, &audio.DecodeError{Reason: "no decodable track", Err: fmt.Errorf("invalid channel count")}
	}

	dec, err := opus.NewDecoder(decodeRate, int(hdr.Channels))
	if err != nil {
		return audio.PCM{}, &audio.DecodeError{Reason: "failed to create decoder", Err: err}
	}
	defer func() {
		if err := dec.Destroy(); err != nil {
			slog.Error("failed to destroy decoder", slog.String("err", err.Error()))
		}
	}()

	var samples []float32
	var numPackets int
	for {
		pkt, err := reader.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return audio.PCM{}, &audio.DecodeError{Reason: "failed to read packet", Err: err}
		}

		// Zero length packets carry no audio.
		if len(pkt) == 0 {
			continue
		}

		pcm, err := dec.DecodePacket(pkt)
		if err != nil {
			return audio.PCM{}, &audio.DecodeError{
				Reason: fmt.Sprintf("failed to decode packet %d", numPackets),
				Err:    err,
			}
		}
		samples = append(samples, pcm...)
		numPackets++
	}

	if skip := int(hdr.PreSkip) * dec.Channels(); skip > 0 {
		samples = samples[min(skip, len(samples)):]
	}

	slog.Debug("ogg stream decoded",
		slog.Int("packets", numPackets),
		slog.Int("channels", dec.Channels()),
		slog.Int("samples", len(samples)))

	return audio.PCM{
		Samples:    samples,
		SampleRate: dec.SampleRate(),
		Channels:   dec.Channels(),
	}, nil
}

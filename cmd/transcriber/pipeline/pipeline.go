// Package pipeline wires the feature extractor and the decoder into a
// transcribe.Transcriber.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattermost/file-transcriber/cmd/transcriber/decoder"
	"github.com/mattermost/file-transcriber/cmd/transcriber/mel"
	"github.com/mattermost/file-transcriber/cmd/transcriber/transcribe"
)

type Config struct {
	Model      decoder.Model
	Tokenizer  decoder.Tokenizer
	Vocabulary decoder.Vocabulary
	Filterbank *mel.Filterbank
	NumMels    int
	// ModelName is reported in the produced transcriptions.
	ModelName     string
	DecodeOptions decoder.Options
}

func (c Config) IsValid() error {
	if c.Model == nil {
		return fmt.Errorf("invalid Model: should not be nil")
	}
	if c.Tokenizer == nil {
		return fmt.Errorf("invalid Tokenizer: should not be nil")
	}
	if c.Filterbank == nil {
		return fmt.Errorf("invalid Filterbank: should not be nil")
	}
	if c.NumMels <= 0 {
		return fmt.Errorf("invalid NumMels: should be a positive number")
	}
	return nil
}

// Pipeline transcribes a single window of audio. It holds a model instance
// and is not safe for concurrent use; use one Pipeline per worker.
type Pipeline struct {
	cfg       Config
	extractor *mel.Extractor
	decoder   *decoder.Decoder
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	extractor, err := mel.NewExtractor(cfg.NumMels, cfg.Filterbank)
	if err != nil {
		return nil, fmt.Errorf("failed to create feature extractor: %w", err)
	}

	dec, err := decoder.New(cfg.Model, cfg.Tokenizer, cfg.Vocabulary, cfg.DecodeOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Pipeline{
		cfg:       cfg,
		extractor: extractor,
		decoder:   dec,
	}, nil
}

func (p *Pipeline) Transcribe(ctx context.Context, samples []float32) (transcribe.Transcription, error) {
	var tr transcribe.Transcription
	tr.Model = p.cfg.ModelName

	if len(samples) > mel.NSamples {
		slog.Warn("input is longer than a single window, trailing audio is ignored",
			slog.Duration("inputDur", samplesDuration(len(samples))),
			slog.Duration("windowDur", samplesDuration(mel.NSamples)))
	}

	start := time.Now()
	spec := p.extractor.Extract(samples)
	slog.Debug("features extracted",
		slog.Int("mels", p.extractor.NumMels()),
		slog.Any("shape", spec.Shape()),
		slog.Duration("dur", time.Since(start)))

	start = time.Now()
	res, err := p.decoder.Decode(ctx, spec)
	if err != nil {
		return tr, fmt.Errorf("failed to decode: %w", err)
	}

	if res.Truncated {
		slog.Warn("transcription truncated at the decode step limit",
			slog.Int("steps", res.Steps),
			slog.Int("segments", len(res.Segments)))
	}

	slog.Debug("decoding done",
		slog.Int("steps", res.Steps),
		slog.Int("segments", len(res.Segments)),
		slog.Duration("dur", time.Since(start)))

	tr.Segments = res.Segments
	tr.Truncated = res.Truncated

	return tr, nil
}

// Destroy releases the model if it holds resources.
func (p *Pipeline) Destroy() error {
	if d, ok := p.cfg.Model.(interface{ Destroy() error }); ok {
		return d.Destroy()
	}
	return nil
}

func samplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / mel.SampleRate
}

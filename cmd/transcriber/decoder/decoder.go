// Package decoder implements greedy, timestamp-aware decoding of a single
// audio window into transcript segments.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/mattermost/file-transcriber/cmd/transcriber/mel"
	"github.com/mattermost/file-transcriber/cmd/transcriber/transcribe"
)

const (
	DefaultMaxSteps            = 1000
	DefaultWindowSeconds       = float64(mel.ChunkLength)
	DefaultTimestampResolution = 0.02
)

// Features is the encoder output for a window. Its contents are only
// meaningful to the Model that produced it.
type Features any

// Model is the encoder/decoder network.
type Model interface {
	Encode(ctx context.Context, spec *mel.Spectrogram) (Features, error)
	// DecodeStep returns the logits over the vocabulary for the token
	// following the last one in tokens.
	DecodeStep(ctx context.Context, tokens []Token, features Features) ([]float32, error)
}

type Tokenizer interface {
	// Decode turns token ids into text, skipping special tokens.
	Decode(ids []Token) (string, error)
}

// CapabilityError wraps a failure of the model or tokenizer.
type CapabilityError struct {
	Op  string
	Err error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

type Options struct {
	// MaxSteps caps the number of decode steps. It is unrelated to the
	// vocabulary or model sequence limits.
	MaxSteps int
	// WindowSeconds is the end time given to text still pending when the
	// model emits end of text.
	WindowSeconds float64
	// TimestampResolution is the duration of one timestamp token step.
	TimestampResolution float64
}

func (o *Options) SetDefaults() {
	if o.MaxSteps == 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	if o.WindowSeconds == 0 {
		o.WindowSeconds = DefaultWindowSeconds
	}
	if o.TimestampResolution == 0 {
		o.TimestampResolution = DefaultTimestampResolution
	}
}

func (o Options) IsValid() error {
	if o.MaxSteps <= 0 {
		return fmt.Errorf("MaxSteps should be a positive number")
	}
	if o.WindowSeconds <= 0 {
		return fmt.Errorf("WindowSeconds should be a positive number")
	}
	if o.TimestampResolution <= 0 {
		return fmt.Errorf("TimestampResolution should be a positive number")
	}
	return nil
}

type Result struct {
	Segments []transcribe.Segment
	// Tokens is the decoded history, without the initial control tokens
	// and the final end of text.
	Tokens []Token
	Steps  int
	// Truncated is set when MaxSteps was reached before end of text. Any
	// text pending at that point is discarded.
	Truncated bool
}

// Decoder runs the greedy decoding loop. A Decoder is not safe for
// concurrent use since the underlying Model usually is not.
type Decoder struct {
	model     Model
	tokenizer Tokenizer
	vocab     Vocabulary
	opts      Options
}

func New(model Model, tokenizer Tokenizer, vocab Vocabulary, opts Options) (*Decoder, error) {
	if model == nil {
		return nil, fmt.Errorf("invalid nil model")
	}
	if tokenizer == nil {
		return nil, fmt.Errorf("invalid nil tokenizer")
	}

	opts.SetDefaults()
	if err := opts.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	return &Decoder{
		model:     model,
		tokenizer: tokenizer,
		vocab:     vocab,
		opts:      opts,
	}, nil
}

// Decode encodes the spectrogram and greedily decodes it into segments.
// Cancelling ctx stops decoding at the next step.
func (d *Decoder) Decode(ctx context.Context, spec *mel.Spectrogram) (Result, error) {
	var res Result

	features, err := d.model.Encode(ctx, spec)
	if err != nil {
		return res, &CapabilityError{Op: "encode", Err: err}
	}

	history := []Token{d.vocab.StartOfTranscript, d.vocab.Transcribe}
	prefixLen := len(history)
	sg := segmenter{
		vocab:     d.vocab,
		tokenizer: d.tokenizer,
		opts:      d.opts,
	}

	for res.Steps < d.opts.MaxSteps {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		logits, err := d.model.DecodeStep(ctx, history, features)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return res, ctxErr
			}
			return res, &CapabilityError{Op: "decode step", Err: err}
		}
		res.Steps++

		next, ok := argmax(logits)
		if !ok {
			return res, &CapabilityError{Op: "decode step", Err: fmt.Errorf("no valid logits")}
		}

		if next == d.vocab.EndOfText {
			if err := sg.flush(d.opts.WindowSeconds); err != nil {
				return res, err
			}
			res.Segments = sg.segments
			res.Tokens = history[prefixLen:]
			return res, nil
		}

		history = append(history, next)
		if err := sg.push(next); err != nil {
			return res, err
		}
	}

	slog.Warn("decoding stopped at the iteration cap, discarding pending text",
		slog.Int("maxSteps", d.opts.MaxSteps),
		slog.Int("pendingTokens", len(sg.pending)))

	res.Segments = sg.segments
	res.Tokens = history[prefixLen:]
	res.Truncated = true

	return res, nil
}

// argmax returns the index of the largest logit, ignoring NaNs. Ties go to
// the lowest index.
func argmax(logits []float32) (Token, bool) {
	best := -1
	bestV := float32(math.Inf(-1))
	for i, v := range logits {
		if v != v {
			continue
		}
		if best == -1 || v > bestV {
			best = i
			bestV = v
		}
	}
	if best == -1 {
		return 0, false
	}
	return Token(best), true
}

// segmenter accumulates text tokens between timestamps.
type segmenter struct {
	vocab     Vocabulary
	tokenizer Tokenizer
	opts      Options

	start    float64
	pending  []Token
	segments []transcribe.Segment
}

func (s *segmenter) push(tok Token) error {
	if !s.vocab.IsTimestamp(tok) {
		s.pending = append(s.pending, tok)
		return nil
	}

	// Keep segments ordered and inside the window even when the model
	// emits a decreasing or out of range timestamp.
	ts := s.vocab.TimestampSeconds(tok, s.opts.TimestampResolution)
	ts = min(max(ts, s.start), s.opts.WindowSeconds)

	if err := s.flush(ts); err != nil {
		return err
	}
	s.start = ts

	return nil
}

// flush emits the pending text as a segment ending at end.
func (s *segmenter) flush(end float64) error {
	if len(s.pending) == 0 {
		return nil
	}

	text, err := s.tokenizer.Decode(s.pending)
	if err != nil {
		return &CapabilityError{Op: "tokenizer decode", Err: err}
	}
	s.pending = s.pending[:0]

	s.segments = append(s.segments, transcribe.Segment{
		Start: s.start,
		End:   max(end, s.start),
		Text:  text,
	})

	return nil
}

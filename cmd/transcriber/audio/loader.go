package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Loader decodes audio files by extension and canonicalizes them.
type Loader struct {
	decoders map[string]Decoder
	mode     ResampleMode
}

func NewLoader(mode ResampleMode) *Loader {
	if mode == "" {
		mode = ResampleModeDecimate
	}
	return &Loader{
		decoders: map[string]Decoder{},
		mode:     mode,
	}
}

// Register sets the decoder used for files with extension ext (e.g. ".wav").
func (l *Loader) Register(ext string, d Decoder) {
	l.decoders[strings.ToLower(ext)] = d
}

// Extensions returns the registered extensions in sorted order.
func (l *Loader) Extensions() []string {
	exts := make([]string, 0, len(l.decoders))
	for ext := range l.decoders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// LoadFile decodes the file at path into a mono PCM stream at SampleRate.
func (l *Loader) LoadFile(path string) ([]float32, error) {
	ext := strings.ToLower(filepath.Ext(path))
	d, ok := l.decoders[ext]
	if !ok {
		return nil, &DecodeError{Source: path, Reason: fmt.Sprintf("no decoder for extension %q", ext)}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	start := time.Now()
	pcm, err := d.Decode(f)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			decodeErr.Source = path
			return nil, decodeErr
		}
		return nil, &DecodeError{Source: path, Reason: "decoder failed", Err: err}
	}

	samples, err := Canonicalize(pcm, l.mode)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			decodeErr.Source = path
		}
		return nil, err
	}

	slog.Debug("audio loaded",
		slog.String("path", path),
		slog.Int("sampleRate", pcm.SampleRate),
		slog.Int("channels", pcm.Channels),
		slog.Int("samples", len(samples)),
		slog.Duration("dur", time.Since(start)))

	return samples, nil
}

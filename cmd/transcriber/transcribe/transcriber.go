package transcribe

import (
	"context"
	"fmt"
	"strings"
)

type Transcriber interface {
	// Transcribe converts a mono 16kHz PCM buffer into a transcription. The
	// returned Transcription has no Source set.
	Transcribe(ctx context.Context, samples []float32) (Transcription, error)
	Destroy() error
}

// Segment is a time-aligned piece of text. Start and End are seconds
// relative to the beginning of the decoded window.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

func (s *Segment) sanitize(fns ...func(string) string) {
	s.Text = strings.TrimSpace(s.Text)
	for _, fn := range fns {
		s.Text = fn(s.Text)
	}
}

func (s Segment) startMs() int64 {
	return secondsToMs(s.Start)
}

func (s Segment) endMs() int64 {
	return secondsToMs(s.End)
}

type Transcription struct {
	// Source identifies the transcribed input (e.g. the file name).
	Source string
	// Model identifies the model that produced the segments.
	Model    string
	Segments []Segment
	// Truncated is set when decoding stopped at the iteration cap before
	// reaching end of text.
	Truncated bool
}

// IsValid checks that segments are ordered and non-overlapping, with each
// segment starting at or before its end.
func (t Transcription) IsValid() error {
	var prevEnd float64
	for i, s := range t.Segments {
		if s.Start < 0 {
			return &SegmentError{Index: i, Reason: "negative start"}
		}
		if s.Start > s.End {
			return &SegmentError{Index: i, Reason: "start after end"}
		}
		if s.Start < prevEnd {
			return &SegmentError{Index: i, Reason: "overlaps previous segment"}
		}
		prevEnd = s.End
	}
	return nil
}

type SegmentError struct {
	Index  int
	Reason string
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("invalid segment %d: %s", e.Index, e.Reason)
}

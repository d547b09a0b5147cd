package transcribe

import (
	"fmt"
	"io"
)

// SRT writes the transcription as SubRip cues. Cues are numbered from one
// and separated by a blank line.
func (t Transcription) SRT(w io.Writer) error {
	for i, s := range t.Segments {
		s.sanitize()

		_, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", i+1, FormatSRTTime(s.Start), FormatSRTTime(s.End), s.Text)
		if err != nil {
			return fmt.Errorf("failed to write: %w", err)
		}
	}

	return nil
}

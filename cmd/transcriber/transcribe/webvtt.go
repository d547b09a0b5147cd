package transcribe

import (
	"fmt"
	"html"
	"io"
	"os"
	"strconv"
)

type WebVTTOptions struct {
	OmitSource bool
}

func (o *WebVTTOptions) IsValid() error {
	return nil
}

func (o *WebVTTOptions) IsEmpty() bool {
	return o == nil || *o == WebVTTOptions{}
}

func (o *WebVTTOptions) SetDefaults() {
	o.OmitSource = false
}

func (o *WebVTTOptions) FromEnv() {
	o.OmitSource, _ = strconv.ParseBool(os.Getenv("WEBVTT_OMIT_SOURCE"))
}

func (o *WebVTTOptions) ToEnv() []string {
	return []string{
		fmt.Sprintf("WEBVTT_OMIT_SOURCE=%t", o.OmitSource),
	}
}

func (o *WebVTTOptions) FromMap(m map[string]any) {
	o.OmitSource, _ = m["webvtt_omit_source"].(bool)
}

func (o *WebVTTOptions) ToMap() map[string]any {
	return map[string]any{
		"webvtt_omit_source": o.OmitSource,
	}
}

func (t Transcription) WebVTT(w io.Writer, opts WebVTTOptions) error {
	_, err := fmt.Fprintf(w, "WEBVTT\n")
	if err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	for _, s := range t.Segments {
		s.sanitize(html.EscapeString)

		_, err = fmt.Fprintf(w, "\n%s --> %s\n", vttTS(s.Start, true), vttTS(s.End, true))
		if err != nil {
			return fmt.Errorf("failed to write: %w", err)
		}
		tmpl := "<v %[1]s>%[2]s\n"
		if opts.OmitSource || t.Source == "" {
			tmpl = "%[2]s\n"
		}
		_, err = fmt.Fprintf(w, tmpl, html.EscapeString(t.Source), s.Text)
		if err != nil {
			return fmt.Errorf("failed to write: %w", err)
		}
	}

	return nil
}

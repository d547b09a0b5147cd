package decoder

import (
	"fmt"
	"log/slog"
)

// Token is a vocabulary id.
type Token = uint32

const (
	StartOfTranscriptName = "<|startoftranscript|>"
	TranscribeName        = "<|transcribe|>"
	EndOfTextName         = "<|endoftext|>"
	NoTimestampsName      = "<|notimestamps|>"
)

// Ids used by the multilingual Whisper vocabulary when a token cannot be
// looked up by name.
const (
	DefaultStartOfTranscript Token = 50258
	DefaultTranscribe        Token = 50359
	DefaultEndOfText         Token = 50257
	DefaultNoTimestamps      Token = 50363
)

// Vocabulary holds the control token ids driving the decoding loop. Every
// id above NoTimestamps is a timestamp token.
type Vocabulary struct {
	StartOfTranscript Token
	Transcribe        Token
	EndOfText         Token
	NoTimestamps      Token
}

var DefaultVocabulary = Vocabulary{
	StartOfTranscript: DefaultStartOfTranscript,
	Transcribe:        DefaultTranscribe,
	EndOfText:         DefaultEndOfText,
	NoTimestamps:      DefaultNoTimestamps,
}

func (v Vocabulary) TimestampBegin() Token {
	return v.NoTimestamps + 1
}

func (v Vocabulary) IsTimestamp(t Token) bool {
	return t >= v.TimestampBegin()
}

// TimestampSeconds converts a timestamp token into seconds from the start
// of the window.
func (v Vocabulary) TimestampSeconds(t Token, resolution float64) float64 {
	return float64(t-v.TimestampBegin()) * resolution
}

type VocabularyMissingError struct {
	Token string
}

func (e *VocabularyMissingError) Error() string {
	return fmt.Sprintf("control token %s is missing from the vocabulary", e.Token)
}

// LookupVocabulary resolves the control tokens by name. When a token is
// missing and useFallbacks is set, the default multilingual id is used
// instead; otherwise a *VocabularyMissingError is returned.
func LookupVocabulary(lookup func(name string) (Token, bool), useFallbacks bool) (Vocabulary, error) {
	var v Vocabulary

	entries := []struct {
		name     string
		fallback Token
		dst      *Token
	}{
		{StartOfTranscriptName, DefaultStartOfTranscript, &v.StartOfTranscript},
		{TranscribeName, DefaultTranscribe, &v.Transcribe},
		{EndOfTextName, DefaultEndOfText, &v.EndOfText},
		{NoTimestampsName, DefaultNoTimestamps, &v.NoTimestamps},
	}

	for _, e := range entries {
		id, ok := lookup(e.name)
		if ok {
			*e.dst = id
			continue
		}

		if !useFallbacks {
			return Vocabulary{}, &VocabularyMissingError{Token: e.name}
		}

		slog.Warn("control token missing from vocabulary, using fallback id",
			slog.String("token", e.name),
			slog.Any("id", e.fallback))
		*e.dst = e.fallback
	}

	return v, nil
}

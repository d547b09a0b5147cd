package decoder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVocabulary(t *testing.T) {
	v := DefaultVocabulary
	require.Equal(t, Token(50364), v.TimestampBegin())
	require.False(t, v.IsTimestamp(v.NoTimestamps))
	require.True(t, v.IsTimestamp(50364))
	require.Equal(t, 0.0, v.TimestampSeconds(50364, DefaultTimestampResolution))
	require.InDelta(t, 0.5, v.TimestampSeconds(50364+25, DefaultTimestampResolution), 1e-12)
	require.InDelta(t, 30.0, v.TimestampSeconds(50364+1500, DefaultTimestampResolution), 1e-9)
}

func TestLookupVocabulary(t *testing.T) {
	ids := map[string]Token{
		StartOfTranscriptName: 1,
		TranscribeName:        2,
		EndOfTextName:         3,
		NoTimestampsName:      4,
	}
	lookup := func(name string) (Token, bool) {
		id, ok := ids[name]
		return id, ok
	}

	t.Run("all present", func(t *testing.T) {
		v, err := LookupVocabulary(lookup, false)
		require.NoError(t, err)
		require.Equal(t, Vocabulary{
			StartOfTranscript: 1,
			Transcribe:        2,
			EndOfText:         3,
			NoTimestamps:      4,
		}, v)
	})

	delete(ids, TranscribeName)

	t.Run("missing", func(t *testing.T) {
		_, err := LookupVocabulary(lookup, false)
		var missingErr *VocabularyMissingError
		require.True(t, errors.As(err, &missingErr))
		require.Equal(t, TranscribeName, missingErr.Token)
		require.EqualError(t, err, "control token <|transcribe|> is missing from the vocabulary")
	})

	t.Run("fallback", func(t *testing.T) {
		v, err := LookupVocabulary(lookup, true)
		require.NoError(t, err)
		require.Equal(t, Vocabulary{
			StartOfTranscript: 1,
			Transcribe:        DefaultTranscribe,
			EndOfText:         3,
			NoTimestamps:      4,
		}, v)
	})

	t.Run("empty vocabulary", func(t *testing.T) {
		v, err := LookupVocabulary(func(string) (Token, bool) { return 0, false }, true)
		require.NoError(t, err)
		require.Equal(t, DefaultVocabulary, v)
	})
}

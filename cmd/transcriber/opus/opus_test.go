package opus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// A 20ms CELT fullband silence frame.
var silenceFrame = []byte{0xf8, 0xff, 0xfe}

func TestOpusDecode(t *testing.T) {
	rate := 48000
	frameSize := 20 * rate / 1000

	t.Run("mono", func(t *testing.T) {
		dec, err := NewDecoder(rate, 1)
		require.NoError(t, err)
		require.NotNil(t, dec)
		require.Equal(t, rate, dec.SampleRate())
		require.Equal(t, 1, dec.Channels())

		samples := make([]float32, frameSize)
		n, err := dec.Decode(silenceFrame, samples)
		require.NoError(t, err)
		require.Equal(t, frameSize, n)

		out, err := dec.DecodePacket(silenceFrame)
		require.NoError(t, err)
		require.Len(t, out, frameSize)

		require.NoError(t, dec.Destroy())
	})

	t.Run("stereo", func(t *testing.T) {
		dec, err := NewDecoder(rate, 2)
		require.NoError(t, err)
		defer dec.Destroy()

		out, err := dec.DecodePacket(silenceFrame)
		require.NoError(t, err)
		require.Len(t, out, 2*frameSize)
	})
}

func TestOpusDecodeErrors(t *testing.T) {
	_, err := NewDecoder(48000, 0)
	require.EqualError(t, err, "invalid channels: 0")

	_, err = NewDecoder(44100, 1)
	require.Error(t, err)

	dec, err := NewDecoder(48000, 2)
	require.NoError(t, err)

	_, err = dec.Decode(nil, make([]float32, 960))
	require.EqualError(t, err, "data should not be empty")

	_, err = dec.Decode(silenceFrame, nil)
	require.EqualError(t, err, "samples should not be empty")

	_, err = dec.Decode(silenceFrame, make([]float32, 961))
	require.EqualError(t, err, "invalid samples capacity")

	require.NoError(t, dec.Destroy())
	require.EqualError(t, dec.Destroy(), "decoder is not initialized")

	_, err = dec.DecodePacket(silenceFrame)
	require.EqualError(t, err, "decoder is not initialized")
}

func BenchmarkOpusDecode(b *testing.B) {
	dec, err := NewDecoder(48000, 1)
	require.NoError(b, err)
	defer dec.Destroy()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := dec.DecodePacket(silenceFrame)
		require.NoError(b, err)
	}
}

package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/file-transcriber/cmd/transcriber/audio"
)

// A 20ms CELT fullband silence frame.
var silenceFrame = []byte{0xf8, 0xff, 0xfe}

const testPreSkip = 312

func writeOgg(t *testing.T, channels uint16, numPackets int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "input.ogg")
	w, err := oggwriter.New(path, decodeRate, channels)
	require.NoError(t, err)

	for i := 0; i < numPackets; i++ {
		require.NoError(t, w.WriteRTP(&rtp.Packet{
			Header: rtp.Header{
				SequenceNumber: uint16(i),
				Timestamp:      uint32(i * 960),
			},
			Payload: silenceFrame,
		}))
	}
	require.NoError(t, w.Close())

	return path
}

func preSkip(t *testing.T, path string) int {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, hdr, err := NewPacketReader(f)
	require.NoError(t, err)
	return int(hdr.PreSkip)
}

// oggBuilder writes Ogg pages by hand so that tests can lay out packets
// across pages freely.
type oggBuilder struct {
	buf   bytes.Buffer
	index uint32
	table *[256]uint32
}

func newOggBuilder(channels uint8) *oggBuilder {
	b := &oggBuilder{table: generateChecksumTable()}

	id := make([]byte, idPagePayloadLength)
	copy(id, idPageSignature)
	id[8] = 1
	id[9] = channels
	binary.LittleEndian.PutUint16(id[10:12], testPreSkip)
	binary.LittleEndian.PutUint32(id[12:16], decodeRate)
	b.page(pageHeaderTypeBeginningOfStream, []byte{idPagePayloadLength}, id)

	tags := append([]byte(commentPageSignature), make([]byte, 8)...)
	b.page(0, []byte{byte(len(tags))}, tags)

	return b
}

// packets writes a page holding complete packets.
func (b *oggBuilder) packets(pkts ...[]byte) {
	var lacing, payload []byte
	for _, p := range pkts {
		n := len(p)
		for ; n >= maxLacingValue; n -= maxLacingValue {
			lacing = append(lacing, maxLacingValue)
		}
		lacing = append(lacing, byte(n))
		payload = append(payload, p...)
	}
	b.page(0, lacing, payload)
}

func (b *oggBuilder) page(headerType byte, lacing, payload []byte) {
	h := make([]byte, pageHeaderLen)
	copy(h, pageHeaderSignature)
	h[5] = headerType
	binary.LittleEndian.PutUint64(h[6:14], uint64(b.index)*960)
	binary.LittleEndian.PutUint32(h[14:18], 1)
	binary.LittleEndian.PutUint32(h[18:22], b.index)
	h[26] = byte(len(lacing))

	r := &PacketReader{checksumTable: b.table}
	binary.LittleEndian.PutUint32(h[22:26], r.checksum(h, lacing, payload))

	b.buf.Write(h)
	b.buf.Write(lacing)
	b.buf.Write(payload)
	b.index++
}

func (b *oggBuilder) reader() *bytes.Reader {
	return bytes.NewReader(b.buf.Bytes())
}

func readAllPackets(t *testing.T, r io.Reader) ([][]byte, error) {
	t.Helper()

	pr, _, err := NewPacketReader(r)
	require.NoError(t, err)

	var pkts [][]byte
	for {
		pkt, err := pr.NextPacket()
		if errors.Is(err, io.EOF) {
			return pkts, nil
		} else if err != nil {
			return pkts, err
		}
		pkts = append(pkts, pkt)
	}
}

func TestPacketReader(t *testing.T) {
	long := bytes.Repeat([]byte{0xaa}, 300)
	exact := bytes.Repeat([]byte{0xbb}, maxLacingValue)

	t.Run("header", func(t *testing.T) {
		b := newOggBuilder(2)
		_, hdr, err := NewPacketReader(b.reader())
		require.NoError(t, err)
		require.Equal(t, uint8(2), hdr.Channels)
		require.Equal(t, uint16(testPreSkip), hdr.PreSkip)
		require.Equal(t, uint32(decodeRate), hdr.SampleRate)
	})

	t.Run("several packets per page", func(t *testing.T) {
		b := newOggBuilder(1)
		b.packets(silenceFrame, []byte{1, 2}, []byte{3})
		b.packets([]byte{4})

		pkts, err := readAllPackets(t, b.reader())
		require.NoError(t, err)
		require.Equal(t, [][]byte{silenceFrame, {1, 2}, {3}, {4}}, pkts)
	})

	t.Run("packet spanning pages", func(t *testing.T) {
		b := newOggBuilder(1)
		b.page(0, []byte{maxLacingValue}, long[:maxLacingValue])
		b.page(pageHeaderTypeContinuedPacket, []byte{45, 2}, append(append([]byte{}, long[maxLacingValue:]...), 5, 6))

		pkts, err := readAllPackets(t, b.reader())
		require.NoError(t, err)
		require.Equal(t, [][]byte{long, {5, 6}}, pkts)
	})

	t.Run("packet of exactly one full segment", func(t *testing.T) {
		b := newOggBuilder(1)
		b.packets(exact, []byte{7})

		pkts, err := readAllPackets(t, b.reader())
		require.NoError(t, err)
		require.Equal(t, [][]byte{exact, {7}}, pkts)
	})

	t.Run("continuation without partial packet", func(t *testing.T) {
		b := newOggBuilder(1)
		b.page(pageHeaderTypeContinuedPacket, []byte{2}, []byte{1, 2})

		_, err := readAllPackets(t, b.reader())
		require.ErrorIs(t, err, errUnexpectedContinuation)
	})

	t.Run("stream ending inside a packet", func(t *testing.T) {
		b := newOggBuilder(1)
		b.packets([]byte{1})
		b.page(0, []byte{maxLacingValue}, long[:maxLacingValue])

		pkts, err := readAllPackets(t, b.reader())
		require.ErrorIs(t, err, errTruncatedPacket)
		require.Equal(t, [][]byte{{1}}, pkts)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		b := newOggBuilder(1)
		b.packets([]byte{1, 2, 3})
		data := b.buf.Bytes()
		data[len(data)-1] ^= 0xff

		_, err := readAllPackets(t, bytes.NewReader(data))
		require.ErrorIs(t, err, errChecksumMismatch)
	})

	t.Run("pion writer output", func(t *testing.T) {
		f, err := os.Open(writeOgg(t, 1, 10))
		require.NoError(t, err)
		defer f.Close()

		pkts, err := readAllPackets(t, f)
		require.NoError(t, err)
		require.Len(t, pkts, 10)
		for _, pkt := range pkts {
			require.Equal(t, silenceFrame, pkt)
		}
	})
}

func TestDecode(t *testing.T) {
	t.Run("mono", func(t *testing.T) {
		path := writeOgg(t, 1, 50)

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()

		pcm, err := Decoder{}.Decode(f)
		require.NoError(t, err)
		require.Equal(t, decodeRate, pcm.SampleRate)
		require.Equal(t, 1, pcm.Channels)
		require.Len(t, pcm.Samples, max(0, 50*960-preSkip(t, path)))
	})

	t.Run("several packets per page", func(t *testing.T) {
		b := newOggBuilder(1)
		for i := 0; i < 10; i++ {
			b.packets(silenceFrame, silenceFrame, silenceFrame, silenceFrame, silenceFrame)
		}

		pcm, err := Decoder{}.Decode(b.reader())
		require.NoError(t, err)
		require.Equal(t, 1, pcm.Channels)
		require.Len(t, pcm.Samples, 50*960-testPreSkip)
	})

	t.Run("decimated by the loader", func(t *testing.T) {
		path := writeOgg(t, 2, 50)

		l := audio.NewLoader(audio.ResampleModeDecimate)
		l.Register(".ogg", Decoder{})

		samples, err := l.LoadFile(path)
		require.NoError(t, err)

		n := max(0, 50*960-preSkip(t, path))
		require.Len(t, samples, (n+2)/3)
	})

	t.Run("invalid packet", func(t *testing.T) {
		b := newOggBuilder(1)
		// A code 3 packet without its frame count byte.
		b.packets(silenceFrame, []byte{0x03})

		_, err := Decoder{}.Decode(b.reader())
		var decodeErr *audio.DecodeError
		require.True(t, errors.As(err, &decodeErr))
		require.Equal(t, "failed to decode packet 1", decodeErr.Reason)
	})

	t.Run("truncated stream", func(t *testing.T) {
		b := newOggBuilder(1)
		b.packets(silenceFrame)
		data := b.buf.Bytes()

		_, err := Decoder{}.Decode(bytes.NewReader(data[:len(data)-2]))
		var decodeErr *audio.DecodeError
		require.True(t, errors.As(err, &decodeErr))
		require.Equal(t, "failed to read packet", decodeErr.Reason)
	})

	t.Run("not an ogg file", func(t *testing.T) {
		_, err := Decoder{}.Decode(bytes.NewReader([]byte("definitely not an ogg stream")))
		var decodeErr *audio.DecodeError
		require.True(t, errors.As(err, &decodeErr))
		require.Equal(t, "no decodable track", decodeErr.Reason)
	})
}

// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	pageHeaderTypeContinuedPacket   = 0x01
	pageHeaderTypeBeginningOfStream = 0x02
	pageHeaderSignature             = "OggS"
	idPageSignature                 = "OpusHead"
	commentPageSignature            = "OpusTags"

	pageHeaderLen       = 27
	idPagePayloadLength = 19
	maxLacingValue      = 255
)

var (
	errNilStream                 = errors.New("stream is nil")
	errBadIDPageSignature        = errors.New("bad header signature")
	errBadIDPageType             = errors.New("wrong header, expected beginning of stream")
	errBadIDPageLength           = errors.New("payload for id page must be 19 bytes")
	errBadIDPagePayloadSignature = errors.New("bad payload signature")
	errChecksumMismatch          = errors.New("expected and actual checksum do not match")
	errUnexpectedContinuation    = errors.New("continued packet without a preceding partial packet")
	errTruncatedPacket           = errors.New("stream ended in the middle of a packet")
)

// Header is the Opus identification header.
//
// https://tools.ietf.org/html/rfc7845.html#section-5.1
type Header struct {
	Version    uint8
	Channels   uint8
	PreSkip    uint16
	SampleRate uint32
	OutputGain uint16
	ChannelMap uint8
}

type pageHeader struct {
	sig             [4]byte
	version         uint8
	headerType      uint8
	granulePosition uint64
	serial          uint32
	index           uint32
	segmentsCount   uint8
}

// PacketReader splits the pages of an Ogg/Opus stream into Opus packets.
// Pages may carry several packets, and packets may span pages.
type PacketReader struct {
	stream        io.Reader
	checksumTable *[256]uint32

	// queued holds the complete packets of the current page not yet
	// returned, partial the start of a packet continuing on the next page.
	queued   [][]byte
	partial  []byte
	pending  bool
	tagsSeen bool
}

// NewPacketReader reads the identification header from in and returns a
// reader positioned on the first packet after it.
func NewPacketReader(in io.Reader) (*PacketReader, *Header, error) {
	if in == nil {
		return nil, nil, errNilStream
	}

	r := &PacketReader{
		stream:        in,
		checksumTable: generateChecksumTable(),
	}

	header, err := r.readIDHeader()
	if err != nil {
		return nil, nil, err
	}

	return r, header, nil
}

func (r *PacketReader) readIDHeader() (*Header, error) {
	hdr, lacing, payload, err := r.readPage()
	if err != nil {
		return nil, err
	}

	if string(hdr.sig[:]) != pageHeaderSignature {
		return nil, errBadIDPageSignature
	}

	if hdr.headerType != pageHeaderTypeBeginningOfStream {
		return nil, errBadIDPageType
	}

	if len(lacing) != 1 || len(payload) != idPagePayloadLength {
		return nil, errBadIDPageLength
	}

	if s := string(payload[:8]); s != idPageSignature {
		return nil, errBadIDPagePayloadSignature
	}

	return &Header{
		Version:    payload[8],
		Channels:   payload[9],
		PreSkip:    binary.LittleEndian.Uint16(payload[10:12]),
		SampleRate: binary.LittleEndian.Uint32(payload[12:16]),
		OutputGain: binary.LittleEndian.Uint16(payload[16:18]),
		ChannelMap: payload[18],
	}, nil
}

// NextPacket returns the next audio packet. The comment header is skipped.
// It returns io.EOF once the stream is exhausted.
func (r *PacketReader) NextPacket() ([]byte, error) {
	for {
		for len(r.queued) > 0 {
			pkt := r.queued[0]
			r.queued = r.queued[1:]

			if !r.tagsSeen {
				r.tagsSeen = true
				if bytes.HasPrefix(pkt, []byte(commentPageSignature)) {
					continue
				}
			}

			return pkt, nil
		}

		if err := r.nextPage(); err != nil {
			if errors.Is(err, io.EOF) && r.pending {
				return nil, errTruncatedPacket
			}
			return nil, err
		}
	}
}

// nextPage reads a page and queues the packets it completes.
func (r *PacketReader) nextPage() error {
	hdr, lacing, payload, err := r.readPage()
	if err != nil {
		return err
	}

	if hdr.headerType&pageHeaderTypeContinuedPacket == 0 {
		// A fresh page drops any packet left unfinished by the previous one.
		r.partial = r.partial[:0]
		r.pending = false
	} else if !r.pending {
		return errUnexpectedContinuation
	}

	offset := 0
	for _, size := range lacing {
		r.partial = append(r.partial, payload[offset:offset+int(size)]...)
		r.pending = true
		offset += int(size)

		if size < maxLacingValue {
			pkt := make([]byte, len(r.partial))
			copy(pkt, r.partial)
			r.queued = append(r.queued, pkt)
			r.partial = r.partial[:0]
			r.pending = false
		}
	}

	return nil
}

// readPage reads a page from the stream returning its header, lacing
// values and payload.
func (r *PacketReader) readPage() (*pageHeader, []byte, []byte, error) {
	h := make([]byte, pageHeaderLen)
	if _, err := io.ReadFull(r.stream, h); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil, nil, errTruncatedPacket
		}
		return nil, nil, nil, err
	}

	hdr := &pageHeader{
		sig:             [4]byte{h[0], h[1], h[2], h[3]},
		version:         h[4],
		headerType:      h[5],
		granulePosition: binary.LittleEndian.Uint64(h[6 : 6+8]),
		serial:          binary.LittleEndian.Uint32(h[14 : 14+4]),
		index:           binary.LittleEndian.Uint32(h[18 : 18+4]),
		segmentsCount:   h[26],
	}

	if string(hdr.sig[:]) != pageHeaderSignature {
		return nil, nil, nil, errBadIDPageSignature
	}

	lacing := make([]byte, hdr.segmentsCount)
	if _, err := io.ReadFull(r.stream, lacing); err != nil {
		return nil, nil, nil, errTruncatedPacket
	}

	payloadSize := 0
	for _, s := range lacing {
		payloadSize += int(s)
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(r.stream, payload); err != nil {
		return nil, nil, nil, errTruncatedPacket
	}

	if binary.LittleEndian.Uint32(h[22:22+4]) != r.checksum(h, lacing, payload) {
		return nil, nil, nil, errChecksumMismatch
	}

	return hdr, lacing, payload, nil
}

func (r *PacketReader) checksum(h, lacing, payload []byte) uint32 {
	var checksum uint32
	update := func(v byte) {
		checksum = (checksum << 8) ^ r.checksumTable[byte(checksum>>24)^v]
	}

	for i := range h {
		// The stored checksum is computed with its own field zeroed.
		if i > 21 && i < 26 {
			update(0)
			continue
		}
		update(h[i])
	}
	for _, v := range lacing {
		update(v)
	}
	for _, v := range payload {
		update(v)
	}

	return checksum
}

func generateChecksumTable() *[256]uint32 {
	var table [256]uint32
	const poly = 0x04c11db7

	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if (r & 0x80000000) != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
			table[i] = (r & 0xffffffff)
		}
	}
	return &table
}

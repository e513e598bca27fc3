package transport

import (
	"fmt"
	"io"

	"github.com/ssungk/rtmpc/pkg/bin"
)

// Chunk stream id ranges per basic header size
const (
	minChunkStreamID  = 2
	maxOneByteCSID    = 63
	maxTwoByteCSID    = 319
	maxChunkStreamID  = 65599
	chunkStreamIDBias = 64
)

// basicHeader represents the basic header of a chunk
type basicHeader struct {
	fmt           uint8
	chunkStreamID uint32
}

// newBasicHeader creates a new basic header
func newBasicHeader(fmt uint8, chunkStreamID uint32) basicHeader {
	return basicHeader{
		fmt:           fmt,
		chunkStreamID: chunkStreamID,
	}
}

// writeTo appends the 1, 2 or 3 byte encoding of the header
func (h basicHeader) writeTo(w *bin.Writer) error {
	switch csid := h.chunkStreamID; {
	case csid < minChunkStreamID || csid > maxChunkStreamID:
		return fmt.Errorf("chunk stream id %d: %w", csid, ErrMalformedProtocolData)

	case csid <= maxOneByteCSID:
		// fmt(2bit) + csid(6bit)
		w.WriteByte(h.fmt<<6 | byte(csid))

	case csid <= maxTwoByteCSID:
		// fmt(2bit) + 0(6bit) + csid-64(8bit)
		w.WriteByte(h.fmt << 6)
		w.WriteByte(byte(csid - chunkStreamIDBias))

	default:
		// fmt(2bit) + 1(6bit) + csid-64(16bit little-endian)
		v := csid - chunkStreamIDBias
		w.WriteByte(h.fmt<<6 | 1)
		w.WriteByte(byte(v))
		w.WriteByte(byte(v >> 8))
	}
	return nil
}

// readBasicHeader reads a basic header from r
func readBasicHeader(r io.ByteReader) (bh basicHeader, err error) {
	b, err := r.ReadByte()
	if err != nil {
		return bh, err
	}

	bh.fmt = b >> 6
	switch csid := b & 0x3F; csid {
	case 0: // 2-byte form (csid 64-319)
		b, err = r.ReadByte()
		if err != nil {
			return bh, noEOF(err)
		}
		bh.chunkStreamID = uint32(b) + chunkStreamIDBias
	case 1: // 3-byte form (csid 64-65599)
		var lo, hi byte
		if lo, err = r.ReadByte(); err != nil {
			return bh, noEOF(err)
		}
		if hi, err = r.ReadByte(); err != nil {
			return bh, noEOF(err)
		}
		bh.chunkStreamID = (uint32(lo) | uint32(hi)<<8) + chunkStreamIDBias
	default:
		bh.chunkStreamID = uint32(csid)
	}
	return bh, nil
}

// noEOF turns EOF in the middle of a header into ErrUnexpectedEOF
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

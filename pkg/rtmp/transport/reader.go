package transport

import (
	"bufio"
	"fmt"
	"io"
)

// byteReader is what the chunk parser reads from
type byteReader interface {
	io.Reader
	io.ByteReader
}

// Reader reassembles RTMP messages from a chunk stream
type Reader struct {
	conn      byteReader
	snapshots map[uint32]*MessageHeader
	builders  map[builderKey]*messageBuilder
	chunkSize uint32
	maxAlloc  uint32
}

// NewReader creates a reader. Readers without ReadByte are buffered.
func NewReader(r io.Reader) *Reader {
	br, ok := r.(byteReader)
	if !ok {
		br = bufio.NewReaderSize(r, IOBufferSize)
	}
	return &Reader{
		conn:      br,
		snapshots: make(map[uint32]*MessageHeader),
		builders:  make(map[builderKey]*messageBuilder),
		chunkSize: DefaultChunkSize,
		maxAlloc:  DefaultMaxReadAllocation,
	}
}

// ReadMessage reads chunks until one message is complete
func (r *Reader) ReadMessage() (*Message, error) {
	for {
		msg, err := r.readChunk()
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
}

// readChunk reads a single chunk and returns the message it completes, if any
func (r *Reader) readChunk() (*Message, error) {
	bh, err := readBasicHeader(r.conn)
	if err != nil {
		return nil, fmt.Errorf("chunk basic header: %w: %w", ErrRtmpRead, err)
	}

	csid := bh.chunkStreamID
	prev := r.snapshots[csid]
	header, err := readMessageHeader(r.conn, bh.fmt, prev)
	if err != nil {
		return nil, fmt.Errorf("chunk message header csid=%d: %w: %w", csid, ErrRtmpRead, err)
	}

	key := builderKey{csid, header.MessageStreamID}
	b := r.builders[key]
	if b == nil {
		// 새 메시지: Type 3이면 이전 delta 적용
		if bh.fmt == FmtType3 {
			header.Timestamp = prev.Timestamp + prev.TimestampDelta
		}
		if header.MessageLength > r.maxAlloc {
			return nil, fmt.Errorf("csid=%d length %d limit %d: %w",
				csid, header.MessageLength, r.maxAlloc, ErrAllocationLimitExceeded)
		}
		r.snapshots[csid] = &header
		if header.MessageLength == 0 {
			return NewMessage(header, nil), nil
		}
		b = newMessageBuilder(header)
		r.builders[key] = b
	} else if bh.fmt != FmtType3 {
		r.snapshots[csid] = &header
	}

	n := min(r.chunkSize, b.remaining())
	if _, err := io.ReadFull(r.conn, b.next(n)); err != nil {
		return nil, fmt.Errorf("chunk data csid=%d: %w: %w", csid, ErrRtmpRead, noEOF(err))
	}
	if !b.isComplete() {
		return nil, nil
	}

	delete(r.builders, key)
	return b.message(), nil
}

// SetChunkSize sets the chunk size for reading
func (r *Reader) SetChunkSize(size uint32) error {
	if err := validateChunkSize(size); err != nil {
		return err
	}
	r.chunkSize = size
	return nil
}

// ChunkSize returns the chunk size used for reading
func (r *Reader) ChunkSize() uint32 {
	return r.chunkSize
}

// SetMaxReadAllocation bounds the declared length of any incoming message
func (r *Reader) SetMaxReadAllocation(n uint32) {
	r.maxAlloc = n
}

// Abort drops every partially received message on csid
func (r *Reader) Abort(csid uint32) {
	for key, b := range r.builders {
		if key.chunkStreamID == csid {
			b.discard()
			delete(r.builders, key)
		}
	}
}

func validateChunkSize(size uint32) error {
	if size < 1 || size > MaxChunkSize {
		return fmt.Errorf("chunk size %d: %w", size, ErrInvalidChunkSize)
	}
	return nil
}

package transport

import (
	"fmt"
	"io"

	"github.com/Monibuca/engine/v2/util/bits/pio"
	"github.com/ssungk/rtmpc/pkg/bin"
)

// Writer splits RTMP messages into chunks
type Writer struct {
	conn        io.Writer
	prevHeaders map[uint32]*MessageHeader
	chunkSize   uint32
	scratch     *bin.Writer
}

// NewWriter creates a new RTMP writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		conn:        w,
		prevHeaders: make(map[uint32]*MessageHeader),
		chunkSize:   DefaultChunkSize,
		scratch:     bin.NewWriter(3 + 11 + 4),
	}
}

// SetChunkSize sets the chunk size for writing
func (w *Writer) SetChunkSize(size uint32) error {
	if err := validateChunkSize(size); err != nil {
		return err
	}
	w.chunkSize = size
	return nil
}

// ChunkSize returns the chunk size used for writing
func (w *Writer) ChunkSize() uint32 {
	return w.chunkSize
}

// WriteMessage writes msg on the chunk stream chosen for its type
func (w *Writer) WriteMessage(msg *Message) error {
	return w.WriteMessageOn(ChunkStreamFor(msg.Type()), msg)
}

// WriteMessageOn writes msg on csid. A SetChunkSize message changes the
// outgoing chunk size once it has been written.
func (w *Writer) WriteMessageOn(csid uint32, msg *Message) error {
	data := msg.Data()
	if len(data) == 0 {
		return fmt.Errorf("type %d: %w", msg.Type(), ErrEmptyMessage)
	}
	if len(data) > MaxMessageLength {
		return fmt.Errorf("type %d length %d: %w", msg.Type(), len(data), ErrMessageTooLarge)
	}

	cur := msg.Header
	cur.MessageLength = uint32(len(data))
	fmtType, header := selectFormat(w.prevHeaders[csid], cur)

	for off := uint32(0); off < header.MessageLength; {
		w.scratch.Reset()
		if off == 0 {
			if err := newBasicHeader(fmtType, csid).writeTo(w.scratch); err != nil {
				return err
			}
			header.writeTo(w.scratch, fmtType)
		} else {
			// 연속 청크는 basic header만
			if err := newBasicHeader(FmtType3, csid).writeTo(w.scratch); err != nil {
				return err
			}
		}
		if _, err := w.conn.Write(w.scratch.Bytes()); err != nil {
			return fmt.Errorf("chunk header csid=%d: %w: %w", csid, ErrRtmpWrite, err)
		}

		n := min(w.chunkSize, header.MessageLength-off)
		if _, err := w.conn.Write(data[off : off+n]); err != nil {
			return fmt.Errorf("chunk data csid=%d: %w: %w", csid, ErrRtmpWrite, err)
		}
		off += n
	}
	w.prevHeaders[csid] = &header

	if msg.Type() == MsgTypeSetChunkSize {
		if len(data) != 4 {
			return fmt.Errorf("SetChunkSize length %d: %w", len(data), ErrMalformedProtocolData)
		}
		return w.SetChunkSize(pio.U32BE(data) & ChunkSizeMsgMask)
	}
	return nil
}

// Flush flushes buffered chunks to the connection
func (w *Writer) Flush() error {
	if err := flush(w.conn); err != nil {
		return fmt.Errorf("flush: %w: %w", ErrRtmpWrite, err)
	}
	return nil
}

// ChunkStreamFor returns the chunk stream id used for a message type
func ChunkStreamFor(msgType uint8) uint32 {
	switch msgType {
	case MsgTypeSetChunkSize, MsgTypeAbort, MsgTypeAcknowledgement,
		MsgTypeWindowAckSize, MsgTypeSetPeerBW, MsgTypeUserControl:
		return ChunkStreamProtocol
	case MsgTypeAMF0Command, MsgTypeAMF3Command:
		return ChunkStreamCommand
	case MsgTypeAudio:
		return ChunkStreamAudio
	case MsgTypeVideo:
		return ChunkStreamVideo
	case MsgTypeAMF0Data, MsgTypeAMF3Data:
		return ChunkStreamData
	default:
		return ChunkStreamCommand
	}
}

package transport

import (
	"fmt"
	"io"

	"github.com/Monibuca/engine/v2/util/bits/pio"
	"github.com/ssungk/rtmpc/pkg/bin"
)

// fixed message header size per format type
var messageHeaderSize = [4]int{11, 7, 3, 0}

// MessageHeader represents the message header
type MessageHeader struct {
	Timestamp       uint32
	TimestampDelta  uint32
	MessageLength   uint32
	MessageTypeID   uint8
	MessageStreamID uint32
}

// NewMessageHeader creates a new message header
func NewMessageHeader(streamID, timestamp uint32, typeID uint8) MessageHeader {
	return MessageHeader{
		MessageStreamID: streamID,
		Timestamp:       timestamp,
		MessageTypeID:   typeID,
	}
}

// selectFormat picks the smallest header that lets the peer rebuild cur from
// the previous header written on the same chunk stream, and returns the
// header as it must be recorded for the next selection.
func selectFormat(prev *MessageHeader, cur MessageHeader) (uint8, MessageHeader) {
	if prev == nil || prev.MessageStreamID != cur.MessageStreamID || cur.Timestamp < prev.Timestamp {
		cur.TimestampDelta = cur.Timestamp
		return FmtType0, cur
	}

	cur.TimestampDelta = cur.Timestamp - prev.Timestamp
	switch {
	case prev.MessageLength != cur.MessageLength || prev.MessageTypeID != cur.MessageTypeID:
		return FmtType1, cur
	case prev.TimestampDelta != cur.TimestampDelta:
		return FmtType2, cur
	default:
		return FmtType3, cur
	}
}

// writeTo appends the message header for fmtType. Type 0 carries the
// absolute timestamp, Types 1 and 2 the delta, Type 3 nothing.
func (h MessageHeader) writeTo(w *bin.Writer, fmtType uint8) {
	ts := h.TimestampDelta
	if fmtType == FmtType0 {
		ts = h.Timestamp
	}

	switch fmtType {
	case FmtType0, FmtType1, FmtType2:
		w.WriteUint24(min(ts, ExtendedTimestampThreshold))
	default:
		return
	}
	if fmtType != FmtType2 {
		w.WriteUint24(h.MessageLength)
		w.WriteByte(h.MessageTypeID)
	}
	if fmtType == FmtType0 {
		w.WriteUint32LE(h.MessageStreamID)
	}
	if ts >= ExtendedTimestampThreshold {
		w.WriteUint32(ts)
	}
}

// readMessageHeader reads the message header for fmtType. Fields the format
// does not carry are inherited from prev. For Type 3 the result is prev
// unchanged; the reader decides whether the delta applies.
func readMessageHeader(r io.Reader, fmtType uint8, prev *MessageHeader) (MessageHeader, error) {
	if fmtType != FmtType0 && prev == nil {
		return MessageHeader{}, fmt.Errorf("fmt %d: %w", fmtType, ErrNoPreviousHeader)
	}
	if fmtType == FmtType3 {
		return *prev, nil
	}

	var raw [11]byte
	b := raw[:messageHeaderSize[fmtType]]
	if _, err := io.ReadFull(r, b); err != nil {
		return MessageHeader{}, noEOF(err)
	}

	ts := pio.U24BE(b[0:3])
	if ts == ExtendedTimestampThreshold {
		var ext [4]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return MessageHeader{}, noEOF(err)
		}
		ts = pio.U32BE(ext[:])
	}

	var h MessageHeader
	switch fmtType {
	case FmtType0:
		h.Timestamp = ts
		h.TimestampDelta = ts
		h.MessageLength = pio.U24BE(b[3:6])
		h.MessageTypeID = b[6]
		h.MessageStreamID = pio.U32LE(b[7:11])
	case FmtType1:
		h = *prev
		h.TimestampDelta = ts
		h.Timestamp = prev.Timestamp + ts
		h.MessageLength = pio.U24BE(b[3:6])
		h.MessageTypeID = b[6]
	case FmtType2:
		h = *prev
		h.TimestampDelta = ts
		h.Timestamp = prev.Timestamp + ts
	}
	return h, nil
}

package transport

import (
	"fmt"

	"github.com/Monibuca/engine/v2/util/bits/pio"
)

// newControlMessage builds a protocol control message on stream 0
func newControlMessage(typeID uint8, payload []byte) *Message {
	return NewMessage(NewMessageHeader(0, 0, typeID), payload)
}

func u32Payload(v uint32) []byte {
	b := make([]byte, 4)
	pio.PutU32BE(b, v)
	return b
}

// NewSetChunkSizeMessage creates a SetChunkSize message
func NewSetChunkSizeMessage(size uint32) *Message {
	return newControlMessage(MsgTypeSetChunkSize, u32Payload(size&ChunkSizeMsgMask))
}

// NewAbortMessage creates an Abort message for csid
func NewAbortMessage(csid uint32) *Message {
	return newControlMessage(MsgTypeAbort, u32Payload(csid))
}

// NewAckMessage creates an Acknowledgement carrying the bytes received so far
func NewAckMessage(sequence uint32) *Message {
	return newControlMessage(MsgTypeAcknowledgement, u32Payload(sequence))
}

// NewWindowAckSizeMessage creates a Window Acknowledgement Size message
func NewWindowAckSizeMessage(size uint32) *Message {
	return newControlMessage(MsgTypeWindowAckSize, u32Payload(size))
}

// NewSetPeerBandwidthMessage creates a Set Peer Bandwidth message
func NewSetPeerBandwidthMessage(size uint32, limitType uint8) *Message {
	b := make([]byte, 5)
	pio.PutU32BE(b, size)
	b[4] = limitType
	return newControlMessage(MsgTypeSetPeerBW, b)
}

// NewUserControlMessage creates a user control event with 4-byte arguments
func NewUserControlMessage(event uint16, args ...uint32) *Message {
	b := make([]byte, 2+4*len(args))
	pio.PutU16BE(b, event)
	for i, a := range args {
		pio.PutU32BE(b[2+4*i:], a)
	}
	return newControlMessage(MsgTypeUserControl, b)
}

// NewSetBufferLengthMessage tells the server how many milliseconds to buffer for streamID
func NewSetBufferLengthMessage(streamID, millis uint32) *Message {
	return NewUserControlMessage(UserControlSetBufferLen, streamID, millis)
}

// UserControlEvent is a decoded user control message
type UserControlEvent struct {
	Type uint16
	Data []byte
}

// ParseUserControl decodes a user control payload
func ParseUserControl(data []byte) (UserControlEvent, error) {
	if len(data) < 2 {
		return UserControlEvent{}, fmt.Errorf("user control length %d: %w", len(data), ErrMalformedProtocolData)
	}
	return UserControlEvent{Type: pio.U16BE(data), Data: data[2:]}, nil
}

// Uint32 returns the first 4-byte argument, the stream id or ping timestamp
func (e UserControlEvent) Uint32() (uint32, error) {
	if len(e.Data) < 4 {
		return 0, fmt.Errorf("user control %d argument: %w", e.Type, ErrMalformedProtocolData)
	}
	return pio.U32BE(e.Data), nil
}

func parseU32(name string, data []byte, want int) (uint32, error) {
	if len(data) != want {
		return 0, fmt.Errorf("%s length %d: %w", name, len(data), ErrMalformedProtocolData)
	}
	return pio.U32BE(data), nil
}

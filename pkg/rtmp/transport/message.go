package transport

import "github.com/ssungk/rtmpc/pkg/rtmp/buf"

// Message is a complete RTMP message. Payloads read from the wire live in
// pooled buffers; call Release once the payload is no longer needed.
type Message struct {
	Header MessageHeader
	buffer *buf.Buffer
}

// NewMessage creates a message over data without copying it
func NewMessage(header MessageHeader, data []byte) *Message {
	return NewMessageFromBuffer(header, buf.New(data))
}

// NewMessageFromBuffer creates a message that takes ownership of b
func NewMessageFromBuffer(header MessageHeader, b *buf.Buffer) *Message {
	header.MessageLength = uint32(b.Len())
	return &Message{Header: header, buffer: b}
}

// Data returns the payload bytes
func (m *Message) Data() []byte {
	if m.buffer == nil {
		return nil
	}
	return m.buffer.Data()
}

// Type returns the message type ID
func (m *Message) Type() uint8 {
	return m.Header.MessageTypeID
}

// StreamID returns the message stream ID
func (m *Message) StreamID() uint32 {
	return m.Header.MessageStreamID
}

// Timestamp returns the message timestamp
func (m *Message) Timestamp() uint32 {
	return m.Header.Timestamp
}

// Retain adds a reference to the payload
func (m *Message) Retain() {
	if m.buffer != nil {
		m.buffer.Retain()
	}
}

// Release drops a reference to the payload
func (m *Message) Release() {
	if m.buffer != nil {
		m.buffer.Release()
	}
}

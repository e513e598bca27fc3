package transport

import "github.com/ssungk/rtmpc/pkg/rtmp/buf"

// builderKey identifies an in-flight message
type builderKey struct {
	chunkStreamID   uint32
	messageStreamID uint32
}

// messageBuilder accumulates the chunks of one message until its declared
// length has been read
type messageBuilder struct {
	header MessageHeader
	buffer *buf.Buffer
	filled uint32
}

func newMessageBuilder(header MessageHeader) *messageBuilder {
	return &messageBuilder{
		header: header,
		buffer: buf.NewPooled(int(header.MessageLength)),
	}
}

// remaining returns the number of payload bytes still expected
func (b *messageBuilder) remaining() uint32 {
	return b.header.MessageLength - b.filled
}

// next returns the span the next n chunk bytes are read into
func (b *messageBuilder) next(n uint32) []byte {
	span := b.buffer.Data()[b.filled : b.filled+n]
	b.filled += n
	return span
}

func (b *messageBuilder) isComplete() bool {
	return b.filled == b.header.MessageLength
}

// message hands the buffer over to a new message
func (b *messageBuilder) message() *Message {
	m := NewMessageFromBuffer(b.header, b.buffer)
	b.buffer = nil
	return m
}

// discard releases a partially filled buffer
func (b *messageBuilder) discard() {
	if b.buffer != nil {
		b.buffer.Release()
		b.buffer = nil
	}
}

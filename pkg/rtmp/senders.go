package rtmp

import (
	"context"

	"github.com/ssungk/rtmpc/pkg/rtmp/transport"
)

// sendMedia queues an opaque audio or video payload. data is not copied and
// must not be modified until sendMedia returns.
func (c *Conn) sendMedia(ctx context.Context, streamID uint32, typeID uint8, timestamp uint32, data []byte) error {
	// 쓰기 루프의 에러는 연결을 끊으므로 미리 거름
	if len(data) == 0 {
		return transport.ErrEmptyMessage
	}
	if len(data) > transport.MaxMessageLength {
		return transport.ErrMessageTooLarge
	}
	header := transport.NewMessageHeader(streamID, timestamp, typeID)
	return c.enqueueWait(ctx, transport.NewMessage(header, data))
}

// SetChunkSize announces a new outgoing chunk size. The writer loop applies
// it after the announcement is written.
func (c *Conn) SetChunkSize(size uint32) error {
	if size < 1 || size > transport.MaxChunkSize {
		return transport.ErrInvalidChunkSize
	}
	return c.enqueue(transport.NewSetChunkSizeMessage(size))
}

// SetWindowAckSize sets the window after which the server acknowledges
func (c *Conn) SetWindowAckSize(size uint32) error {
	return c.enqueue(transport.NewWindowAckSizeMessage(size))
}

// PingServer sends a user control ping request carrying timestamp
func (c *Conn) PingServer(timestamp uint32) error {
	return c.enqueue(transport.NewUserControlMessage(transport.UserControlPingRequest, timestamp))
}

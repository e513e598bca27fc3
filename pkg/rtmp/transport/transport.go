package transport

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/Monibuca/engine/v2/util/bits/pio"
)

// Transport reads and writes RTMP messages over one connection and consumes
// protocol control messages on the read side. ReadMessage must be called
// from a single goroutine, and WriteMessage from a single goroutine.
type Transport struct {
	closer io.Closer
	in     *meteredReader
	out    *meteredWriter
	reader *Reader
	writer *Writer

	// 프로토콜 제어 (읽기 측)
	windowAckSize atomic.Uint32
	peerBandwidth atomic.Uint32
	peerLimitType atomic.Uint32
	lastAckSent   uint64

	send        func(*Message) error
	userControl func(UserControlEvent)
}

// NewTransport creates a new Transport
func NewTransport(conn io.ReadWriteCloser) *Transport {
	in := newMeteredReader(conn)
	out := newMeteredWriter(conn)
	t := &Transport{
		closer: conn,
		in:     in,
		out:    out,
		reader: NewReader(in),
		writer: NewWriter(out),
	}
	t.send = t.WriteMessage
	return t
}

// SetSender replaces the function used to send acknowledgements and ping
// responses. Callers that write from another goroutine route them through
// their own queue.
func (t *Transport) SetSender(send func(*Message) error) {
	t.send = send
}

// SetUserControlHandler registers a callback for user control events other
// than ping requests
func (t *Transport) SetUserControlHandler(fn func(UserControlEvent)) {
	t.userControl = fn
}

// SetMaxReadAllocation bounds the declared length of incoming messages
func (t *Transport) SetMaxReadAllocation(n uint32) {
	t.reader.SetMaxReadAllocation(n)
}

// handshakeConn pairs the buffered halves so handshake writes can be flushed
func (t *Transport) handshakeConn() io.ReadWriter {
	return struct {
		*meteredReader
		*meteredWriter
	}{t.in, t.out}
}

// ClientHandshake performs the client handshake over the buffered connection
func (t *Transport) ClientHandshake() error {
	return ClientHandshake(t.handshakeConn())
}

// ServerHandshake performs the server handshake over the buffered connection
func (t *Transport) ServerHandshake() error {
	return ServerHandshake(t.handshakeConn())
}

// ReadMessage returns the next message that is not a protocol control message
func (t *Transport) ReadMessage() (*Message, error) {
	for {
		msg, err := t.reader.ReadMessage()
		if err != nil {
			return nil, err
		}

		handled, err := t.handleProtocolControl(msg)
		if err != nil {
			msg.Release()
			return nil, err
		}
		if err := t.handleAckWindow(); err != nil {
			msg.Release()
			return nil, err
		}
		if !handled {
			return msg, nil
		}
		msg.Release()
	}
}

// WriteMessage writes a message and flushes it
func (t *Transport) WriteMessage(msg *Message) error {
	if err := t.writer.WriteMessage(msg); err != nil {
		return err
	}
	return t.writer.Flush()
}

// handleProtocolControl consumes message types 1-6
func (t *Transport) handleProtocolControl(msg *Message) (bool, error) {
	data := msg.Data()
	switch msg.Type() {
	case MsgTypeSetChunkSize:
		size, err := parseU32("SetChunkSize", data, 4)
		if err != nil {
			return true, err
		}
		if err := t.reader.SetChunkSize(size & ChunkSizeMsgMask); err != nil {
			return true, fmt.Errorf("%w: %w", ErrMalformedProtocolData, err)
		}

	case MsgTypeAbort:
		csid, err := parseU32("Abort", data, 4)
		if err != nil {
			return true, err
		}
		t.reader.Abort(csid)

	case MsgTypeAcknowledgement:
		if _, err := parseU32("Acknowledgement", data, 4); err != nil {
			return true, err
		}

	case MsgTypeWindowAckSize:
		size, err := parseU32("WindowAckSize", data, 4)
		if err != nil {
			return true, err
		}
		t.windowAckSize.Store(size)

	case MsgTypeSetPeerBW:
		if len(data) != 5 {
			return true, fmt.Errorf("SetPeerBandwidth length %d: %w", len(data), ErrMalformedProtocolData)
		}
		t.peerBandwidth.Store(pio.U32BE(data))
		t.peerLimitType.Store(uint32(data[4]))

	case MsgTypeUserControl:
		ev, err := ParseUserControl(data)
		if err != nil {
			return true, err
		}
		if ev.Type == UserControlPingRequest {
			ts, err := ev.Uint32()
			if err != nil {
				return true, err
			}
			if err := t.send(NewUserControlMessage(UserControlPingResponse, ts)); err != nil {
				return true, fmt.Errorf("send ping response: %w", err)
			}
		} else if t.userControl != nil {
			t.userControl(ev)
		}

	default:
		return false, nil
	}
	return true, nil
}

// handleAckWindow sends an acknowledgement once a window's worth of bytes
// has been read since the last one
func (t *Transport) handleAckWindow() error {
	window := t.windowAckSize.Load()
	if window == 0 {
		return nil
	}

	bytesRead := t.in.BytesRead()
	if bytesRead-t.lastAckSent < uint64(window) {
		return nil
	}
	t.lastAckSent = bytesRead

	// uint32 시퀀스 번호는 wrap-around 허용
	if err := t.send(NewAckMessage(uint32(bytesRead))); err != nil {
		return fmt.Errorf("send acknowledgement: %w", err)
	}
	return nil
}

// SetOutChunkSize announces size to the peer and applies it to subsequent writes
func (t *Transport) SetOutChunkSize(size uint32) error {
	if err := validateChunkSize(size); err != nil {
		return err
	}
	return t.WriteMessage(NewSetChunkSizeMessage(size))
}

// InChunkSize returns the chunk size the peer writes with
func (t *Transport) InChunkSize() uint32 {
	return t.reader.ChunkSize()
}

// OutChunkSize returns the chunk size used for writing
func (t *Transport) OutChunkSize() uint32 {
	return t.writer.ChunkSize()
}

// WindowAckSize returns the acknowledgement window announced by the peer
func (t *Transport) WindowAckSize() uint32 {
	return t.windowAckSize.Load()
}

// PeerBandwidth returns the bandwidth limit announced by the peer
func (t *Transport) PeerBandwidth() (uint32, uint8) {
	return t.peerBandwidth.Load(), uint8(t.peerLimitType.Load())
}

// BytesRead returns the total number of bytes read from the connection
func (t *Transport) BytesRead() uint64 {
	return t.in.BytesRead()
}

// BytesWritten returns the total number of bytes written to the connection
func (t *Transport) BytesWritten() uint64 {
	return t.out.BytesWritten()
}

// Close closes the transport
func (t *Transport) Close() error {
	return t.closer.Close()
}

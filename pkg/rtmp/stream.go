package rtmp

import (
	"context"
	"fmt"
	"sync"

	"github.com/ssungk/rtmpc/pkg/rtmp/transport"
)

// StreamMode represents the stream mode
type StreamMode int

const (
	StreamModeNone StreamMode = iota
	StreamModePublish
	StreamModePlay
)

// Publish types
const (
	PublishLive   = "live"
	PublishRecord = "record"
	PublishAppend = "append"
)

// Stream is a message stream created with CreateStream
type Stream struct {
	conn *Conn
	id   uint32

	mu   sync.Mutex
	name string
	mode StreamMode
}

// CreateStream asks the server for a new message stream
func (c *Conn) CreateStream(ctx context.Context) (*Stream, error) {
	result, err := c.Invoke(ctx, CommandCreateStream)
	if err != nil {
		return nil, err
	}
	id, ok := result.(float64)
	if !ok {
		return nil, fmt.Errorf("createStream returned %T: %w", result, transport.ErrMalformedProtocolData)
	}

	s := &Stream{conn: c, id: uint32(id)}
	c.mu.Lock()
	c.streams[s.id] = s
	c.mu.Unlock()
	return s, nil
}

// Stream returns a stream by ID
func (c *Conn) Stream(streamID uint32) *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[streamID]
}

// DeleteStream releases a stream on the server
func (c *Conn) DeleteStream(streamID uint32) error {
	c.mu.Lock()
	delete(c.streams, streamID)
	c.mu.Unlock()
	return c.notify(NewCommand(CommandDeleteStream, 0, float64(streamID)), 0)
}

// ID returns the stream ID
func (s *Stream) ID() uint32 {
	return s.id
}

// Name returns the stream name passed to Play or Publish
func (s *Stream) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Mode returns the stream mode
func (s *Stream) Mode() StreamMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Stream) setMode(name string, mode StreamMode) {
	s.mu.Lock()
	s.name = name
	s.mode = mode
	s.mu.Unlock()
}

// Play starts playback of name. Media arrives through OnMedia and the
// server's replies through OnStatus.
func (s *Stream) Play(name string) error {
	// start -2: 라이브 우선, 없으면 녹화본
	cmd := NewCommand(CommandPlay, 0, name, -2.0, -1.0, true)
	if err := s.conn.notify(cmd, s.id); err != nil {
		return err
	}
	s.setMode(name, StreamModePlay)
	return nil
}

// Publish starts publishing name with a publish type such as PublishLive
func (s *Stream) Publish(name, publishType string) error {
	if publishType == "" {
		publishType = PublishLive
	}
	cmd := NewCommand(CommandPublish, 0, name, publishType)
	if err := s.conn.notify(cmd, s.id); err != nil {
		return err
	}
	s.setMode(name, StreamModePublish)
	return nil
}

// SetBufferLength tells the server how much media the client buffers
func (s *Stream) SetBufferLength(millis uint32) error {
	return s.conn.enqueue(transport.NewSetBufferLengthMessage(s.id, millis))
}

// SendAudio sends an opaque audio payload and waits until it is written
func (s *Stream) SendAudio(ctx context.Context, timestamp uint32, data []byte) error {
	return s.conn.sendMedia(ctx, s.id, transport.MsgTypeAudio, timestamp, data)
}

// SendVideo sends an opaque video payload and waits until it is written
func (s *Stream) SendVideo(ctx context.Context, timestamp uint32, data []byte) error {
	return s.conn.sendMedia(ctx, s.id, transport.MsgTypeVideo, timestamp, data)
}

// Close stops the stream and deletes it on the server
func (s *Stream) Close() error {
	if err := s.conn.notify(NewCommand(CommandCloseStream, 0), s.id); err != nil {
		return err
	}
	s.setMode("", StreamModeNone)
	return s.conn.DeleteStream(s.id)
}

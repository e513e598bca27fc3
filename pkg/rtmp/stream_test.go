package rtmp

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ssungk/rtmpc/pkg/amf"
	"github.com/ssungk/rtmpc/pkg/rtmp/transport"
)

// createStream runs createStream against the fake server and returns stream 1
func createStream(t *testing.T, c *Conn, sc *serverConn) *Stream {
	t.Helper()
	type result struct {
		s   *Stream
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := c.CreateStream(context.Background())
		done <- result{s, err}
	}()

	_, cmd := sc.readCommand(t)
	if cmd.Name != CommandCreateStream {
		t.Fatalf("expected createStream, got %q", cmd.Name)
	}
	sc.writeCommand(t, 0, false, &Command{Name: CommandResult, TransactionID: cmd.TransactionID, Arguments: []any{1.0}})

	r := receive(t, done)
	if r.err != nil {
		t.Fatal(r.err)
	}
	return r.s
}

func TestStreamPlay(t *testing.T) {
	srv := newFakeServer(t)
	statuses := make(chan StatusEvent, 4)
	media := make(chan MediaEvent, 4)
	opts := Options{
		OnStatus: func(ev StatusEvent) { statuses <- ev },
		OnMedia: func(ev MediaEvent) {
			// 콜백 이후에는 버퍼가 재사용됨
			ev.Data = append([]byte(nil), ev.Data...)
			media <- ev
		},
	}
	c, sc, _ := dialFake(t, srv, opts, 0)

	s := createStream(t, c, sc)
	if s.ID() != 1 || c.Stream(1) != s {
		t.Fatalf("unexpected stream %d", s.ID())
	}
	if err := s.SetBufferLength(3000); err != nil {
		t.Fatal(err)
	}
	if err := s.Play("cam"); err != nil {
		t.Fatal(err)
	}

	streamID, cmd := sc.readCommand(t)
	if streamID != 1 || cmd.Name != CommandPlay {
		t.Fatalf("unexpected command %q on stream %d", cmd.Name, streamID)
	}
	if cmd.Object != nil {
		t.Errorf("expected null command object, got %v", cmd.Object)
	}
	if len(cmd.Arguments) != 4 || cmd.Arguments[0] != "cam" || cmd.Arguments[1] != -2.0 {
		t.Errorf("unexpected play arguments %v", cmd.Arguments)
	}
	if s.Mode() != StreamModePlay || s.Name() != "cam" {
		t.Errorf("unexpected mode %v name %q", s.Mode(), s.Name())
	}

	info := amf.NewObject().
		Set("level", "status").
		Set("code", "NetStream.Play.Start").
		Set("description", "Started playing cam.")
	sc.writeCommand(t, 1, false, NewCommand(CommandOnStatus, 0, info))
	frame := []byte{0x17, 0x01, 0, 0, 0, 0xAA, 0xBB}
	sc.write(t, transport.NewMessage(transport.NewMessageHeader(1, 40, transport.MsgTypeVideo), frame))

	status := receive(t, statuses)
	if status.StreamID != 1 || status.Info.Code != "NetStream.Play.Start" || status.Info.Level != "status" {
		t.Errorf("unexpected status %+v", status)
	}
	ev := receive(t, media)
	if ev.StreamID != 1 || ev.Type != transport.MsgTypeVideo || ev.Timestamp != 40 {
		t.Errorf("unexpected media event %+v", ev)
	}
	if !bytes.Equal(ev.Data, frame) {
		t.Errorf("expected % x, got % x", frame, ev.Data)
	}
}

func TestStreamPublish(t *testing.T) {
	srv := newFakeServer(t)
	c, sc, _ := dialFake(t, srv, Options{}, 0)
	s := createStream(t, c, sc)

	if err := s.Publish("out", ""); err != nil {
		t.Fatal(err)
	}
	streamID, cmd := sc.readCommand(t)
	if streamID != 1 || cmd.Name != CommandPublish {
		t.Fatalf("unexpected command %q on stream %d", cmd.Name, streamID)
	}
	if len(cmd.Arguments) != 2 || cmd.Arguments[0] != "out" || cmd.Arguments[1] != PublishLive {
		t.Errorf("unexpected publish arguments %v", cmd.Arguments)
	}

	audio := []byte{0xAF, 0x01, 0x21}
	if err := s.SendAudio(context.Background(), 20, audio); err != nil {
		t.Fatal(err)
	}
	video := bytes.Repeat([]byte{0x27}, 5000)
	if err := s.SendVideo(context.Background(), 33, video); err != nil {
		t.Fatal(err)
	}

	for _, want := range []struct {
		typeID    uint8
		timestamp uint32
		data      []byte
	}{
		{transport.MsgTypeAudio, 20, audio},
		{transport.MsgTypeVideo, 33, video},
	} {
		msg := sc.readMessage(t)
		if msg.Type() != want.typeID || msg.StreamID() != 1 || msg.Timestamp() != want.timestamp {
			t.Errorf("unexpected message type %d stream %d ts %d", msg.Type(), msg.StreamID(), msg.Timestamp())
		}
		if !bytes.Equal(msg.Data(), want.data) {
			t.Errorf("payload mismatch for type %d", want.typeID)
		}
		msg.Release()
	}

	if err := s.SendVideo(context.Background(), 0, nil); !errors.Is(err, transport.ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	streamID, cmd = sc.readCommand(t)
	if streamID != 1 || cmd.Name != CommandCloseStream {
		t.Errorf("expected closeStream on stream 1, got %q on %d", cmd.Name, streamID)
	}
	streamID, cmd = sc.readCommand(t)
	if streamID != 0 || cmd.Name != CommandDeleteStream || len(cmd.Arguments) != 1 || cmd.Arguments[0] != 1.0 {
		t.Errorf("unexpected deleteStream %q on %d args %v", cmd.Name, streamID, cmd.Arguments)
	}
	if c.Stream(1) != nil {
		t.Error("stream should be forgotten after close")
	}
}

func TestSetChunkSize(t *testing.T) {
	srv := newFakeServer(t)
	c, sc, _ := dialFake(t, srv, Options{}, 0)

	if err := c.SetChunkSize(0); !errors.Is(err, transport.ErrInvalidChunkSize) {
		t.Errorf("expected ErrInvalidChunkSize, got %v", err)
	}
	if err := c.SetChunkSize(64); err != nil {
		t.Fatal(err)
	}

	// 새 청크 크기로 분할된 메시지도 서버가 재조립
	args := bytes.Repeat([]byte("x"), 300)
	ch := invokeAsync(c, "big", string(args))
	_, cmd := sc.readCommand(t)
	if sc.tr.InChunkSize() != 64 {
		t.Errorf("expected server in chunk size 64, got %d", sc.tr.InChunkSize())
	}
	if cmd.Arguments[0] != string(args) {
		t.Error("argument mismatch")
	}
	sc.writeCommand(t, 0, false, &Command{Name: CommandResult, TransactionID: cmd.TransactionID})
	receive(t, ch)
}

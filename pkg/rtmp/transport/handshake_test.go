package transport

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

const handshakeTimeout = 5 * time.Second

const (
	noLimit          = -1
	failImmediately  = 0
	failAfterVersion = 1
	failAfterC0C1    = 1 + HandshakeSize
)

var (
	i0 = []byte{4}               // invalid version
	h0 = []byte{RTMPVersion}     // valid handshake version (C0/S0)
	h1 = makeTestHandshakeData() // handshake data (C1/S1)
)

func TestClientHandshake(t *testing.T) {
	// Success
	testClientHandshake(t, h0, h1, noLimit, noLimit, nil)

	// Error cases
	testClientHandshake(t, h0, h1, noLimit, failImmediately, ErrRtmpWrite)           // C0C1 write fails
	testClientHandshake(t, h0, h1, noLimit, failAfterVersion, ErrRtmpWrite)          // C0C1 partially written
	testClientHandshake(t, h0, h1, failImmediately, noLimit, ErrRtmpRead)            // S0 read fails
	testClientHandshake(t, i0, h1, failAfterVersion, noLimit, ErrUnsupportedVersion) // S0 unsupported version
	testClientHandshake(t, h0, h1, failAfterVersion, noLimit, ErrRtmpRead)           // S1 read fails
	testClientHandshake(t, h0, h1, failAfterC0C1, noLimit, ErrRtmpRead)              // S2 read fails (readLimit)
	testClientHandshake(t, h0, h1, noLimit, failAfterC0C1, ErrRtmpWrite)             // C2 write fails
}

func TestServerHandshake(t *testing.T) {
	// Success
	testServerHandshake(t, h0, h1, noLimit, noLimit, nil)

	// Error cases
	testServerHandshake(t, h0, h1, failImmediately, noLimit, ErrRtmpRead)            // C0 read fails
	testServerHandshake(t, i0, h1, failAfterVersion, noLimit, ErrUnsupportedVersion) // C0 unsupported version
	testServerHandshake(t, h0, h1, failAfterVersion, noLimit, ErrRtmpRead)           // C1 read fails
	testServerHandshake(t, h0, h1, noLimit, failImmediately, ErrRtmpWrite)           // S0S1 write fails
	testServerHandshake(t, h0, h1, noLimit, failAfterC0C1, ErrRtmpWrite)             // S2 write fails
	testServerHandshake(t, h0, h1, failAfterC0C1, noLimit, ErrRtmpRead)              // C2 read fails (readLimit)
}

func TestClientHandshake_S2Mismatch(t *testing.T) {
	// S2가 C1을 그대로 돌려주지 않으면 실패
	in := bytes.NewBuffer(nil)
	in.Write(h0)
	in.Write(h1)
	in.Write(makeTestHandshakeData())

	var out bytes.Buffer
	err := ClientHandshake(struct {
		io.Reader
		io.Writer
	}{in, &out})
	if !errors.Is(err, ErrHandshakeValidation) {
		t.Fatalf("expected ErrHandshakeValidation, got %v", err)
	}

	// C0+C1+C2 외에는 아무것도 쓰지 않음
	if out.Len() != 1+2*HandshakeSize {
		t.Errorf("expected %d bytes written, got %d", 1+2*HandshakeSize, out.Len())
	}
	c2 := out.Bytes()[1+HandshakeSize:]
	if !isEcho(h1, c2) {
		t.Error("C2 should echo S1 time and random bytes")
	}
}

func TestTransportHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		conn.SetDeadline(time.Now().Add(handshakeTimeout))
		server := NewTransport(conn)
		defer server.Close()
		if err := server.ServerHandshake(); err != nil {
			done <- err
			return
		}
		msg, err := server.ReadMessage()
		if err != nil {
			done <- err
			return
		}
		defer msg.Release()
		done <- server.WriteMessage(NewMessage(msg.Header, append([]byte(nil), msg.Data()...)))
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	// 핸드셰이크가 멈추면 테스트가 끝나지 않으므로 데드라인을 건다
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		t.Fatal(err)
	}
	client := NewTransport(conn)
	defer client.Close()

	if err := client.ClientHandshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := client.WriteMessage(NewMessage(NewMessageHeader(0, 0, MsgTypeAMF0Command), []byte("hello"))); err != nil {
		t.Fatal(err)
	}
	msg, err := client.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	defer msg.Release()
	if string(msg.Data()) != "hello" {
		t.Errorf("expected echo, got %q", msg.Data())
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server: %v", err)
		}
	case <-time.After(handshakeTimeout):
		t.Fatal("timed out waiting for server")
	}
}

func TestClientHandshakeFlushesC0C1(t *testing.T) {
	client, peer := net.Pipe()
	defer client.Close()
	defer peer.Close()

	tr := NewTransport(client)
	go tr.ClientHandshake()

	// Transport 내부 버퍼를 직접 flush하지 않아도 C0+C1이 도착해야 함
	if err := peer.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		t.Fatal(err)
	}
	c0c1 := make([]byte, 1+HandshakeSize)
	if _, err := io.ReadFull(peer, c0c1); err != nil {
		t.Fatalf("peer did not receive C0+C1: %v", err)
	}
	if c0c1[0] != RTMPVersion {
		t.Errorf("expected version %d, got %d", RTMPVersion, c0c1[0])
	}
	if tr.BytesWritten() != uint64(len(c0c1)) {
		t.Errorf("expected %d metered bytes, got %d", len(c0c1), tr.BytesWritten())
	}
}

func TestServerHandshakeFlushesS0S1S2(t *testing.T) {
	server, peer := net.Pipe()
	defer server.Close()
	defer peer.Close()

	go NewTransport(server).ServerHandshake()

	if err := peer.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		t.Fatal(err)
	}
	c0c1 := make([]byte, 1+HandshakeSize)
	c0c1[0] = RTMPVersion
	if _, err := rand.Read(c0c1[9:]); err != nil {
		t.Fatal(err)
	}
	if _, err := peer.Write(c0c1); err != nil {
		t.Fatal(err)
	}

	reply := make([]byte, 1+2*HandshakeSize)
	if _, err := io.ReadFull(peer, reply); err != nil {
		t.Fatalf("peer did not receive S0+S1+S2: %v", err)
	}
	if reply[0] != RTMPVersion {
		t.Errorf("expected version %d, got %d", RTMPVersion, reply[0])
	}
}

func testClientHandshake(t *testing.T, s0, s1 []byte, readLimit, writeLimit int, wantErr error) {
	t.Helper()

	rw := newTestReadWriter(s0, s1, readLimit, writeLimit)

	err := ClientHandshake(rw)

	if err != nil {
		if wantErr == nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !errors.Is(err, wantErr) {
			t.Errorf("expected error %v, got: %v", wantErr, err)
		}
		return
	}

	if wantErr != nil {
		t.Fatal("expected error, got nil")
	}
}

func testServerHandshake(t *testing.T, c0, c1 []byte, readLimit, writeLimit int, wantErr error) {
	t.Helper()

	rw := newTestReadWriter(c0, c1, readLimit, writeLimit)

	err := ServerHandshake(rw)

	if err != nil {
		if wantErr == nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !errors.Is(err, wantErr) {
			t.Errorf("expected error %v, got: %v", wantErr, err)
		}
		return
	}

	if wantErr != nil {
		t.Fatal("expected error, got nil")
	}
}

// testReadWriter plays the peer: it serves h0+h1 and echoes the first
// handshake packet written back as the peer's echo packet
type testReadWriter struct {
	readBuf   *bytes.Buffer
	readBytes int
	readLimit int

	writeBuf   *bytes.Buffer
	writeBytes int
	writeLimit int
}

func newTestReadWriter(h0, h1 []byte, readLimit, writeLimit int) *testReadWriter {
	return &testReadWriter{
		readBuf:    newHandshakeReader(h0, h1),
		readLimit:  readLimit,
		writeBuf:   bytes.NewBuffer(nil),
		writeLimit: writeLimit,
	}
}

func (rw *testReadWriter) Read(p []byte) (int, error) {
	// Check read limit
	if rw.readLimit >= 0 && rw.readBytes >= rw.readLimit {
		return 0, io.EOF
	}

	n, err := rw.readBuf.Read(p)
	rw.readBytes += n
	return n, err
}

func (rw *testReadWriter) Write(p []byte) (int, error) {
	// Check write limit
	if rw.writeLimit >= 0 && rw.writeBytes >= rw.writeLimit {
		return 0, io.ErrShortWrite
	}

	n := len(p)
	if rw.writeLimit >= 0 && rw.writeBytes+n > rw.writeLimit {
		n = rw.writeLimit - rw.writeBytes
	}

	written, _ := rw.writeBuf.Write(p[:n])
	rw.writeBytes += written

	// Provide echo when version + first packet are fully written
	if rw.writeBuf.Len() == 1+HandshakeSize {
		rw.readBuf.Write(rw.writeBuf.Bytes()[1 : 1+HandshakeSize])
	}

	if written < len(p) {
		return written, io.ErrShortWrite
	}
	return written, nil
}

func makeTestHandshakeData() []byte {
	data := make([]byte, HandshakeSize)
	_, _ = rand.Read(data)
	return data
}

func newHandshakeReader(h0, h1 []byte) *bytes.Buffer {
	buf := bytes.NewBuffer(append([]byte(nil), h0...))
	if len(h1) > 0 {
		buf.Write(h1)
	}
	return buf
}

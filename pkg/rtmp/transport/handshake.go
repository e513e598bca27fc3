package transport

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/Monibuca/engine/v2/util/bits/pio"
)

// newHandshakePacket builds C1/S1: time, four zero bytes, random fill
func newHandshakePacket(p []byte) {
	pio.PutU32BE(p[0:4], handshakeTime())
	pio.PutU32BE(p[4:8], 0)
	_, _ = rand.Read(p[8:HandshakeSize])
}

// newEchoPacket builds C2/S2 from the peer's C1/S1, with our time in time2
func newEchoPacket(peer []byte) []byte {
	echo := make([]byte, HandshakeSize)
	copy(echo, peer)
	pio.PutU32BE(echo[4:8], handshakeTime())
	return echo
}

// isEcho reports whether echo repeats the time and random bytes of sent
func isEcho(sent, echo []byte) bool {
	return bytes.Equal(sent[0:4], echo[0:4]) && bytes.Equal(sent[8:], echo[8:])
}

func handshakeTime() uint32 {
	return uint32(time.Now().UnixMilli())
}

func readVersion(r io.Reader, stage string) error {
	v := make([]byte, 1)
	if _, err := io.ReadFull(r, v); err != nil {
		return fmt.Errorf("handshake %s: %w: %w", stage, ErrRtmpRead, err)
	}
	if v[0] != RTMPVersion {
		return fmt.Errorf("handshake %s version: got %d, want %d: %w", stage, v[0], RTMPVersion, ErrUnsupportedVersion)
	}
	return nil
}

func readPacket(r io.Reader, stage string) ([]byte, error) {
	p := make([]byte, HandshakeSize)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, fmt.Errorf("handshake %s: %w: %w", stage, ErrRtmpRead, err)
	}
	return p, nil
}

func writePacket(w io.Writer, p []byte, stage string) error {
	if _, err := w.Write(p); err != nil {
		return fmt.Errorf("handshake %s: %w: %w", stage, ErrRtmpWrite, err)
	}
	if err := flush(w); err != nil {
		return fmt.Errorf("handshake %s: %w: %w", stage, ErrRtmpWrite, err)
	}
	return nil
}

// ClientHandshake performs the client side of the simple RTMP handshake.
// It fails with ErrHandshakeValidation when S2 does not echo C1.
func ClientHandshake(rw io.ReadWriter) error {
	// C0 + C1
	c0c1 := make([]byte, 1+HandshakeSize)
	c0c1[0] = RTMPVersion
	newHandshakePacket(c0c1[1:])
	if err := writePacket(rw, c0c1, "c0c1"); err != nil {
		return err
	}
	c1 := c0c1[1:]

	if err := readVersion(rw, "s0"); err != nil {
		return err
	}
	s1, err := readPacket(rw, "s1")
	if err != nil {
		return err
	}

	// C2 echoes S1
	if err := writePacket(rw, newEchoPacket(s1), "c2"); err != nil {
		return err
	}

	s2, err := readPacket(rw, "s2")
	if err != nil {
		return err
	}
	if !isEcho(c1, s2) {
		return fmt.Errorf("handshake s2: %w", ErrHandshakeValidation)
	}
	return nil
}

// ServerHandshake performs the server side of the simple RTMP handshake
func ServerHandshake(rw io.ReadWriter) error {
	if err := readVersion(rw, "c0"); err != nil {
		return err
	}
	c1, err := readPacket(rw, "c1")
	if err != nil {
		return err
	}

	// S0 + S1
	s0s1 := make([]byte, 1+HandshakeSize)
	s0s1[0] = RTMPVersion
	newHandshakePacket(s0s1[1:])
	if err := writePacket(rw, s0s1, "s0s1"); err != nil {
		return err
	}
	s1 := s0s1[1:]

	// S2 echoes C1
	if err := writePacket(rw, newEchoPacket(c1), "s2"); err != nil {
		return err
	}

	c2, err := readPacket(rw, "c2")
	if err != nil {
		return err
	}
	if !isEcho(s1, c2) {
		return fmt.Errorf("handshake c2: %w", ErrHandshakeValidation)
	}
	return nil
}

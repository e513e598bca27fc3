package transport

import "errors"

var (
	// I/O errors
	ErrRtmpRead  = errors.New("rtmp read failed")
	ErrRtmpWrite = errors.New("rtmp write failed")

	// Protocol errors
	ErrUnsupportedVersion    = errors.New("unsupported RTMP version")
	ErrHandshakeValidation   = errors.New("handshake echo mismatch")
	ErrMalformedProtocolData = errors.New("malformed protocol data")
	ErrInvalidChunkSize      = errors.New("invalid chunk size")

	// Message header errors
	ErrNoPreviousHeader = errors.New("format type requires previous header")

	// Resource guard
	ErrAllocationLimitExceeded = errors.New("message length exceeds read allocation limit")

	// Write errors
	ErrEmptyMessage    = errors.New("empty message")
	ErrMessageTooLarge = errors.New("message exceeds 24-bit length")
)

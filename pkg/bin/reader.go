// Package bin provides the fixed-width binary primitives shared by the AMF
// codec and the RTMP chunk protocol.
package bin

import (
	"errors"
	"math"

	"github.com/Monibuca/engine/v2/util/bits/pio"
)

// ErrUnexpectedEndOfData is returned when fewer bytes remain than requested.
var ErrUnexpectedEndOfData = errors.New("unexpected end of data")

// Reader reads big-endian values from a byte slice
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a reader over data
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Len returns the number of unread bytes
func (r *Reader) Len() int {
	return len(r.data) - r.pos
}

// Pos returns the current read offset
func (r *Reader) Pos() int {
	return r.pos
}

// next returns the next n bytes without copying
func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || r.Len() < n {
		return nil, ErrUnexpectedEndOfData
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadByte reads a single byte
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBytes reads n bytes into a new slice
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b, err := r.next(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadUint16 reads a big-endian uint16
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return pio.U16BE(b), nil
}

// ReadInt16 reads a big-endian int16
func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadUint24 reads a big-endian 24-bit unsigned integer
func (r *Reader) ReadUint24() (uint32, error) {
	b, err := r.next(3)
	if err != nil {
		return 0, err
	}
	return pio.U24BE(b), nil
}

// ReadUint32 reads a big-endian uint32
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return pio.U32BE(b), nil
}

// ReadInt32 reads a big-endian int32
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint32LE reads a little-endian uint32.
// RTMP only uses it for the message stream id.
func (r *Reader) ReadUint32LE() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return pio.U32LE(b), nil
}

// ReadFloat32 reads a big-endian IEEE-754 single
func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadFloat64 reads a big-endian IEEE-754 double
func (r *Reader) ReadFloat64() (float64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(pio.U64BE(b)), nil
}

// ReadString reads n bytes as a UTF-8 string
func (r *Reader) ReadString(n int) (string, error) {
	b, err := r.next(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadUTF reads a string prefixed with a 16-bit length
func (r *Reader) ReadUTF() (string, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return "", err
	}
	return r.ReadString(int(n))
}

// ReadLongUTF reads a string prefixed with a 32-bit length
func (r *Reader) ReadLongUTF() (string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(r.Len()) {
		return "", ErrUnexpectedEndOfData
	}
	return r.ReadString(int(n))
}

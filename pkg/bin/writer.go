package bin

import (
	"errors"
	"math"

	"github.com/Monibuca/engine/v2/util/bits/pio"
)

// ErrStringTooLong is returned when a string exceeds its length prefix
var ErrStringTooLong = errors.New("string too long for length prefix")

// Writer appends big-endian values to a growable buffer
type Writer struct {
	buf []byte
}

// NewWriter creates a writer with the given initial capacity
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the written bytes
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of written bytes
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset discards written bytes, keeping capacity
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// grow extends the buffer by n bytes and returns the new tail
func (w *Writer) grow(n int) []byte {
	l := len(w.buf)
	w.buf = append(w.buf, make([]byte, n)...)
	return w.buf[l:]
}

// Write appends p; it never fails
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// WriteByte appends a single byte
func (w *Writer) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

// WriteString appends the raw bytes of s
func (w *Writer) WriteString(s string) (int, error) {
	w.buf = append(w.buf, s...)
	return len(s), nil
}

// WriteUint16 appends a big-endian uint16
func (w *Writer) WriteUint16(v uint16) {
	pio.PutU16BE(w.grow(2), v)
}

// WriteInt16 appends a big-endian int16
func (w *Writer) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

// WriteUint24 appends a big-endian 24-bit unsigned integer
func (w *Writer) WriteUint24(v uint32) {
	pio.PutU24BE(w.grow(3), v)
}

// WriteUint32 appends a big-endian uint32
func (w *Writer) WriteUint32(v uint32) {
	pio.PutU32BE(w.grow(4), v)
}

// WriteInt32 appends a big-endian int32
func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteUint32LE appends a little-endian uint32
func (w *Writer) WriteUint32LE(v uint32) {
	pio.PutU32LE(w.grow(4), v)
}

// WriteFloat32 appends a big-endian IEEE-754 single
func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

// WriteFloat64 appends a big-endian IEEE-754 double
func (w *Writer) WriteFloat64(v float64) {
	pio.PutU64BE(w.grow(8), math.Float64bits(v))
}

// WriteUTF appends s with a 16-bit length prefix
func (w *Writer) WriteUTF(s string) error {
	if len(s) > math.MaxUint16 {
		return ErrStringTooLong
	}
	w.WriteUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// WriteLongUTF appends s with a 32-bit length prefix
func (w *Writer) WriteLongUTF(s string) error {
	if uint64(len(s)) > math.MaxUint32 {
		return ErrStringTooLong
	}
	w.WriteUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

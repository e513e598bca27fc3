// Package buf provides reference-counted byte buffers backed by tiered pools.
// Reassembled RTMP message payloads live in these buffers until the message
// is released.
package buf

import "sync/atomic"

// Buffer is a reference-counted byte slice
type Buffer struct {
	data    []byte
	refs    atomic.Int32
	release func([]byte)
}

// New wraps data without a release function (GC managed)
func New(data []byte) *Buffer {
	return NewWithRelease(data, nil)
}

// NewPooled returns a buffer of length size drawn from the pools
func NewPooled(size int) *Buffer {
	return NewWithRelease(alloc(size), free)
}

// NewWithRelease wraps data and calls release once the last reference is dropped
func NewWithRelease(data []byte, release func([]byte)) *Buffer {
	b := &Buffer{data: data, release: release}
	b.refs.Store(1)
	return b
}

// Data returns the underlying bytes
func (b *Buffer) Data() []byte {
	return b.data
}

// Len returns the length of the buffer
func (b *Buffer) Len() int {
	return len(b.data)
}

// Cap returns the capacity of the buffer
func (b *Buffer) Cap() int {
	return cap(b.data)
}

// Retain adds a reference
func (b *Buffer) Retain() {
	b.refs.Add(1)
}

// Release drops a reference. The bytes must not be used after the last one.
func (b *Buffer) Release() {
	switch n := b.refs.Add(-1); {
	case n == 0:
		if b.release != nil {
			b.release(b.data)
		}
		b.data = nil
	case n < 0:
		panic("buf: Release called on a released buffer")
	}
}

package transport

import (
	"bufio"
	"io"
	"sync/atomic"
)

// meteredReader buffers reads and counts every byte consumed
type meteredReader struct {
	*bufio.Reader
	bytesRead atomic.Uint64
}

func newMeteredReader(r io.Reader) *meteredReader {
	return &meteredReader{Reader: bufio.NewReaderSize(r, IOBufferSize)}
}

// Read reads data into p and meters the bytes read
func (mr *meteredReader) Read(p []byte) (int, error) {
	n, err := mr.Reader.Read(p)
	mr.bytesRead.Add(uint64(n))
	return n, err
}

// ReadByte reads a single byte and meters it
func (mr *meteredReader) ReadByte() (byte, error) {
	b, err := mr.Reader.ReadByte()
	if err == nil {
		mr.bytesRead.Add(1)
	}
	return b, err
}

// BytesRead returns the total number of bytes read
func (mr *meteredReader) BytesRead() uint64 {
	return mr.bytesRead.Load()
}

// meteredWriter buffers writes and counts every byte produced
type meteredWriter struct {
	*bufio.Writer
	bytesWritten atomic.Uint64
}

func newMeteredWriter(w io.Writer) *meteredWriter {
	return &meteredWriter{Writer: bufio.NewWriterSize(w, IOBufferSize)}
}

// Write writes p and meters the bytes written
func (mw *meteredWriter) Write(p []byte) (int, error) {
	n, err := mw.Writer.Write(p)
	mw.bytesWritten.Add(uint64(n))
	return n, err
}

// BytesWritten returns the total number of bytes written
func (mw *meteredWriter) BytesWritten() uint64 {
	return mw.bytesWritten.Load()
}

// flusher is implemented by buffered writers
type flusher interface {
	Flush() error
}

// flush flushes w when it buffers
func flush(w io.Writer) error {
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

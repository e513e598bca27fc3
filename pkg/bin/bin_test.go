package bin

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestReaderWriterRoundTrip(t *testing.T) {
	w := NewWriter(64)
	w.WriteByte(0xAB)
	w.WriteUint16(0xBEEF)
	w.WriteInt16(-2)
	w.WriteUint24(0x123456)
	w.WriteUint32(0xDEADBEEF)
	w.WriteInt32(-100)
	w.WriteUint32LE(0x01020304)
	w.WriteFloat32(1.5)
	w.WriteFloat64(math.Pi)
	if err := w.WriteUTF("hello"); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteLongUTF("world"); err != nil {
		t.Fatal(err)
	}

	r := NewReader(w.Bytes())

	if b, _ := r.ReadByte(); b != 0xAB {
		t.Errorf("ReadByte = 0x%X", b)
	}
	if v, _ := r.ReadUint16(); v != 0xBEEF {
		t.Errorf("ReadUint16 = 0x%X", v)
	}
	if v, _ := r.ReadInt16(); v != -2 {
		t.Errorf("ReadInt16 = %d", v)
	}
	if v, _ := r.ReadUint24(); v != 0x123456 {
		t.Errorf("ReadUint24 = 0x%X", v)
	}
	if v, _ := r.ReadUint32(); v != 0xDEADBEEF {
		t.Errorf("ReadUint32 = 0x%X", v)
	}
	if v, _ := r.ReadInt32(); v != -100 {
		t.Errorf("ReadInt32 = %d", v)
	}
	if v, _ := r.ReadUint32LE(); v != 0x01020304 {
		t.Errorf("ReadUint32LE = 0x%X", v)
	}
	if v, _ := r.ReadFloat32(); v != 1.5 {
		t.Errorf("ReadFloat32 = %v", v)
	}
	if v, _ := r.ReadFloat64(); v != math.Pi {
		t.Errorf("ReadFloat64 = %v", v)
	}
	if s, _ := r.ReadUTF(); s != "hello" {
		t.Errorf("ReadUTF = %q", s)
	}
	if s, _ := r.ReadLongUTF(); s != "world" {
		t.Errorf("ReadLongUTF = %q", s)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestUint32LEByteOrder(t *testing.T) {
	w := NewWriter(4)
	w.WriteUint32LE(1)
	if !bytes.Equal(w.Bytes(), []byte{1, 0, 0, 0}) {
		t.Errorf("got %v", w.Bytes())
	}
}

func TestReaderTruncated(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
		read func(r *Reader) error
	}{
		{"byte", nil, func(r *Reader) error { _, err := r.ReadByte(); return err }},
		{"uint16", []byte{1}, func(r *Reader) error { _, err := r.ReadUint16(); return err }},
		{"uint24", []byte{1, 2}, func(r *Reader) error { _, err := r.ReadUint24(); return err }},
		{"uint32", []byte{1, 2, 3}, func(r *Reader) error { _, err := r.ReadUint32(); return err }},
		{"uint32le", []byte{1, 2, 3}, func(r *Reader) error { _, err := r.ReadUint32LE(); return err }},
		{"float64", make([]byte, 7), func(r *Reader) error { _, err := r.ReadFloat64(); return err }},
		{"bytes", []byte{1}, func(r *Reader) error { _, err := r.ReadBytes(2); return err }},
		{"negative", []byte{1}, func(r *Reader) error { _, err := r.ReadBytes(-1); return err }},
		{"utf", []byte{0, 5, 'a'}, func(r *Reader) error { _, err := r.ReadUTF(); return err }},
		{"longutf", []byte{0xFF, 0xFF, 0xFF, 0xFF}, func(r *Reader) error { _, err := r.ReadLongUTF(); return err }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.read(NewReader(tc.data))
			if !errors.Is(err, ErrUnexpectedEndOfData) {
				t.Errorf("expected ErrUnexpectedEndOfData, got %v", err)
			}
		})
	}
}

func TestReadBytesCopies(t *testing.T) {
	src := []byte{1, 2, 3}
	b, err := NewReader(src).ReadBytes(3)
	if err != nil {
		t.Fatal(err)
	}
	b[0] = 9
	if src[0] != 1 {
		t.Error("ReadBytes must not alias the source")
	}
}

func TestWriteUTFTooLong(t *testing.T) {
	w := NewWriter(0)
	if err := w.WriteUTF(strings.Repeat("a", 65536)); !errors.Is(err, ErrStringTooLong) {
		t.Errorf("expected ErrStringTooLong, got %v", err)
	}
	if w.Len() != 0 {
		t.Errorf("nothing should be written, got %d bytes", w.Len())
	}
}

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

// writeChunks writes msgs with a fresh writer and returns the chunk bytes
func writeChunks(t *testing.T, chunkSize uint32, msgs ...*Message) []byte {
	t.Helper()
	var out bytes.Buffer
	w := NewWriter(&out)
	if err := w.SetChunkSize(chunkSize); err != nil {
		t.Fatal(err)
	}
	for _, m := range msgs {
		if err := w.WriteMessage(m); err != nil {
			t.Fatalf("WriteMessage failed: %v", err)
		}
	}
	return out.Bytes()
}

func newTestReader(t *testing.T, data []byte, chunkSize uint32) (*Reader, *bytes.Buffer) {
	t.Helper()
	in := bytes.NewBuffer(data)
	r := NewReader(in)
	if err := r.SetChunkSize(chunkSize); err != nil {
		t.Fatal(err)
	}
	return r, in
}

func patternData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func TestChunkReassembly(t *testing.T) {
	for _, c := range []int{1, 128, 4096} {
		for _, l := range []int{1, c - 1, c, c + 1, 10*c + 7} {
			if l == 0 {
				continue
			}
			t.Run(fmt.Sprintf("C=%d/L=%d", c, l), func(t *testing.T) {
				data := patternData(l)
				header := NewMessageHeader(1, 42, MsgTypeVideo)
				raw := writeChunks(t, uint32(c), NewMessage(header, data))

				// 첫 청크: basic(1) + type 0(11), 이후 청크마다 basic(1)
				chunks := (l + c - 1) / c
				if want := 12 + l + (chunks - 1); len(raw) != want {
					t.Errorf("expected %d bytes on the wire, got %d", want, len(raw))
				}

				r, in := newTestReader(t, raw, uint32(c))
				msg, err := r.ReadMessage()
				if err != nil {
					t.Fatalf("ReadMessage failed: %v", err)
				}
				defer msg.Release()

				if !bytes.Equal(msg.Data(), data) {
					t.Error("payload mismatch")
				}
				if msg.Timestamp() != 42 || msg.StreamID() != 1 || msg.Type() != MsgTypeVideo {
					t.Errorf("unexpected header %+v", msg.Header)
				}
				if in.Len() != 0 {
					t.Errorf("%d bytes left unread", in.Len())
				}
				if len(r.builders) != 0 {
					t.Errorf("%d builders left", len(r.builders))
				}
			})
		}
	}
}

func TestWriteEmptyMessageRejected(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	err := w.WriteMessage(NewMessage(NewMessageHeader(1, 0, MsgTypeAudio), nil))
	if !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("wrote %d bytes", out.Len())
	}
}

func TestReadEmptyMessage(t *testing.T) {
	// 길이 0 메시지는 헤더만으로 완성
	raw := []byte{0x03, 0, 0, 5, 0, 0, 0, MsgTypeAMF0Command, 0, 0, 0, 0}
	r, _ := newTestReader(t, raw, DefaultChunkSize)
	msg, err := r.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if len(msg.Data()) != 0 || msg.Timestamp() != 5 {
		t.Errorf("unexpected message %+v", msg.Header)
	}
}

func TestAllocationGuard(t *testing.T) {
	header := NewMessageHeader(1, 0, MsgTypeVideo)
	raw := writeChunks(t, 4096, NewMessage(header, patternData(100)))

	r, in := newTestReader(t, raw, 4096)
	r.SetMaxReadAllocation(99)

	_, err := r.ReadMessage()
	if !errors.Is(err, ErrAllocationLimitExceeded) {
		t.Fatalf("expected ErrAllocationLimitExceeded, got %v", err)
	}
	// 헤더만 읽고 페이로드는 한 바이트도 버퍼링하지 않음
	if in.Len() != 100 {
		t.Errorf("expected the 100 payload bytes unread, %d left", in.Len())
	}
	if len(r.builders) != 0 {
		t.Errorf("expected no builders, got %d", len(r.builders))
	}
}

func TestHeaderCompressionSequence(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)

	timestamps := []uint32{0, 0, 10, 20, 30, 5}
	wantFmt := []uint8{FmtType0, FmtType3, FmtType2, FmtType3, FmtType3, FmtType0}
	for i, ts := range timestamps {
		start := out.Len()
		msg := NewMessage(NewMessageHeader(1, ts, MsgTypeAudio), []byte{1, 2, 3, 4})
		if err := w.WriteMessage(msg); err != nil {
			t.Fatal(err)
		}
		if got := out.Bytes()[start] >> 6; got != wantFmt[i] {
			t.Errorf("message %d: expected fmt %d, got %d", i, wantFmt[i], got)
		}
	}

	r, _ := newTestReader(t, out.Bytes(), DefaultChunkSize)
	for i, ts := range timestamps {
		msg, err := r.ReadMessage()
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if msg.Timestamp() != ts {
			t.Errorf("message %d: expected timestamp %d, got %d", i, ts, msg.Timestamp())
		}
		msg.Release()
	}
}

func TestExtendedTimestampRoundTrip(t *testing.T) {
	testCases := []struct {
		name      string
		timestamp uint32
	}{
		{"Below threshold", ExtendedTimestampThreshold - 1},
		{"At threshold", ExtendedTimestampThreshold},
		{"Just above threshold", ExtendedTimestampThreshold + 1},
		{"Max uint32", 0xFFFFFFFF},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// 여러 청크에 걸친 메시지: 연속 청크에는 확장 타임스탬프 없음
			data := patternData(300)
			raw := writeChunks(t, 128, NewMessage(NewMessageHeader(1, tc.timestamp, MsgTypeVideo), data))

			ext := 0
			if tc.timestamp >= ExtendedTimestampThreshold {
				ext = 4
			}
			if want := 12 + ext + 300 + 2; len(raw) != want {
				t.Errorf("expected %d bytes, got %d", want, len(raw))
			}

			r, _ := newTestReader(t, raw, 128)
			msg, err := r.ReadMessage()
			if err != nil {
				t.Fatalf("ReadMessage failed: %v", err)
			}
			defer msg.Release()
			if msg.Timestamp() != tc.timestamp {
				t.Errorf("expected timestamp 0x%X, got 0x%X", tc.timestamp, msg.Timestamp())
			}
			if !bytes.Equal(msg.Data(), data) {
				t.Error("payload mismatch")
			}
		})
	}
}

func TestInterleavedChunkStreams(t *testing.T) {
	audio := NewMessage(NewMessageHeader(1, 0, MsgTypeAudio), patternData(10))
	video := NewMessage(NewMessageHeader(1, 0, MsgTypeVideo), patternData(10))
	a := writeChunks(t, 4, audio)
	v := writeChunks(t, 4, video)

	// audio: 12+4 | 1+4 | 1+2, video: 12+4 | 1+4 | 1+2
	var mixed []byte
	mixed = append(mixed, a[:16]...)
	mixed = append(mixed, v[:16]...)
	mixed = append(mixed, a[16:]...)
	mixed = append(mixed, v[16:]...)

	r, _ := newTestReader(t, mixed, 4)
	first, err := r.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if first.Type() != MsgTypeAudio || second.Type() != MsgTypeVideo {
		t.Errorf("unexpected order %d, %d", first.Type(), second.Type())
	}
	if !bytes.Equal(first.Data(), patternData(10)) || !bytes.Equal(second.Data(), patternData(10)) {
		t.Error("payload mismatch")
	}
}

func TestReaderAbort(t *testing.T) {
	partial := writeChunks(t, 4, NewMessage(NewMessageHeader(1, 0, MsgTypeAMF0Command), []byte("abcdefgh")))
	next := writeChunks(t, 4, NewMessage(NewMessageHeader(1, 0, MsgTypeAMF0Command), []byte("xyz")))

	// 첫 청크만 전달
	r, in := newTestReader(t, partial[:16], 4)
	if _, err := r.ReadMessage(); err == nil {
		t.Fatal("expected EOF after the first chunk")
	}
	if len(r.builders) != 1 {
		t.Fatalf("expected one partial message, got %d", len(r.builders))
	}

	r.Abort(ChunkStreamCommand)
	if len(r.builders) != 0 {
		t.Fatalf("abort should drop partial data, %d builders left", len(r.builders))
	}

	in.Write(next)
	msg, err := r.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Data()) != "xyz" {
		t.Errorf("expected xyz, got %q", msg.Data())
	}
}

func TestWriterSetChunkSize(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	if err := w.WriteMessage(NewSetChunkSizeMessage(4096)); err != nil {
		t.Fatal(err)
	}
	if w.ChunkSize() != 4096 {
		t.Errorf("expected chunk size 4096, got %d", w.ChunkSize())
	}

	for _, size := range []uint32{0, MaxChunkSize + 1} {
		if err := w.SetChunkSize(size); !errors.Is(err, ErrInvalidChunkSize) {
			t.Errorf("size %d: expected ErrInvalidChunkSize, got %v", size, err)
		}
	}
}

func TestReadTruncatedChunk(t *testing.T) {
	raw := writeChunks(t, 128, NewMessage(NewMessageHeader(1, 0, MsgTypeAudio), patternData(50)))
	r, _ := newTestReader(t, raw[:30], 128)
	if _, err := r.ReadMessage(); !errors.Is(err, ErrRtmpRead) {
		t.Errorf("expected ErrRtmpRead, got %v", err)
	}

	// 이전 헤더 없이 Type 3
	r, _ = newTestReader(t, []byte{0xC3, 1, 2}, 128)
	if _, err := r.ReadMessage(); !errors.Is(err, ErrNoPreviousHeader) {
		t.Errorf("expected ErrNoPreviousHeader, got %v", err)
	}
}

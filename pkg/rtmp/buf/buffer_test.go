package buf

import "testing"

func TestAllocTiers(t *testing.T) {
	testCases := []struct {
		size    int
		wantCap int
	}{
		{1, Size256},
		{Size256, Size256},
		{Size256 + 1, Size4K},
		{Size4K, Size4K},
		{Size64K - 1, Size64K},
		{Size1M, Size1M},
		{Size8M, Size8M},
		{Size8M + 1, Size8M + 1},
	}

	for _, tc := range testCases {
		b := alloc(tc.size)
		if len(b) != tc.size {
			t.Errorf("alloc(%d): len %d", tc.size, len(b))
		}
		if cap(b) != tc.wantCap {
			t.Errorf("alloc(%d): cap %d, want %d", tc.size, cap(b), tc.wantCap)
		}
		free(b)
	}
}

func TestFreeIgnoresForeignSlices(t *testing.T) {
	// 풀 크기가 아닌 슬라이스는 버려야 함
	free(make([]byte, 100))
	free(nil)
}

func TestBufferPooled(t *testing.T) {
	b := NewPooled(1000)
	if b.Len() != 1000 || b.Cap() != Size4K {
		t.Fatalf("unexpected len %d cap %d", b.Len(), b.Cap())
	}
	copy(b.Data(), "payload")
	b.Release()
	if b.Data() != nil {
		t.Error("data should be dropped after the last release")
	}
}

func TestBufferRefCount(t *testing.T) {
	released := 0
	b := NewWithRelease(make([]byte, 10), func([]byte) { released++ })

	b.Retain()
	b.Release()
	if released != 0 {
		t.Fatal("released while still referenced")
	}
	b.Release()
	if released != 1 {
		t.Fatalf("expected one release, got %d", released)
	}
}

func TestBufferDoubleReleasePanics(t *testing.T) {
	b := New(make([]byte, 4))
	b.Release()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on double release")
		}
	}()
	b.Release()
}

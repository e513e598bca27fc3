package buf

import "sync"

// Pool tier capacities. Messages larger than the top tier are allocated
// directly and left to the GC.
const (
	Size256 = 1 << 8  // command and control payloads
	Size4K  = 1 << 12 // one default outbound chunk
	Size64K = 1 << 16
	Size1M  = 1 << 20
	Size8M  = 1 << 23 // default read allocation limit
)

type tier struct {
	size int
	pool sync.Pool
}

var tiers = newTiers(Size256, Size4K, Size64K, Size1M, Size8M)

func newTiers(sizes ...int) []*tier {
	ts := make([]*tier, len(sizes))
	for i, size := range sizes {
		t := &tier{size: size}
		t.pool.New = func() any { return make([]byte, t.size) }
		ts[i] = t
	}
	return ts
}

// alloc returns a slice of length size, pooled when a tier fits
func alloc(size int) []byte {
	for _, t := range tiers {
		if size <= t.size {
			return t.pool.Get().([]byte)[:size]
		}
	}
	return make([]byte, size)
}

// free puts b back into the tier matching its capacity
func free(b []byte) {
	for _, t := range tiers {
		if cap(b) == t.size {
			t.pool.Put(b[:t.size])
			return
		}
	}
}

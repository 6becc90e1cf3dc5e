package tlb

import (
	"errors"
	"testing"

	"example.com/bh-console/internal/bherrors"
)

// fakeWindow builds a Window with no backing device, suitable only for
// exercising Pool's free-list bookkeeping.
func fakeWindow(size int) *Window {
	// mem is deliberately NOT allocated at the real size class (Size4G
	// would be a four-gigabyte test allocation); bookkeeping tests never
	// touch the backing bytes, only size/offset.
	return &Window{size: size, mem: make([]byte, 0)}
}

func newTestPool(size int) *Pool {
	p := &Pool{
		free: make(map[int][]*Window),
	}
	p.allocFn = func(sz int) (*Window, error) { return fakeWindow(sz), nil }
	return p
}

func TestPoolReusesReleasedWindow(t *testing.T) {
	p := newTestPool(Size2M)

	w1, err := p.Acquire(Size2M, Coord{X: 8, Y: 3}, 0x1000)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(Size2M, w1)

	w2, err := p.Acquire(Size2M, Coord{X: 8, Y: 9}, 0x2000)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if w1 != w2 {
		t.Fatal("expected Acquire to reuse the released window")
	}
	if p.inUse[Size2M] != 1 {
		t.Fatalf("inUse = %d, want 1", p.inUse[Size2M])
	}
}

func TestPoolExhaustion(t *testing.T) {
	p := newTestPool(Size2M)

	for i := 0; i < poolSize; i++ {
		if _, err := p.Acquire(Size2M, Coord{}, uint64(i)*Size2M); err != nil {
			t.Fatalf("Acquire #%d: %v", i, err)
		}
	}

	_, err := p.Acquire(Size2M, Coord{}, 0)
	if !errors.Is(err, bherrors.PoolExhausted) {
		t.Fatalf("expected PoolExhausted, got %v", err)
	}
}

func TestPoolSizeClassesAreIndependent(t *testing.T) {
	p := newTestPool(Size2M)

	if _, err := p.Acquire(Size2M, Coord{}, 0); err != nil {
		t.Fatalf("Acquire 2M: %v", err)
	}
	if _, err := p.Acquire(Size4G, Coord{}, 0); err != nil {
		t.Fatalf("Acquire 4G: %v", err)
	}
	if p.inUse[Size2M] != 1 || p.inUse[Size4G] != 1 {
		t.Fatalf("inUse = %v, want one of each", p.inUse)
	}
}

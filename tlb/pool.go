package tlb

import (
	"fmt"
	"sync"

	"example.com/bh-console/ddi"
	"example.com/bh-console/internal/bherrors"
)

// poolSize caps how many windows of each size class a Pool allocates
// from the driver; windows are allocated on demand, not up front.
// The original C++ side allocates one persistent window per caller and
// never frees it for the program's lifetime; we keep that "persistent"
// usage pattern as the common case (Acquire without a matching Release
// until shutdown) but set the cap generously enough that ephemeral
// acquisitions (Cluster.Read32/Write32's per-call windows) don't
// starve it.
const poolSize = 16

// Pool is a fixed-capacity, per-size-class set of TLB windows. All
// allocation is serialized through a single mutex: the kernel driver's
// TLB id space is a shared, limited hardware resource, and Acquire
// calls are rare enough (device setup, not the data path) that
// contention is never a concern.
type Pool struct {
	dev *ddi.Device

	// allocFn is the window allocator, overridden in tests so pool
	// bookkeeping can be exercised without an open device node.
	allocFn func(size int) (*Window, error)

	mu    sync.Mutex
	free  map[int][]*Window
	inUse map[int]int
	all   []*Window
}

// NewPool creates a pool bound to an open device handle. The device
// must remain open for the pool's entire lifetime.
func NewPool(dev *ddi.Device) *Pool {
	return &Pool{
		dev:     dev,
		free:    make(map[int][]*Window),
		allocFn: func(size int) (*Window, error) { return alloc(dev, size) },
	}
}

// Acquire returns a window of the given size class retargeted at
// (coord, addr), allocating a fresh one from the driver if the pool's
// free list for that size class is empty and under poolSize entries
// have been handed out so far.
func (p *Pool) Acquire(size int, coord Coord, addr uint64) (*Window, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var w *Window
	if stack := p.free[size]; len(stack) > 0 {
		w = stack[len(stack)-1]
		p.free[size] = stack[:len(stack)-1]
	} else {
		if p.inUse[size] >= poolSize {
			return nil, fmt.Errorf("%w: size class %d", bherrors.PoolExhausted, size)
		}
		var err error
		w, err = p.allocFn(size)
		if err != nil {
			return nil, err
		}
		if p.inUse == nil {
			p.inUse = make(map[int]int)
		}
		p.inUse[size]++
		p.all = append(p.all, w)
	}

	if err := w.retarget(coord, addr); err != nil {
		// Put it back in the free list rather than leaking the
		// hardware entry; the caller gets the configure error.
		p.free[size] = append(p.free[size], w)
		return nil, err
	}
	return w, nil
}

// Release returns a window to its size class's free list for reuse. It
// does not unmap or free the underlying TLB entry — that only happens
// at Close. Most callers acquire a window once at setup and hold it for
// the process lifetime, matching the "persistent window" pattern the
// cluster facade exposes; Release serves the callers that want a scoped
// window (Cluster.Read32/Write32, which release theirs on every call)
// and Cluster.Close.
func (p *Pool) Release(size int, w *Window) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free[size] = append(p.free[size], w)
}

// Close frees every window the pool has ever allocated, regardless of
// whether it's currently checked out. Callers must have stopped using
// any windows acquired from this pool before calling Close.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, w := range p.all {
		if err := w.free(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.free = make(map[int][]*Window)
	p.inUse = make(map[int]int)
	p.all = nil
	return firstErr
}

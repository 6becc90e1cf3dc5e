package virtqueue

import (
	"fmt"

	"example.com/bh-console/internal/bherrors"
)

// Handler is implemented by a device model to process one queue's
// descriptor chains. A chain is split into three phases by byte
// offset into the chain rather than by descriptor count: bytes before
// headerSize go to ProcessStart, bytes at or after it go to
// ProcessData, and the final descriptor in the chain (the one with no
// F_NEXT flag) goes to ProcessComplete regardless of how many header
// bytes have been seen. This mirrors the reference device loop's
// num_bytes_written/queue_header_size comparison exactly.
type Handler interface {
	ProcessStart(queueIdx int, buf []byte)
	ProcessData(queueIdx int, buf []byte)
	ProcessComplete(queueIdx int, buf []byte)
	// HasData reports whether the device has something to do for this
	// queue right now. Most devices always return true; a device like
	// the network model only wants its queue serviced once inbound
	// data is actually ready.
	HasData(queueIdx int) bool
}

// Queue bundles one virtqueue's three guest-resident rings plus the
// header-size convention its Handler uses to split chains.
type Queue struct {
	Desc       *DescriptorTable
	Avail      *AvailRing
	Used       *UsedRing
	Size       uint16
	HeaderSize uint64

	processed uint16
}

// Engine drives one or more Queues against a single Handler, and
// reports whether any chain was processed on a given Poll call so the
// caller knows whether to pulse its interrupt line.
type Engine struct {
	mem      []byte
	startAddr uint64
	queues   []*Queue
	handler  Handler
}

// NewEngine builds an engine over queues backed by mem (the cluster's
// full DRAM view, mem[0] being byte startAddr of guest physical memory)
// and dispatching to handler. Descriptor addresses are absolute guest
// addresses; resolve subtracts startAddr to index into mem, exactly as
// the reference loop computes "memory + (addr - starting_address)".
func NewEngine(mem []byte, startAddr uint64, queues []*Queue, handler Handler) *Engine {
	return &Engine{mem: mem, startAddr: startAddr, queues: queues, handler: handler}
}

// Poll walks every queue once, processing at most one available chain
// per queue per call, matching the reference loop's per-iteration
// budget. It returns true if any queue had a chain processed, which the
// caller uses to decide whether to pulse its interrupt.
func (e *Engine) Poll() (bool, error) {
	any := false
	for idx, q := range e.queues {
		processed, err := e.pollQueue(idx, q)
		if err != nil {
			return any, err
		}
		if processed {
			any = true
		}
	}
	return any, nil
}

func (e *Engine) pollQueue(queueIdx int, q *Queue) (bool, error) {
	availIdx := q.Avail.Idx()
	if q.processed == availIdx || !e.handler.HasData(queueIdx) {
		return false, nil
	}

	descIdx := q.Avail.Ring(q.processed)
	firstIdx := descIdx

	var bytesWritten uint64
	// RING_CORRUPT guard: a well-formed chain visits at most Size
	// descriptors. A chain that loops or runs longer indicates a
	// corrupted ring rather than a slow driver.
	for steps := 0; ; steps++ {
		if steps >= int(q.Size) {
			return false, fmt.Errorf("%w: chain exceeded queue size %d", bherrors.RingCorrupt, q.Size)
		}

		addr := q.Desc.Addr(descIdx)
		length := q.Desc.Len(descIdx)
		buf, err := e.resolve(addr, length)
		if err != nil {
			return false, err
		}

		flags := q.Desc.Flags(descIdx)
		if flags&DescFNext != 0 {
			if bytesWritten < q.HeaderSize {
				e.handler.ProcessStart(queueIdx, buf)
			} else {
				e.handler.ProcessData(queueIdx, buf)
			}
			bytesWritten += uint64(length)
			descIdx = q.Desc.Next(descIdx)
			continue
		}

		e.handler.ProcessComplete(queueIdx, buf)
		bytesWritten += uint64(length)
		break
	}

	usedIdx := q.Used.Idx()
	q.Used.SetEntry(usedIdx, uint32(firstIdx), uint32(bytesWritten))
	q.Used.SetIdx(usedIdx + 1)

	q.processed++
	return true, nil
}

// resolve turns an absolute guest address into a slice of e.mem,
// bounds-checked against the DRAM view's length.
func (e *Engine) resolve(addr uint64, length uint32) ([]byte, error) {
	if addr < e.startAddr {
		return nil, fmt.Errorf("%w: addr %#x below cluster DRAM base", bherrors.RingCorrupt, addr)
	}
	rel := addr - e.startAddr
	end := rel + uint64(length)
	if end > uint64(len(e.mem)) || end < rel {
		return nil, fmt.Errorf("%w: addr %#x len %d exceeds cluster DRAM", bherrors.RingCorrupt, addr, length)
	}
	return e.mem[rel:end], nil
}

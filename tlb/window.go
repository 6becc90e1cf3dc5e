// Package tlb manages the host's view of a cluster's TLB windows: a
// fixed-size mapped region of host virtual memory that the kernel
// driver retargets, via ioctl, at an arbitrary (x, y, addr) NOC
// coordinate. Devices never touch the driver directly; they acquire a
// Window from a Pool, do their reads/writes, and release it.
package tlb

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"example.com/bh-console/ddi"
	"example.com/bh-console/internal/bherrors"
)

// Size classes a Window may be allocated at. These match the two
// instantiations of the original TlbWindow template: a 2MB window used
// for everything but the cluster's own DRAM-sized mailbox regions, and
// a 4GB window used to cover an entire cluster's address space in one
// mapping.
const (
	Size2M = 1 << 21
	Size4G = 1 << 32
)

// Coord is a NOC tile coordinate, the (x_end, y_end) pair the driver's
// TLB config programs the window to route through.
type Coord struct {
	X uint16
	Y uint16
}

// Window is one allocated, mapped TLB entry currently pointed at some
// (Coord, base address). Word accesses within it use atomic load/store
// in place of C's volatile qualifier, since the backing memory is
// updated asynchronously by the device side.
type Window struct {
	dev  *ddi.Device
	id   uint32
	size int
	mem  []byte

	// offset is the low bits of the last address this window was
	// configured against, i.e. how far into mem the target address
	// actually starts (the config rounds addr down to a window-size
	// boundary).
	offset uint64
}

// alloc reserves and maps a new window of the given size class. It
// does not configure it yet; callers must call retarget before use.
func alloc(dev *ddi.Device, size int) (*Window, error) {
	a, err := dev.AllocateTLB(uint64(size))
	if err != nil {
		return nil, err
	}
	mem, err := dev.Mmap(a.MmapOffsetUC, size)
	if err != nil {
		_ = dev.FreeTLB(a.ID)
		return nil, err
	}
	return &Window{dev: dev, id: a.ID, size: size, mem: mem}, nil
}

// retarget reprograms an already-allocated window to a new coordinate
// and address, rounding addr down to the window's alignment.
func (w *Window) retarget(coord Coord, addr uint64) error {
	mask := uint64(w.size - 1)
	base := addr &^ mask
	if w.dev == nil {
		// Test-only windows have no backing device to reprogram.
		w.offset = addr & mask
		return nil
	}
	if err := w.dev.ConfigureTLB(w.id, ddi.TLBConfig{
		Addr: base,
		XEnd: coord.X,
		YEnd: coord.Y,
	}); err != nil {
		return err
	}
	w.offset = addr & mask
	return nil
}

// free tears the window down: unmap first, then release the TLB entry,
// mirroring the original's destructor ordering.
func (w *Window) free() error {
	if err := ddi.Munmap(w.mem); err != nil {
		return err
	}
	return w.dev.FreeTLB(w.id)
}

// checkBounds validates that a width-byte access at the window-relative
// address addr (i.e. relative to the last retargeted address, not the
// window base) fits inside the window and is naturally aligned.
func (w *Window) checkBounds(addr uint64, width uint64) error {
	if addr%width != 0 {
		return fmt.Errorf("%w: addr %#x width %d", bherrors.Misaligned, addr, width)
	}
	end := w.offset + addr + width
	if end > uint64(w.size) {
		return fmt.Errorf("%w: addr %#x width %d window size %d", bherrors.OutOfBounds, addr, width, w.size)
	}
	return nil
}

// Read32 reads a 32-bit word at addr, relative to the window's current
// target address.
func (w *Window) Read32(addr uint64) (uint32, error) {
	if err := w.checkBounds(addr, 4); err != nil {
		return 0, err
	}
	p := (*uint32)(atomicPointer(w.mem, w.offset+addr))
	return atomic.LoadUint32(p), nil
}

// Write32 writes a 32-bit word at addr, relative to the window's
// current target address.
func (w *Window) Write32(addr uint64, value uint32) error {
	if err := w.checkBounds(addr, 4); err != nil {
		return err
	}
	p := (*uint32)(atomicPointer(w.mem, w.offset+addr))
	atomic.StoreUint32(p, value)
	return nil
}

// ReadBytes copies a span out of the window without the alignment
// requirement Read32 imposes; used for bulk DMA-like copies (block and
// network device payloads).
func (w *Window) ReadBytes(addr uint64, dst []byte) error {
	end := w.offset + addr + uint64(len(dst))
	if end > uint64(w.size) {
		return fmt.Errorf("%w: addr %#x len %d window size %d", bherrors.OutOfBounds, addr, len(dst), w.size)
	}
	copy(dst, w.mem[w.offset+addr:end])
	return nil
}

// WriteBytes is the inverse of ReadBytes.
func (w *Window) WriteBytes(addr uint64, src []byte) error {
	end := w.offset + addr + uint64(len(src))
	if end > uint64(w.size) {
		return fmt.Errorf("%w: addr %#x len %d window size %d", bherrors.OutOfBounds, addr, len(src), w.size)
	}
	copy(w.mem[w.offset+addr:end], src)
	return nil
}

// Base returns the raw mapped slice starting at the window's current
// target address, for callers (the console ring and virtqueue engine)
// that need to walk a structure with mixed field widths rather than a
// single Read32/Write32 call.
func (w *Window) Base() []byte {
	return w.mem[w.offset:]
}

func atomicPointer(mem []byte, off uint64) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

// little-endian helpers for the few places (descriptor rings) that read
// a width wider than what sync/atomic covers directly and don't need
// the atomicity, only the layout.
func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func le32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func le64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

func putLe16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func putLe32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func putLe64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

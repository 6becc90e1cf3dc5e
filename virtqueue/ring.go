// Package virtqueue implements the host side of a split virtqueue: the
// descriptor table, available ring, and used ring that a virtio-mmio
// device and its guest driver use to exchange buffers, plus the
// processing loop that walks descriptor chains and dispatches them to
// a device-specific handler.
package virtqueue

import (
	"encoding/binary"

	"example.com/bh-console/cluster"
)

// Descriptor flags, from the virtio 1.0 split virtqueue layout.
const (
	DescFNext  = 1 << 0
	DescFWrite = 1 << 1
)

const descSize = 16 // addr(8) + len(4) + flags(2) + next(2)

// DescriptorTable is a view over a guest-resident array of vring_desc
// entries: addr/len/flags/next, 16 bytes each.
type DescriptorTable struct {
	mem  []byte
	base uint64
	size uint16
}

// NewDescriptorTable wraps the descriptor table at byte offset base
// within mem (mem is the cluster's full DRAM view; base is already
// guest-address-relative, i.e. addr - startAddress).
func NewDescriptorTable(mem []byte, base uint64, size uint16) *DescriptorTable {
	return &DescriptorTable{mem: mem, base: base, size: size}
}

func (t *DescriptorTable) entryOffset(idx uint16) uint64 {
	return t.base + uint64(idx%t.size)*descSize
}

// Addr returns a descriptor's buffer address (absolute guest address).
func (t *DescriptorTable) Addr(idx uint16) uint64 {
	off := t.entryOffset(idx)
	return binary.LittleEndian.Uint64(t.mem[off:])
}

// Len returns a descriptor's buffer length.
func (t *DescriptorTable) Len(idx uint16) uint32 {
	off := t.entryOffset(idx) + 8
	return binary.LittleEndian.Uint32(t.mem[off:])
}

// Flags returns a descriptor's flags word.
func (t *DescriptorTable) Flags(idx uint16) uint16 {
	off := t.entryOffset(idx) + 12
	return binary.LittleEndian.Uint16(t.mem[off:])
}

// Next returns the index of the next descriptor in this chain; only
// meaningful when Flags(idx)&DescFNext is set.
func (t *DescriptorTable) Next(idx uint16) uint16 {
	off := t.entryOffset(idx) + 14
	return binary.LittleEndian.Uint16(t.mem[off:])
}

// AvailRing is a view over the guest-written available ring: the
// driver's queue of descriptor-chain head indices waiting to be
// processed.
type AvailRing struct {
	mem  []byte
	base uint64
	size uint16
}

// NewAvailRing wraps the available ring at byte offset base.
func NewAvailRing(mem []byte, base uint64, size uint16) *AvailRing {
	return &AvailRing{mem: mem, base: base, size: size}
}

// Idx reads the ring's head index with acquire semantics: this is the
// field the guest bumps every time it makes a new chain available.
func (a *AvailRing) Idx() uint16 {
	return uint16(loadFenced16(a.mem, a.base+2))
}

// Ring returns the descriptor-chain head index stored at ring slot i.
func (a *AvailRing) Ring(i uint16) uint16 {
	off := a.base + 4 + uint64(i%a.size)*2
	return binary.LittleEndian.Uint16(a.mem[off:])
}

// UsedRing is a view over the device-written used ring: where the
// device reports completed descriptor chains back to the driver.
type UsedRing struct {
	mem  []byte
	base uint64
	size uint16
}

// NewUsedRing wraps the used ring at byte offset base.
func NewUsedRing(mem []byte, base uint64, size uint16) *UsedRing {
	return &UsedRing{mem: mem, base: base, size: size}
}

// Idx reads the used ring's current head index.
func (u *UsedRing) Idx() uint16 {
	return uint16(loadFenced16(u.mem, u.base+2))
}

// SetIdx advances the used ring's head index with release semantics,
// publishing every entry write made before the call.
func (u *UsedRing) SetIdx(idx uint16) {
	storeFenced16(u.mem, u.base+2, idx)
}

// SetEntry writes a (descriptor id, bytes written) pair into used ring
// slot i. Callers must call SetIdx afterward to publish it.
func (u *UsedRing) SetEntry(i uint16, id uint32, length uint32) {
	off := u.base + 4 + uint64(i%u.size)*8
	binary.LittleEndian.PutUint32(u.mem[off:], id)
	binary.LittleEndian.PutUint32(u.mem[off+4:], length)
}

// loadFenced16/storeFenced16 give the 16-bit ring cursors the same
// acquire/release treatment cluster.LoadFenced/StoreFenced give 32-bit
// fields; virtio's idx fields are 16 bits, so we round-trip through a
// 32-bit atomic on a word-aligned read and mask down, rather than add a
// second atomic width to the shared helpers.
func loadFenced16(mem []byte, off uint64) uint16 {
	aligned := off &^ 3
	shift := (off - aligned) * 8
	word := cluster.LoadFenced(mem, aligned)
	return uint16(word >> shift)
}

func storeFenced16(mem []byte, off uint64, v uint16) {
	aligned := off &^ 3
	shift := (off - aligned) * 8
	word := cluster.LoadFenced(mem, aligned)
	word &^= 0xFFFF << shift
	word |= uint32(v) << shift
	cluster.StoreFenced(mem, aligned, word)
}

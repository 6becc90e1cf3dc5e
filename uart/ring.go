// Package uart implements the host side of the virtual UART: a pair of
// single-producer/single-consumer ring buffers mapped directly into a
// cluster's DRAM, through which the guest's OpenSBI console driver and
// this process exchange bytes without any device model in between.
package uart

import (
	"encoding/binary"

	"example.com/bh-console/cluster"
)

// Magic is the value the guest writes into a queues struct's first
// field once its virtual UART is initialized. Must match what OpenSBI
// uses on the guest side.
const Magic uint64 = 0x5649525455415254

// BufferSize is the capacity of each direction's ring, matching the
// guest's fixed 4KB tx/rx buffers.
const BufferSize = 0x1000

// Field byte offsets within the queues struct, laid out exactly as the
// guest-side packed, 4-byte-aligned struct: an 8-byte magic, then the
// tx and rx byte buffers, then four 4-byte cursors.
const (
	offMagic  = 0
	offTxBuf  = offMagic + 8
	offRxBuf  = offTxBuf + BufferSize
	offTxHead = offRxBuf + BufferSize
	offTxTail = offTxHead + 4
	offRxHead = offTxTail + 4
	offRxTail = offRxHead + 4

	// StructSize is the total size of the mapped queues region.
	StructSize = offRxTail + 4
)

// Ring is a view over one guest-shared queues struct. It owns no
// memory; mem is the persistent TLB window byte slice the cluster
// facade handed back.
type Ring struct {
	mem []byte
}

// NewRing wraps a persistent window already positioned at a queues
// struct's base address.
func NewRing(mem []byte) *Ring {
	return &Ring{mem: mem[:StructSize]}
}

// OpenRing resolves uartBase (the guest-reported virtual UART base
// address) through the cluster and wraps it in a Ring.
func OpenRing(c *cluster.Cluster, uartBase uint64) (*Ring, error) {
	mem, err := c.PersistentWindow(uartBase)
	if err != nil {
		return nil, err
	}
	return NewRing(mem), nil
}

// MagicValid reports whether the guest-side magic word still matches.
// It's checked on every loop iteration: a cluster reset zeroes the
// region out from under an already-open Ring.
func (r *Ring) MagicValid() bool {
	return binary.LittleEndian.Uint64(r.mem[offMagic:]) == Magic
}

func (r *Ring) txHead() uint32    { return cluster.LoadFenced(r.mem, offTxHead) }
func (r *Ring) txTail() uint32    { return cluster.LoadFenced(r.mem, offTxTail) }
func (r *Ring) rxHead() uint32    { return cluster.LoadFenced(r.mem, offRxHead) }
func (r *Ring) rxTail() uint32    { return cluster.LoadFenced(r.mem, offRxTail) }
func (r *Ring) setRxHead(v uint32) { cluster.StoreFenced(r.mem, offRxHead, v) }
func (r *Ring) setTxTail(v uint32) { cluster.StoreFenced(r.mem, offTxTail, v) }

// CanPush reports whether there's room to push another byte to the
// guest (the rx ring, from the guest's perspective). The ring always
// leaves one slot empty to distinguish full from empty.
func (r *Ring) CanPush() bool {
	head := r.rxHead() % BufferSize
	tail := r.rxTail() % BufferSize
	return (head+1)%BufferSize != tail
}

// CanPop reports whether the guest has left a byte for us to read (the
// tx ring, from the guest's perspective).
func (r *Ring) CanPop() bool {
	return r.txHead()%BufferSize != r.txTail()%BufferSize
}

// PushByte writes one byte into the rx ring for the guest to consume.
// Callers must check CanPush first; PushByte does not block.
func (r *Ring) PushByte(b byte) {
	head := r.rxHead() % BufferSize
	r.mem[offRxBuf+head] = b
	r.setRxHead((r.rxHead() + 1) % BufferSize)
}

// PopByte reads one byte the guest left in the tx ring. Callers must
// check CanPop first; PopByte does not block.
func (r *Ring) PopByte() byte {
	tail := r.txTail() % BufferSize
	b := r.mem[offTxBuf+tail]
	r.setTxTail((r.txTail() + 1) % BufferSize)
	return b
}

// Package cluster is the host-side facade for one L2CPU cluster: it
// knows the cluster's fixed NOC coordinate and DRAM base address, and
// turns absolute or cluster-relative addresses into TLB window
// accesses. Every other package that needs to read or write cluster
// memory goes through a Cluster rather than the tlb package directly.
package cluster

import (
	"example.com/bh-console/ddi"
	"example.com/bh-console/tlb"
)

// Cluster is one L2CPU's host-side handle: an open device, the pool it
// draws TLB windows from, and this cluster's fixed topology entry.
type Cluster struct {
	dev  *ddi.Device
	pool *tlb.Pool
	id   identity
	idx  int

	// persistent holds every window handed out by PersistentWindow and
	// Memory, so Close can release them in acquisition order. The original
	// kept these alive in a vector tied to the Tile's lifetime; we do
	// the same, just explicitly rather than via destructor order.
	persistent []persistentWindow

	// memory caches the Memory() full-DRAM window so repeated callers
	// don't each acquire their own 4GB TLB entry.
	memory []byte
}

type persistentWindow struct {
	size int
	w    *tlb.Window
}

// Open attaches to the given device node and builds a Cluster for the
// given cluster index, backed by a fresh TLB pool.
func Open(devicePath string, idx int) (*Cluster, error) {
	id, err := lookupIdentity(idx)
	if err != nil {
		return nil, err
	}
	dev, err := ddi.Open(devicePath)
	if err != nil {
		return nil, err
	}
	return &Cluster{
		dev:  dev,
		pool: tlb.NewPool(dev),
		id:   id,
		idx:  idx,
	}, nil
}

// Index returns the cluster index this facade was opened for.
func (c *Cluster) Index() int { return c.idx }

// Coordinate returns the cluster's fixed NOC tile coordinate.
func (c *Cluster) Coordinate() Coordinate { return c.id.coord }

// StartAddress returns the guest-visible base address of this
// cluster's DRAM window, used to turn cluster-relative addresses into
// absolute ones.
func (c *Cluster) StartAddress() uint64 { return c.id.startAddr }

// MemorySize returns how much DRAM this cluster's L2CPU sees.
func (c *Cluster) MemorySize() uint64 { return c.id.memSize }

func (c *Cluster) coord() tlb.Coord {
	return tlb.Coord{X: c.id.coord.X, Y: c.id.coord.Y}
}

// DeviceInfo passes through the kernel driver's static vendor/device
// identification, used by the CLI's probe mode; it has no bearing on
// emulation itself.
func (c *Cluster) DeviceInfo() (ddi.DeviceInfo, error) {
	return c.dev.GetDeviceInfo()
}

// Read32 reads one word at an absolute cluster address through a
// scoped TLB window, mirroring Tile::read32.
func (c *Cluster) Read32(addr uint64) (uint32, error) {
	w, err := c.pool.Acquire(tlb.Size2M, c.coord(), addr)
	if err != nil {
		return 0, err
	}
	defer c.pool.Release(tlb.Size2M, w)
	return w.Read32(0)
}

// Write32 writes one word at an absolute cluster address through a
// scoped TLB window, mirroring Tile::write32.
func (c *Cluster) Write32(addr uint64, value uint32) error {
	w, err := c.pool.Acquire(tlb.Size2M, c.coord(), addr)
	if err != nil {
		return err
	}
	defer c.pool.Release(tlb.Size2M, w)
	return w.Write32(0, value)
}

// Read32Offset reads a word at an address relative to this cluster's
// DRAM start, mirroring L2CPU::read32_offset.
func (c *Cluster) Read32Offset(offset uint64) (uint32, error) {
	return c.Read32(c.id.startAddr + offset)
}

// Write32Offset writes a word at an address relative to this
// cluster's DRAM start, mirroring L2CPU::write32_offset.
func (c *Cluster) Write32Offset(offset uint64, value uint32) error {
	return c.Write32(c.id.startAddr+offset, value)
}

// PersistentWindow acquires a 2MB TLB window at an absolute address and
// keeps it checked out for the Cluster's lifetime, returning the raw
// mapped bytes starting at addr. Mirrors
// Tile::get_persistent_2M_tlb_window: callers that need to repeatedly
// walk a structure (the console ring, a virtqueue's descriptor table)
// get one window instead of paying for an Acquire/Release pair on every
// access.
func (c *Cluster) PersistentWindow(addr uint64) ([]byte, error) {
	w, err := c.pool.Acquire(tlb.Size2M, c.coord(), addr)
	if err != nil {
		return nil, err
	}
	c.persistent = append(c.persistent, persistentWindow{size: tlb.Size2M, w: w})
	return w.Base(), nil
}

// PersistentWindowOffset is PersistentWindow's cluster-relative
// counterpart, mirroring L2CPU::get_persistent_2M_tlb_window_offset.
func (c *Cluster) PersistentWindowOffset(offset uint64) ([]byte, error) {
	return c.PersistentWindow(c.id.startAddr + offset)
}

// Memory maps this cluster's entire DRAM as one large persistent TLB
// window (the 4GB size class), and returns the guest-physical-address-0
// view of it: mem[i] is the byte at StartAddress()+i. Device models use
// this to resolve virtqueue descriptor addresses, which are absolute
// guest addresses rather than offsets relative to any one window.
func (c *Cluster) Memory() ([]byte, error) {
	if c.memory != nil {
		return c.memory, nil
	}
	w, err := c.pool.Acquire(tlb.Size4G, c.coord(), c.id.startAddr)
	if err != nil {
		return nil, err
	}
	c.persistent = append(c.persistent, persistentWindow{size: tlb.Size4G, w: w})
	mem := w.Base()
	if uint64(len(mem)) > c.id.memSize {
		mem = mem[:c.id.memSize]
	}
	c.memory = mem
	return mem, nil
}

// Close releases every persistent window this cluster handed out, then
// closes the TLB pool and the underlying device handle.
func (c *Cluster) Close() error {
	for _, pw := range c.persistent {
		c.pool.Release(pw.size, pw.w)
	}
	c.persistent = nil

	if err := c.pool.Close(); err != nil {
		_ = c.dev.Close()
		return err
	}
	return c.dev.Close()
}

// Package mmio implements the guest-visible virtio-mmio register
// transport: the 2MiB aperture a virtio device exposes for
// configuration and feature negotiation (as opposed to the virtqueue
// package, which handles the actual data rings), and the PLIC
// interrupt pulse devices use to notify the guest that a queue needs
// attention.
package mmio

import "example.com/bh-console/cluster"

// Register byte offsets within the 2MiB virtio-mmio aperture, matching
// the standard virtio-mmio layout plus two custom fields (sw_impl,
// generation) used for the host/guest hand-off handshake described in
// transport.go.
const (
	regMagic           = 0x000
	regVersion         = 0x004
	regDeviceID        = 0x008
	regDeviceFeatures  = 0x010
	regDeviceFeatSel   = 0x014
	regSwImpl          = 0x018 // custom: always 1
	regGeneration      = 0x01C // custom: hand-off counter
	regDriverFeatures  = 0x020
	regDriverFeatSel   = 0x024
	regQueueSel        = 0x030
	regQueueNumMax     = 0x034
	regQueueReady      = 0x044
	regQueueNotify     = 0x050
	regInterruptStatus = 0x060
	regInterruptAck    = 0x064
	regStatus          = 0x070
	regQueueDescLo     = 0x080
	regQueueDescHi     = 0x084
	regQueueAvailLo    = 0x090
	regQueueAvailHi    = 0x094
	regQueueUsedLo     = 0x0A0
	regQueueUsedHi     = 0x0A4
	regDeviceConfig    = 0x100
)

// MagicValue is the fixed value guests probe for at regMagic to
// recognize this aperture as a virtio-mmio device ("virt" in ASCII,
// same constant the upstream virtio-mmio spec defines).
const MagicValue = 0x74726976

const ApertureSize = 2 << 20

// QueueSize is the fixed legacy virtqueue size every device in this
// build publishes as its queue_num_max: large enough for any request
// chain the guest's virtio-blk/virtio-net drivers build, small enough
// to keep the descriptor table inside one TLB window's reach.
const QueueSize = 256

// Status register bits, from the virtio spec.
const (
	StatusAcknowledge = 1 << 0
	StatusDriver      = 1 << 1
	StatusDriverOK    = 1 << 2
	StatusFeaturesOK  = 1 << 3
	StatusNeedsReset  = 1 << 6
	StatusFailed      = 1 << 7
)

// Registers is a view over one device's mmio aperture, backed by a
// persistent TLB window.
type Registers struct {
	mem []byte
}

// NewRegisters wraps an aperture-sized byte slice and initializes the
// fixed identification fields a guest driver reads first.
func NewRegisters(mem []byte, deviceID uint32) *Registers {
	r := &Registers{mem: mem[:ApertureSize]}
	cluster.StoreFenced(r.mem, regMagic, MagicValue)
	cluster.StoreFenced(r.mem, regVersion, 2)
	cluster.StoreFenced(r.mem, regDeviceID, deviceID)
	cluster.StoreFenced(r.mem, regSwImpl, 1)
	return r
}

func (r *Registers) load(off int) uint32     { return cluster.LoadFenced(r.mem, uint64(off)) }
func (r *Registers) store(off int, v uint32) { cluster.StoreFenced(r.mem, uint64(off), v) }

// Generation returns the current hand-off counter value.
func (r *Registers) Generation() uint32 { return r.load(regGeneration) }

// Status returns the guest-written device status bits.
func (r *Registers) Status() uint32 { return r.load(regStatus) }

// DeviceFeaturesSel / DriverFeaturesSel select which 32-bit slice of
// the 64-bit feature bitmap the next DeviceFeatures/DriverFeatures
// access refers to.
func (r *Registers) DeviceFeaturesSel() uint32 { return r.load(regDeviceFeatSel) }
func (r *Registers) DriverFeaturesSel() uint32 { return r.load(regDriverFeatSel) }

// PublishDeviceFeatures writes the device's offered feature bits for
// the currently selected 32-bit slice.
func (r *Registers) PublishDeviceFeatures(bits uint32) { r.store(regDeviceFeatures, bits) }

// DriverFeatures reads back the bits the driver selected for the
// currently selected 32-bit slice.
func (r *Registers) DriverFeatures() uint32 { return r.load(regDriverFeatures) }

// QueueSel / QueueNotify are read by the transport during queue
// programming and data-path notification respectively.
func (r *Registers) QueueSel() uint32    { return r.load(regQueueSel) }
func (r *Registers) QueueNotify() uint32 { return r.load(regQueueNotify) }

// SetQueueNumMax publishes the maximum queue size this device
// supports, for the currently selected queue.
func (r *Registers) SetQueueNumMax(n uint32) { r.store(regQueueNumMax, n) }

// QueueAddresses reads back the three ring addresses the driver
// programmed for the currently selected queue, each a 64-bit guest
// address split little-endian across two 32-bit registers.
func (r *Registers) QueueAddresses() (desc, avail, used uint64) {
	desc = uint64(r.load(regQueueDescLo)) | uint64(r.load(regQueueDescHi))<<32
	avail = uint64(r.load(regQueueAvailLo)) | uint64(r.load(regQueueAvailHi))<<32
	used = uint64(r.load(regQueueUsedLo)) | uint64(r.load(regQueueUsedHi))<<32
	return desc, avail, used
}

// InterruptStatus / SetInterruptStatus manage the level-style interrupt
// status bit a virtio-mmio driver checks after taking an interrupt.
func (r *Registers) InterruptStatus() uint32        { return r.load(regInterruptStatus) }
func (r *Registers) SetInterruptStatus(bits uint32) { r.store(regInterruptStatus, bits) }
func (r *Registers) InterruptAck() uint32           { return r.load(regInterruptAck) }

// ConfigSpace returns the device-specific configuration area starting
// at regDeviceConfig, sized to whatever remains of the aperture.
func (r *Registers) ConfigSpace() []byte {
	return r.mem[regDeviceConfig:]
}

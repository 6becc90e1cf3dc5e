// Package devices implements the emulated virtio device models: a
// block device backed by a disk image file, and a network device
// backed by a host TAP interface. Both drive a virtqueue.Engine and
// publish their features/config through an mmio.Registers aperture;
// this package only implements the per-queue data-path logic.
package devices

// NetInterface is the host-side packet transport a network device
// model reads from and writes to. internal/netstack's TAP adapter is
// the only implementation, but the interface keeps the device model
// testable against a fake.
type NetInterface interface {
	ReadPacket() ([]byte, error)
	WritePacket(packet []byte) (int, error)
	Close() error
}

package ddi

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"example.com/bh-console/internal/bherrors"
)

// Device is an open handle to the tenstorrent character device. All
// operations against it are safe to call from a single goroutine;
// callers that need concurrent TLB allocation must serialize at a
// higher level (see tlb.Pool).
type Device struct {
	f *os.File
}

// Open opens the given device node, e.g. "/dev/tenstorrent/0".
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Device{f: f}, nil
}

// Close closes the underlying device node.
func (d *Device) Close() error {
	return d.f.Close()
}

// Fd returns the raw descriptor, for callers that need it directly
// (mmap offsets are relative to this fd).
func (d *Device) Fd() uintptr {
	return d.f.Fd()
}

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.Fd(), req, uintptr(arg))
	if errno != 0 {
		return fmt.Errorf("%w: %v", bherrors.IoctlFailed, errno)
	}
	return nil
}

// GetDeviceInfo reads back the vendor/device id and PCI location the
// driver bound to. Used by the --probe CLI mode to report what's
// attached without doing anything stateful.
func (d *Device) GetDeviceInfo() (DeviceInfo, error) {
	var req deviceInfoIoctl
	if err := d.ioctl(ioctlGetDeviceInfo, unsafe.Pointer(&req)); err != nil {
		return DeviceInfo{}, err
	}
	return req.Out, nil
}

// QueryMappings lists the BAR-backed resources the driver exposes.
// Nothing in the emulator calls it, --probe included: the TLB windows
// are the only mapping path devices actually use.
func (d *Device) QueryMappings() ([]Mapping, error) {
	var req queryMappingsIoctl
	if err := d.ioctl(ioctlQueryMappings, unsafe.Pointer(&req)); err != nil {
		return nil, err
	}
	n := req.Count
	if n > maxMappings {
		n = maxMappings
	}
	out := make([]Mapping, n)
	copy(out, req.Mappings[:n])
	return out, nil
}

// AllocatedTLB is the result of AllocateTLB: an id the driver uses to
// track the reservation, plus the mmap offset to hand to unix.Mmap for
// the uncached and write-combined aliases of the window.
type AllocatedTLB struct {
	ID           uint32
	MmapOffsetUC int64
	MmapOffsetWC int64
}

// AllocateTLB reserves one hardware TLB entry of the given size class,
// without yet pointing it anywhere. Mirrors tlb.cpp's constructor,
// first step: ALLOCATE_TLB.
func (d *Device) AllocateTLB(size uint64) (AllocatedTLB, error) {
	var req allocateTLBIoctl
	req.In.Size = size
	if err := d.ioctl(ioctlAllocateTLB, unsafe.Pointer(&req)); err != nil {
		return AllocatedTLB{}, err
	}
	return AllocatedTLB{
		ID:           req.Out.ID,
		MmapOffsetUC: int64(req.Out.MmapOffsetUC),
		MmapOffsetWC: int64(req.Out.MmapOffsetWC),
	}, nil
}

// ConfigureTLB points an already-allocated TLB entry at a physical
// address and NOC coordinate. Mirrors tlb.cpp's constructor, second
// step: CONFIGURE_TLB, run every time the window is retargeted.
func (d *Device) ConfigureTLB(id uint32, cfg TLBConfig) error {
	var req configureTLBIoctl
	req.In.ID = id
	req.In.Config = cfg
	return d.ioctl(ioctlConfigureTLB, unsafe.Pointer(&req))
}

// FreeTLB releases a previously allocated TLB entry. Mirrors
// tlb.cpp's destructor: munmap happens first, at the caller, then
// FREE_TLB.
func (d *Device) FreeTLB(id uint32) error {
	var req freeTLBIoctl
	req.In.ID = id
	return d.ioctl(ioctlFreeTLB, unsafe.Pointer(&req))
}

// PinPages pins a host virtual range for DMA and returns the IOVA the
// device should use to reach it. No device model calls it; block and
// network payloads move through TLB windows only.
func (d *Device) PinPages(vaddr uintptr, size uint64) (iova uint64, err error) {
	var req pinPagesIoctl
	req.In.Vaddr = uint64(vaddr)
	req.In.Size = size
	if err := d.ioctl(ioctlPinPages, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return req.Out.Iova, nil
}

// Mmap maps an allocated TLB's uncached alias into this process at the
// given size. offset must be one of AllocatedTLB's MmapOffset fields.
func (d *Device) Mmap(offset int64, size int) ([]byte, error) {
	b, err := unix.Mmap(int(d.Fd()), offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap offset %#x size %d: %w", offset, size, err)
	}
	return b, nil
}

// Munmap unmaps a slice previously returned by Mmap.
func Munmap(b []byte) error {
	return unix.Munmap(b)
}

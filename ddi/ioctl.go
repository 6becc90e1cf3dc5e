// Package ddi is a thin wrapper over the tenstorrent kernel driver's
// ioctl surface: allocate/configure/free a TLB, pin pages for DMA, and
// read back static device info. It is stateless aside from an open file
// handle.
package ddi

import "unsafe"

// ioctl request-number encoding, following the standard Linux _IOC
// convention (direction/size/type/number packed into a uintptr). The
// kernel driver's real header assigns these from its own magic byte.
const (
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	tenstorrentMagic = 0xFA
)

func ioc(dir, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (tenstorrentMagic << iocTypeShift) | (nr << iocNrShift) | (size << iocSizeShift)
}

func iowr(nr uintptr, size uintptr) uintptr { return ioc(iocWrite|iocRead, nr, size) }
func ior(nr uintptr, size uintptr) uintptr  { return ioc(iocRead, nr, size) }

// DeviceInfo mirrors GET_DEVICE_INFO's output: vendor/device id and the
// PCI location the driver attached to.
type DeviceInfo struct {
	VendorID uint16
	DeviceID uint16
	Bus      uint8
	Dev      uint8
	Fn       uint8
	_        uint8
}

// Mapping is one (resource_id, base, size) tuple as returned by
// QUERY_MAPPINGS.
type Mapping struct {
	ResourceID uint32
	_          uint32
	Base       uint64
	Size       uint64
}

const maxMappings = 8

type queryMappingsIoctl struct {
	Count    uint32
	_        uint32
	Mappings [maxMappings]Mapping
}

type deviceInfoIoctl struct {
	Out DeviceInfo
}

// TLBConfig is passed to ConfigureTLB: the aligned target address plus
// the NOC routing coordinates and optional ordering/multicast fields.
type TLBConfig struct {
	Addr      uint64
	XEnd      uint16
	YEnd      uint16
	Ordering  uint8
	Multicast uint8
	_         [2]byte
}

type allocateTLBIoctl struct {
	In struct {
		Size uint64
	}
	Out struct {
		ID           uint32
		_            uint32
		MmapOffsetUC uint64
		MmapOffsetWC uint64
	}
}

type configureTLBIoctl struct {
	In struct {
		ID     uint32
		_      uint32
		Config TLBConfig
	}
}

type freeTLBIoctl struct {
	In struct {
		ID uint32
		_  uint32
	}
}

type pinPagesIoctl struct {
	In struct {
		Vaddr uint64
		Size  uint64
	}
	Out struct {
		Iova uint64
	}
}

// Ioctl request numbers. Layouts are the fixed-size structs declared
// above; each wrapper in driver.go builds one on the stack and passes
// its address to the syscall.
var (
	ioctlGetDeviceInfo = ior(0x0, unsafe.Sizeof(deviceInfoIoctl{}))
	ioctlQueryMappings = iowr(0x1, unsafe.Sizeof(queryMappingsIoctl{}))
	ioctlAllocateTLB   = iowr(0x2, unsafe.Sizeof(allocateTLBIoctl{}))
	ioctlConfigureTLB  = iowr(0x3, unsafe.Sizeof(configureTLBIoctl{}))
	ioctlFreeTLB       = iowr(0x4, unsafe.Sizeof(freeTLBIoctl{}))
	ioctlPinPages      = iowr(0x5, unsafe.Sizeof(pinPagesIoctl{}))
)

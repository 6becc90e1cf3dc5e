package devices

import (
	"encoding/binary"
	"fmt"
	"os"

	"example.com/bh-console/internal/bherrors"
)

// Virtio block request types, from the virtio spec's virtio_blk_outhdr.
const (
	BlkTypeIn  = 0
	BlkTypeOut = 1
)

const sectorSize = 512

// BlockHeaderSize is the size of the virtio_blk_outhdr the guest writes
// as the first descriptor of every request chain: type, reserved,
// sector, 16 bytes total.
const BlockHeaderSize = 16

// Block implements virtqueue.Handler for a single-queue virtio block
// device backed by a disk image file opened read/write.
type Block struct {
	f    *os.File
	data []byte // memory-mapped view of f, one-to-one with the backing file

	reqType uint32
	sector  uint64
}

// NewBlock opens path and memory-maps it as the device's backing
// store. The image's length determines the device's reported capacity.
func NewBlock(path string) (*Block, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open disk image %s: %v", bherrors.BackingFileIO, path, err)
	}
	data, err := mmapFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: mmap disk image %s: %v", bherrors.BackingFileIO, path, err)
	}
	return &Block{f: f, data: data}, nil
}

// Capacity returns the device's size in 512-byte sectors, for
// publishing into the virtio_blk_config capacity field.
func (b *Block) Capacity() uint64 {
	return uint64(len(b.data)+sectorSize-1) / sectorSize
}

// Close unmaps and closes the backing file.
func (b *Block) Close() error {
	if err := munmapFile(b.data); err != nil {
		b.f.Close()
		return err
	}
	return b.f.Close()
}

// ProcessStart captures the request header (type + sector) from the
// chain's first descriptor.
func (b *Block) ProcessStart(queueIdx int, buf []byte) {
	if len(buf) < BlockHeaderSize {
		return
	}
	b.reqType = binary.LittleEndian.Uint32(buf[0:4])
	b.sector = binary.LittleEndian.Uint64(buf[8:16])
}

// ProcessData copies between the guest buffer and the backing file at
// the sector captured by ProcessStart, per the request type.
//
// The guest's block driver is known to coalesce a burst of writes and
// deliver them in one stalled-then-released batch; when that happens
// this call simply has more backlog to work through; there is no
// separate queuing on this side.
func (b *Block) ProcessData(queueIdx int, buf []byte) {
	off := b.sector * sectorSize
	end := off + uint64(len(buf))
	if end > uint64(len(b.data)) {
		return
	}
	switch b.reqType {
	case BlkTypeIn:
		copy(buf, b.data[off:end])
	case BlkTypeOut:
		copy(b.data[off:end], buf)
	default:
		// Unimplemented request type (e.g. FLUSH, GET_ID); the status
		// byte written in ProcessComplete is the only feedback the
		// guest gets for it.
	}
}

// ProcessComplete writes the single status byte the guest's block
// driver checks after a request.
func (b *Block) ProcessComplete(queueIdx int, buf []byte) {
	if len(buf) == 0 {
		return
	}
	buf[0] = 0 // VIRTIO_BLK_S_OK
}

// HasData is always true: a block request chain is fully available as
// soon as the driver makes it available, unlike a network device that
// waits on external packet arrival.
func (b *Block) HasData(queueIdx int) bool { return true }

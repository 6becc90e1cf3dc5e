package devices

import (
	"encoding/binary"
	"os"
	"testing"
)

func newTestBlockImage(t *testing.T, size int) *Block {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "disk-*.img")
	if err != nil {
		t.Fatalf("create temp image: %v", err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	f.Close()

	b, err := NewBlock(f.Name())
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func header(reqType uint32, sector uint64) []byte {
	buf := make([]byte, BlockHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], reqType)
	binary.LittleEndian.PutUint64(buf[8:16], sector)
	return buf
}

func TestBlockWriteThenRead(t *testing.T) {
	b := newTestBlockImage(t, 4*sectorSize)

	payload := make([]byte, sectorSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	b.ProcessStart(0, header(BlkTypeOut, 1))
	b.ProcessData(0, payload)
	status := make([]byte, 1)
	b.ProcessComplete(0, status)
	if status[0] != 0 {
		t.Fatalf("status byte = %d, want 0", status[0])
	}

	readBuf := make([]byte, sectorSize)
	b.ProcessStart(0, header(BlkTypeIn, 1))
	b.ProcessData(0, readBuf)

	for i := range payload {
		if readBuf[i] != payload[i] {
			t.Fatalf("byte %d = %d, want %d", i, readBuf[i], payload[i])
		}
	}
}

func TestBlockCapacity(t *testing.T) {
	b := newTestBlockImage(t, 10*sectorSize)
	if got, want := b.Capacity(), uint64(10); got != want {
		t.Fatalf("Capacity() = %d, want %d", got, want)
	}
}

func TestBlockAlwaysHasData(t *testing.T) {
	b := newTestBlockImage(t, sectorSize)
	if !b.HasData(0) {
		t.Fatal("block device should always report HasData")
	}
}

package virtqueue

import (
	"encoding/binary"
	"errors"
	"testing"

	"example.com/bh-console/internal/bherrors"
)

const testQueueSize = 4

// layout within the fake DRAM: descriptor table, then avail, then
// used, then a small data area for buffers.
const (
	descBase  = 0
	availBase = descBase + testQueueSize*descSize
	usedBase  = availBase + 4 + testQueueSize*2
	dataBase  = usedBase + 4 + testQueueSize*8
	memSize   = dataBase + 256
)

type recordingHandler struct {
	starts, datas, completes [][]byte
	hasData                  bool
}

func (h *recordingHandler) ProcessStart(queueIdx int, buf []byte) {
	h.starts = append(h.starts, append([]byte(nil), buf...))
}
func (h *recordingHandler) ProcessData(queueIdx int, buf []byte) {
	h.datas = append(h.datas, append([]byte(nil), buf...))
}
func (h *recordingHandler) ProcessComplete(queueIdx int, buf []byte) {
	h.completes = append(h.completes, append([]byte(nil), buf...))
	buf[0] = 0 // status ok, matching block device convention
}
func (h *recordingHandler) HasData(queueIdx int) bool { return h.hasData }

func setupTestQueue(t *testing.T) ([]byte, *Queue) {
	t.Helper()
	mem := make([]byte, memSize)

	desc := NewDescriptorTable(mem, descBase, testQueueSize)
	avail := NewAvailRing(mem, availBase, testQueueSize)
	used := NewUsedRing(mem, usedBase, testQueueSize)

	// Build a 2-descriptor chain: header (8 bytes) + status (1 byte).
	writeDesc(mem, 0, dataBase, 8, DescFNext, 1)
	writeDesc(mem, 1, dataBase+8, 1, 0, 0)

	// avail.ring[0] = 0 (first chain starts at descriptor 0); idx = 1.
	binary.LittleEndian.PutUint16(mem[availBase+4:], 0)
	binary.LittleEndian.PutUint16(mem[availBase+2:], 1)

	return mem, &Queue{Desc: desc, Avail: avail, Used: used, Size: testQueueSize, HeaderSize: 8}
}

func writeDesc(mem []byte, idx uint16, addr uint64, length uint32, flags uint16, next uint16) {
	off := uint64(idx) * descSize
	binary.LittleEndian.PutUint64(mem[off:], addr)
	binary.LittleEndian.PutUint32(mem[off+8:], length)
	binary.LittleEndian.PutUint16(mem[off+12:], flags)
	binary.LittleEndian.PutUint16(mem[off+14:], next)
}

func TestEngineProcessesOneChain(t *testing.T) {
	mem, q := setupTestQueue(t)
	h := &recordingHandler{hasData: true}
	e := NewEngine(mem, 0, []*Queue{q}, h)

	processed, err := e.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !processed {
		t.Fatal("expected Poll to report work done")
	}
	if len(h.starts) != 1 {
		t.Fatalf("starts = %d, want 1", len(h.starts))
	}
	if len(h.completes) != 1 {
		t.Fatalf("completes = %d, want 1", len(h.completes))
	}
	if q.Used.Idx() != 1 {
		t.Fatalf("used idx = %d, want 1", q.Used.Idx())
	}
}

func TestEngineSkipsQueueWithoutData(t *testing.T) {
	mem, q := setupTestQueue(t)
	h := &recordingHandler{hasData: false}
	e := NewEngine(mem, 0, []*Queue{q}, h)

	processed, err := e.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if processed {
		t.Fatal("expected no work when HasData is false")
	}
}

func TestEngineDetectsCorruptChain(t *testing.T) {
	mem, q := setupTestQueue(t)
	// Make every descriptor point to the next one, forever.
	for i := uint16(0); i < testQueueSize; i++ {
		writeDesc(mem, i, dataBase, 1, DescFNext, (i+1)%testQueueSize)
	}
	binary.LittleEndian.PutUint16(mem[availBase+4:], 0)
	binary.LittleEndian.PutUint16(mem[availBase+2:], 1)

	h := &recordingHandler{hasData: true}
	e := NewEngine(mem, 0, []*Queue{q}, h)

	_, err := e.Poll()
	if !errors.Is(err, bherrors.RingCorrupt) {
		t.Fatalf("expected RingCorrupt, got %v", err)
	}
}

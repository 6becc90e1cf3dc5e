package uart

import (
	"encoding/binary"
	"testing"
)

func newTestRing(t *testing.T) *Ring {
	t.Helper()
	mem := make([]byte, StructSize)
	binary.LittleEndian.PutUint64(mem[offMagic:], Magic)
	return NewRing(mem)
}

func TestMagicValid(t *testing.T) {
	r := newTestRing(t)
	if !r.MagicValid() {
		t.Fatal("expected magic to be valid after init")
	}
	binary.LittleEndian.PutUint64(r.mem[offMagic:], 0)
	if r.MagicValid() {
		t.Fatal("expected magic to be invalid after zeroing")
	}
}

func TestPushByteWritesRxRing(t *testing.T) {
	r := newTestRing(t)

	// The rx ring is what PushByte writes to; check the byte lands in
	// rx_buf[0] and rx_head advances. The guest-side pop is not
	// simulated here.
	if !r.CanPush() {
		t.Fatal("expected room to push into an empty ring")
	}
	r.PushByte('a')
	if r.rxHead() != 1 {
		t.Fatalf("rxHead = %d, want 1", r.rxHead())
	}
	if r.mem[offRxBuf] != 'a' {
		t.Fatalf("rx_buf[0] = %q, want 'a'", r.mem[offRxBuf])
	}
}

func TestCanPopReflectsGuestWrites(t *testing.T) {
	r := newTestRing(t)
	if r.CanPop() {
		t.Fatal("expected nothing to pop from an empty tx ring")
	}

	// Simulate the guest pushing a byte into tx: write the byte, bump
	// tx_head, exactly as the guest-side push_char would.
	r.mem[offTxBuf] = 'z'
	binary.LittleEndian.PutUint32(r.mem[offTxHead:], 1)

	if !r.CanPop() {
		t.Fatal("expected a byte to be poppable after guest tx push")
	}
	if got := r.PopByte(); got != 'z' {
		t.Fatalf("PopByte() = %q, want 'z'", got)
	}
	if r.CanPop() {
		t.Fatal("expected tx ring to be empty after pop")
	}
}

func TestRingFullLeavesOneSlotEmpty(t *testing.T) {
	r := newTestRing(t)
	binary.LittleEndian.PutUint32(r.mem[offRxHead:], BufferSize-1)
	binary.LittleEndian.PutUint32(r.mem[offRxTail:], 0)
	if r.CanPush() {
		t.Fatal("ring should report full with one slot reserved")
	}
}

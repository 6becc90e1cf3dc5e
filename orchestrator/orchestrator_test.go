package orchestrator

import "testing"

func TestInterruptBitMatchesOriginalNumberingScheme(t *testing.T) {
	cases := []struct {
		irq  int
		want uint
	}{
		{diskInterruptNumber, 28},
		{networkInterruptNumber, 27},
		{cloudInitInterruptNumber, 26},
	}
	for _, c := range cases {
		if got := uint(c.irq - 5); got != c.want {
			t.Fatalf("interrupt %d: bit = %d, want %d", c.irq, got, c.want)
		}
	}
}

func TestMMIOOffsetsAreDistinctAndPageAligned(t *testing.T) {
	offsets := []uint64{diskMMIOOffset, networkMMIOOffset, cloudInitMMIOOffset}
	seen := map[uint64]bool{}
	for _, off := range offsets {
		if off%4096 != 0 {
			t.Fatalf("offset %d is not page-aligned", off)
		}
		if seen[off] {
			t.Fatalf("offset %d used by more than one device", off)
		}
		seen[off] = true
	}
}

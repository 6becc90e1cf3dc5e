package cluster

import "fmt"

// Coordinate is this package's name for a NOC tile coordinate; kept
// distinct from tlb.Coord so cluster callers never need to import tlb
// just to build one.
type Coordinate struct {
	X uint16
	Y uint16
}

// identity describes one cluster index: which NOC tile its L2CPU sits
// behind, where its DRAM-mapped address space starts, and how large
// that space is. These values come from the hardware's fixed tile
// layout, not anything configurable at runtime.
type identity struct {
	coord     Coordinate
	startAddr uint64
	memSize   uint64
}

const (
	gib = 1 << 30
)

// tileMapping and startingAddressMapping are carried over verbatim from
// the reference topology tables: cluster index to NOC coordinate, and
// cluster index to the guest-visible base address of its DRAM window.
// The comment in the original about these being uncertain for anything
// but the default single-tile-per-cluster topology still applies; a
// multi-tile boot would need this table extended, not rewritten.
var identities = map[int]identity{
	0: {coord: Coordinate{X: 8, Y: 3}, startAddr: 0x4000_3000_0000, memSize: 2 * gib},
	1: {coord: Coordinate{X: 8, Y: 9}, startAddr: 0x4000_3000_0000, memSize: 2 * gib},
	2: {coord: Coordinate{X: 8, Y: 5}, startAddr: 0x4000_3000_0000, memSize: 2 * gib},
	3: {coord: Coordinate{X: 8, Y: 7}, startAddr: 0x4000_b000_0000, memSize: 4 * gib},
}

// lookupIdentity returns the fixed topology entry for a cluster index,
// or an error if idx names a cluster the hardware doesn't have.
func lookupIdentity(idx int) (identity, error) {
	id, ok := identities[idx]
	if !ok {
		return identity{}, fmt.Errorf("cluster index %d has no known topology entry", idx)
	}
	return id, nil
}

// NumClusters is how many L2CPU clusters the board exposes.
const NumClusters = 4

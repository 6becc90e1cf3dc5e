package mmio

import (
	"sync"

	"example.com/bh-console/cluster"
)

// InterruptGateway owns the single shared 32-bit PLIC interrupt
// register multiple device threads pulse concurrently. The register
// itself has no read-modify-write contract the guest relies on (the
// reference implementation notes the kernel's PLIC driver acks the
// interrupt before checking which bit was set, so nothing needs to
// persist); a gateway's Pulse sets its caller's bit, fences, then
// clears the whole register back to zero.
type InterruptGateway struct {
	mu  sync.Mutex
	reg []byte // 4-byte window onto the guest's interrupt register
}

// NewInterruptGateway wraps the 4-byte guest-shared interrupt register
// at the front of reg.
func NewInterruptGateway(reg []byte) *InterruptGateway {
	return &InterruptGateway{reg: reg[:4]}
}

// Pulse asserts the given bit number, publishes it with a memory
// fence, then clears the register back to zero. bit is the interrupt
// number already adjusted by the caller (the hardware reserves the
// first few interrupt numbers for other uses; see orchestrator.go for
// the -5 adjustment applied to raw interrupt numbers).
func (g *InterruptGateway) Pulse(bit uint) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cluster.StoreFenced(g.reg, 0, uint32(1)<<bit)
	cluster.StoreFenced(g.reg, 0, 0)
}

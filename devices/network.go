package devices

import (
	"sync"
)

// Network implements virtqueue.Handler for a two-queue virtio-net
// device: queue 0 is receive (device -> guest), queue 1 is transmit
// (guest -> device). Unlike the block device, whose chains are always
// ready to service, the receive queue must wait for the host
// NetInterface to actually have a packet; HasData reflects that.
type Network struct {
	iface NetInterface

	mu      sync.Mutex
	pending [][]byte // packets read from iface, waiting for guest rx buffers

	// txAccum collects descriptor fragments for the in-flight transmit
	// chain until ProcessComplete flushes them as one packet, mirroring
	// how a multi-descriptor guest buffer is reassembled before being
	// handed to the host interface.
	txAccum []byte
}

const (
	NetQueueRX = 0
	NetQueueTX = 1
)

// NewNetwork builds a network device over the given host interface and
// starts a goroutine that keeps pending filled with packets as they
// arrive, so HasData/ProcessData never block on the interface itself.
func NewNetwork(iface NetInterface, stop <-chan struct{}) *Network {
	n := &Network{iface: iface}
	go n.receiveLoop(stop)
	return n
}

func (n *Network) receiveLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		pkt, err := n.iface.ReadPacket()
		if err != nil {
			return
		}
		if len(pkt) == 0 {
			continue
		}
		n.mu.Lock()
		n.pending = append(n.pending, pkt)
		n.mu.Unlock()
	}
}

// HasData reports whether this queue currently has work: the transmit
// queue always does (the guest drives it), the receive queue only
// once a host packet has arrived.
func (n *Network) HasData(queueIdx int) bool {
	if queueIdx == NetQueueTX {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending) > 0
}

// ProcessStart on the rx queue copies the next pending packet into the
// guest-provided buffer. The network device has no separate header
// descriptor the way the block device does, so start, data and
// complete each copy the next pending packet into their descriptor; a
// single-descriptor chain reaches only ProcessComplete.
func (n *Network) ProcessStart(queueIdx int, buf []byte) {
	if queueIdx == NetQueueRX {
		n.fillRx(buf)
		return
	}
	n.txAccum = append(n.txAccum[:0], buf...)
}

// ProcessData continues whichever direction ProcessStart began.
func (n *Network) ProcessData(queueIdx int, buf []byte) {
	if queueIdx == NetQueueRX {
		n.fillRx(buf)
		return
	}
	n.txAccum = append(n.txAccum, buf...)
}

// ProcessComplete finishes the chain: for tx, the accumulated bytes are
// handed to the host interface as one packet.
func (n *Network) ProcessComplete(queueIdx int, buf []byte) {
	if queueIdx == NetQueueRX {
		n.fillRx(buf)
		return
	}
	n.txAccum = append(n.txAccum, buf...)
	if len(n.txAccum) > 0 {
		_, _ = n.iface.WritePacket(n.txAccum)
		n.txAccum = n.txAccum[:0]
	}
}

func (n *Network) fillRx(buf []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.pending) == 0 {
		return
	}
	pkt := n.pending[0]
	n.pending = n.pending[1:]
	copy(buf, pkt)
}

package mmio

import "fmt"

// State is one stage of the virtio-mmio setup handshake.
type State int

const (
	StateWaitDriver State = iota
	StateNegotiateFeatures
	StateProgramQueues
	StateWaitDriverOK
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateWaitDriver:
		return "WAIT_DRIVER"
	case StateNegotiateFeatures:
		return "NEGOTIATE_FEATURES"
	case StateProgramQueues:
		return "PROGRAM_QUEUES"
	case StateWaitDriverOK:
		return "WAIT_DRIVER_OK"
	case StateRunning:
		return "RUNNING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// QueueAddrSet is the three ring addresses the driver programs for one
// virtqueue during PROGRAM_QUEUES.
type QueueAddrSet struct {
	Desc, Avail, Used uint64
}

// DeviceFeatures is called by the transport during negotiation to ask
// the device model which feature bits it offers for a given 32-bit
// slice index (0 or 1, covering bits 0-31 and 32-63).
type DeviceFeatures func(sel uint32) uint32

// Transport drives one device's setup state machine against its
// Registers, using the generation counter as the sole hand-off signal:
// the device only acts on a register write once the guest has visibly
// advanced the counter, so the device never has to poll raw registers
// from deep inside another call stack.
type Transport struct {
	regs     *Registers
	features DeviceFeatures
	numQueues uint32

	state        State
	lastGen      uint32
	driverFeats  [2]uint32
	queuesLeft   uint32
	queueAddrs   []QueueAddrSet
}

// NewTransport builds a Transport for a device with the given number
// of virtqueues and feature-offering callback.
func NewTransport(regs *Registers, numQueues uint32, features DeviceFeatures) *Transport {
	return &Transport{
		regs:       regs,
		features:   features,
		numQueues:  numQueues,
		state:      StateWaitDriver,
		queueAddrs: make([]QueueAddrSet, numQueues),
	}
}

// State returns the transport's current setup stage.
func (t *Transport) State() State { return t.state }

// QueueAddresses returns the ring addresses captured for queue i once
// PROGRAM_QUEUES has completed for it.
func (t *Transport) QueueAddresses(i uint32) QueueAddrSet { return t.queueAddrs[i] }

// Tick advances the setup state machine by one step, driven entirely
// by the guest's status register and generation counter. It returns
// true once RUNNING is reached.
func (t *Transport) Tick() (running bool, err error) {
	switch t.state {
	case StateWaitDriver:
		if t.regs.Status()&StatusDriver != 0 {
			t.lastGen = t.regs.Generation()
			t.state = StateNegotiateFeatures
		}

	case StateNegotiateFeatures:
		gen := t.regs.Generation()
		if gen != t.lastGen {
			sel := t.regs.DeviceFeaturesSel()
			t.regs.PublishDeviceFeatures(t.features(sel))
			driverSel := t.regs.DriverFeaturesSel()
			if driverSel < uint32(len(t.driverFeats)) {
				t.driverFeats[driverSel] = t.regs.DriverFeatures()
			}
			t.lastGen = gen
		}
		if t.regs.Status()&StatusFeaturesOK != 0 {
			t.queuesLeft = t.numQueues
			t.state = StateProgramQueues
		}

	case StateProgramQueues:
		// queue_num_max is read directly by the driver after selecting a
		// queue, with no generation hand-off of its own (it is the
		// device answering a read, not reacting to a driver write), so
		// it is kept current every tick regardless of gen.
		if sel := t.regs.QueueSel(); sel < t.numQueues {
			t.regs.SetQueueNumMax(QueueSize)
		}

		gen := t.regs.Generation()
		if gen != t.lastGen {
			sel := t.regs.QueueSel()
			if sel >= t.numQueues {
				return false, fmt.Errorf("queue_sel %d out of range for %d queues", sel, t.numQueues)
			}
			desc, avail, used := t.regs.QueueAddresses()
			t.queueAddrs[sel] = QueueAddrSet{Desc: desc, Avail: avail, Used: used}
			t.lastGen = gen
			if t.queuesLeft > 0 {
				t.queuesLeft--
			}
		}
		if t.queuesLeft == 0 {
			t.state = StateWaitDriverOK
		}

	case StateWaitDriverOK:
		if t.regs.Status()&StatusDriverOK != 0 {
			t.state = StateRunning
		}

	case StateRunning:
		return true, nil
	}

	return t.state == StateRunning, nil
}

// DriverFeatureBit reports whether the driver accepted feature bit n
// (0-63) across the two negotiated 32-bit slices.
func (t *Transport) DriverFeatureBit(n uint32) bool {
	word, bit := n/32, n%32
	if word >= uint32(len(t.driverFeats)) {
		return false
	}
	return t.driverFeats[word]&(1<<bit) != 0
}

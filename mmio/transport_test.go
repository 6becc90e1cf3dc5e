package mmio

import "testing"

func newTestRegisters() *Registers {
	mem := make([]byte, ApertureSize)
	return NewRegisters(mem, 2) // device_id 2 = block device
}

func bumpGeneration(r *Registers) {
	r.store(regGeneration, r.Generation()+1)
}

func TestTransportReachesRunning(t *testing.T) {
	regs := newTestRegisters()
	tr := NewTransport(regs, 1, func(sel uint32) uint32 { return 0xFFFFFFFF })

	regs.store(regStatus, StatusAcknowledge|StatusDriver)
	if running, err := tr.Tick(); err != nil || running {
		t.Fatalf("unexpected running=%v err=%v after DRIVER", running, err)
	}
	if tr.State() != StateNegotiateFeatures {
		t.Fatalf("state = %v, want NEGOTIATE_FEATURES", tr.State())
	}

	bumpGeneration(regs)
	if _, err := tr.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	regs.store(regStatus, StatusAcknowledge|StatusDriver|StatusFeaturesOK)
	if _, err := tr.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if tr.State() != StateProgramQueues {
		t.Fatalf("state = %v, want PROGRAM_QUEUES", tr.State())
	}

	regs.store(regQueueSel, 0)
	regs.store(regQueueDescLo, 0x1000)
	bumpGeneration(regs)
	if _, err := tr.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := regs.load(regQueueNumMax); got != QueueSize {
		t.Fatalf("queue_num_max = %d, want %d", got, QueueSize)
	}
	if tr.State() != StateWaitDriverOK {
		t.Fatalf("state = %v, want WAIT_DRIVER_OK", tr.State())
	}
	if got := tr.QueueAddresses(0).Desc; got != 0x1000 {
		t.Fatalf("queue 0 desc addr = %#x, want 0x1000", got)
	}

	regs.store(regStatus, StatusAcknowledge|StatusDriver|StatusFeaturesOK|StatusDriverOK)
	running, err := tr.Tick()
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !running {
		t.Fatal("expected transport to report running")
	}
}

func TestSetupHandshakeIdempotence(t *testing.T) {
	regs := newTestRegisters()
	tr := NewTransport(regs, 1, func(sel uint32) uint32 {
		if sel == 0 {
			return 0xAAAAAAAA
		}
		return 0xBBBBBBBB
	})

	regs.store(regStatus, StatusDriver)
	tr.Tick()

	regs.store(regDeviceFeatSel, 0)
	bumpGeneration(regs)
	tr.Tick()
	first := regs.load(regDeviceFeatures)

	regs.store(regDeviceFeatSel, 0)
	bumpGeneration(regs)
	tr.Tick()
	second := regs.load(regDeviceFeatures)

	if first != second {
		t.Fatalf("repeated selector 0 yielded different features: %#x vs %#x", first, second)
	}
	if regs.Generation() != 2 {
		t.Fatalf("generation = %d, want 2 after two ticks", regs.Generation())
	}
}

// Package orchestrator wires one cluster's console, disk, and network
// threads together and runs them until told to stop. It is the Go
// equivalent of tt-bh-linux.cpp's main(): pick a cluster, spawn one
// goroutine per subsystem, wait for all of them.
package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"example.com/bh-console/cluster"
	"example.com/bh-console/devices"
	"example.com/bh-console/internal/bherrors"
	"example.com/bh-console/internal/netstack"
	"example.com/bh-console/mmio"
	"example.com/bh-console/uart"
	"example.com/bh-console/virtqueue"
)

// Interrupt numbers and MMIO aperture offsets (from the top of a
// cluster's DRAM), fixed by the device tree the guest kernel boots
// with. Interrupt numbers below 10 are reserved for other uses; the
// PLIC bit a device pulses is interruptNumber-5.
const (
	diskInterruptNumber      = 33
	diskMMIOOffset           = 6 * 4096
	networkInterruptNumber   = 32
	networkMMIOOffset        = 9 * 4096
	cloudInitInterruptNumber = 31
	cloudInitMMIOOffset      = 3 * 4096

	// interruptRegisterAddr is the absolute guest address of the PLIC
	// bit-set register every virtio-mmio device thread pulses through.
	interruptRegisterAddr = 0x2FF10404
)

// Config is everything an Orchestrator needs to attach to one cluster
// and bring its devices up.
type Config struct {
	DevicePath    string // e.g. "/dev/tenstorrent/0"
	ClusterIndex  int
	DiskImagePath string
	CloudInitPath string // optional; empty disables the second block device
	SSHPort       int    // host port DNAT'd to the guest's port 22; 0 disables forwarding
	Log           *slog.Logger
}

// tapAddr/tapGuestAddr fix the small NAT'd subnet the emulated NIC's
// host-side tap endpoint lives on; the guest side is expected to bring
// its interface up at tapGuestAddr via its own network configuration
// (DHCP is not emulated).
const (
	tapAddr      = "10.0.2.1/24"
	tapGuestAddr = "10.0.2.2"
)

// Orchestrator owns the cluster facade and the goroutines attached to
// it, and coordinates their shutdown.
type Orchestrator struct {
	cfg  Config
	log  *slog.Logger
	stop chan struct{}
	wg   sync.WaitGroup

	stopOnce sync.Once

	errOnce  sync.Once
	firstErr error
}

// New builds an Orchestrator from cfg, filling in a default logger if
// none was supplied.
func New(cfg Config) *Orchestrator {
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Orchestrator{cfg: cfg, log: cfg.Log, stop: make(chan struct{})}
}

// Run opens the cluster, starts every configured subsystem, and blocks
// until all of them exit (on error, or on Stop being called). It
// returns the first error any subsystem reported, if any.
func (o *Orchestrator) Run() error {
	c, err := cluster.Open(o.cfg.DevicePath, o.cfg.ClusterIndex)
	if err != nil {
		return fmt.Errorf("open cluster %d: %w", o.cfg.ClusterIndex, err)
	}
	defer c.Close()

	gatewayMem, err := c.PersistentWindow(interruptRegisterAddr)
	if err != nil {
		return fmt.Errorf("map interrupt register: %w", err)
	}
	gateway := mmio.NewInterruptGateway(gatewayMem)

	o.wg.Add(1)
	go o.runConsole(c)

	o.wg.Add(1)
	go o.runDisk(c, gateway, diskInterruptNumber, diskMMIOOffset, o.cfg.DiskImagePath)

	o.wg.Add(1)
	go o.runNetwork(c, gateway, networkInterruptNumber, networkMMIOOffset)

	if o.cfg.CloudInitPath != "" {
		o.wg.Add(1)
		go o.runDisk(c, gateway, cloudInitInterruptNumber, cloudInitMMIOOffset, o.cfg.CloudInitPath)
	}

	o.wg.Wait()
	return o.firstErr
}

// Stop signals every running subsystem to exit. It does not wait for
// Run to return, and calling it more than once is harmless.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}

func (o *Orchestrator) fail(subsystem string, err error) {
	o.log.Error("subsystem exited with error", "subsystem", subsystem, "error", err)
	o.errOnce.Do(func() { o.firstErr = err })
}

func (o *Orchestrator) runConsole(c *cluster.Cluster) {
	defer o.wg.Done()
	o.log.Info("console: press Ctrl-A x to exit")

	term, err := uart.EnterRawMode(uart.StdinFD())
	if err != nil {
		o.fail("console", fmt.Errorf("enter raw mode: %w", err))
		return
	}
	defer term.Restore()

	for {
		select {
		case <-o.stop:
			return
		default:
		}

		ring, err := uart.Probe(c)
		if err != nil {
			o.fail("console", fmt.Errorf("probe virtual uart: %w", err))
			return
		}
		console := uart.NewConsole(ring, uart.StdinFD(), os.Stdout, o.log)
		err = console.Run(o.stop)
		if err == nil {
			// Ctrl-A x (or an earlier Stop): shut every subsystem down.
			o.Stop()
			return
		}
		if errors.Is(err, bherrors.UartVanished) {
			o.log.Warn("virtual uart vanished, was the cluster reset? retrying", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		o.fail("console", err)
		return
	}
}

func (o *Orchestrator) runDisk(c *cluster.Cluster, gateway *mmio.InterruptGateway, irq int, mmioOffset uint64, imagePath string) {
	defer o.wg.Done()

	for {
		select {
		case <-o.stop:
			return
		default:
		}

		blk, err := devices.NewBlock(imagePath)
		if err != nil {
			o.fail("disk", err)
			return
		}

		err = o.runDeviceLoop(c, gateway, irq, mmioOffset, deviceSetup{
			deviceID:   2, // VIRTIO_ID_BLOCK
			numQueues:  1,
			headerSize: devices.BlockHeaderSize,
			handler:    blk,
			features: func(sel uint32) uint32 {
				if sel == 1 {
					return 1 << 0 // VIRTIO_F_VERSION_1 (bit 32 overall)
				}
				return 0
			},
		})
		blk.Close()
		if err != nil {
			o.fail("disk", err)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (o *Orchestrator) runNetwork(c *cluster.Cluster, gateway *mmio.InterruptGateway, irq int, mmioOffset uint64) {
	defer o.wg.Done()

	for {
		select {
		case <-o.stop:
			return
		default:
		}

		tap, err := netstack.OpenTap("bh-tap0")
		if err != nil {
			o.fail("network", err)
			return
		}
		if err := tap.BringUp(tapAddr); err != nil {
			o.log.Warn("bring up tap interface", "error", err)
		}
		if o.cfg.SSHPort != 0 {
			if err := tap.ForwardPort(o.cfg.SSHPort, tapGuestAddr, 22); err != nil {
				o.log.Warn("forward ssh port", "host_port", o.cfg.SSHPort, "error", err)
			}
		}
		net := devices.NewNetwork(tap, o.stop)

		err = o.runDeviceLoop(c, gateway, irq, mmioOffset, deviceSetup{
			deviceID:   1, // VIRTIO_ID_NET
			numQueues:  2,
			headerSize: 0,
			handler:    net,
			features: func(sel uint32) uint32 {
				if sel == 1 {
					return 1 << 0 // VIRTIO_F_VERSION_1
				}
				return 0
			},
		})
		tap.Close()
		if err != nil {
			o.fail("network", err)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// deviceSetup bundles the per-device-type parameters runDeviceLoop
// needs to bring a virtio-mmio device up and service it.
type deviceSetup struct {
	deviceID   uint32
	numQueues  uint32
	headerSize uint64
	handler    virtqueue.Handler
	features   mmio.DeviceFeatures
}

// runDeviceLoop maps a device's mmio aperture, drives the setup state
// machine to RUNNING, builds the virtqueue engine over whatever queue
// addresses the guest programmed, and services it until stop fires or
// an unrecoverable error occurs.
func (o *Orchestrator) runDeviceLoop(c *cluster.Cluster, gateway *mmio.InterruptGateway, irq int, mmioOffset uint64, setup deviceSetup) error {
	aperture, err := c.PersistentWindowOffset(c.MemorySize() - mmioOffset)
	if err != nil {
		return fmt.Errorf("map mmio aperture: %w", err)
	}
	regs := mmio.NewRegisters(aperture, setup.deviceID)
	transport := mmio.NewTransport(regs, setup.numQueues, setup.features)

	for {
		select {
		case <-o.stop:
			return nil
		default:
		}
		running, err := transport.Tick()
		if err != nil {
			return fmt.Errorf("mmio transport setup: %w", err)
		}
		if running {
			break
		}
	}

	mem, err := c.Memory()
	if err != nil {
		return fmt.Errorf("map cluster dram: %w", err)
	}

	queues := make([]*virtqueue.Queue, setup.numQueues)
	for i := uint32(0); i < setup.numQueues; i++ {
		addrs := transport.QueueAddresses(i)
		desc := virtqueue.NewDescriptorTable(mem, addrs.Desc-c.StartAddress(), mmio.QueueSize)
		avail := virtqueue.NewAvailRing(mem, addrs.Avail-c.StartAddress(), mmio.QueueSize)
		used := virtqueue.NewUsedRing(mem, addrs.Used-c.StartAddress(), mmio.QueueSize)
		queues[i] = &virtqueue.Queue{
			Desc: desc, Avail: avail, Used: used,
			Size: mmio.QueueSize, HeaderSize: setup.headerSize,
		}
	}

	engine := virtqueue.NewEngine(mem, c.StartAddress(), queues, setup.handler)
	bit := uint(irq - 5)

	for {
		select {
		case <-o.stop:
			return nil
		default:
		}
		processed, err := engine.Poll()
		if err != nil {
			return fmt.Errorf("virtqueue poll: %w", err)
		}
		if processed {
			gateway.Pulse(bit)
		}
		time.Sleep(time.Microsecond)
	}
}

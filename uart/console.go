package uart

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"example.com/bh-console/cluster"
	"example.com/bh-console/internal/bherrors"
)

// debugPtrOffset is where OpenSBI leaves a pointer to its debug
// descriptor, relative to a cluster's DRAM start.
const debugPtrOffset = 0x80

var eyeCatcher = []byte("OSBIdbug")

// debug descriptor layout: 8-byte eye catcher, 4-byte version, then
// (after the natural alignment pad a uint64 field forces) an 8-byte
// virtual UART base address.
const (
	descEyeCatcher = 0
	descVersion    = 8
	descUartBase   = 16
	descSize       = 24
)

// Probe locates the guest's virtual UART by walking the debug
// descriptor OpenSBI leaves at a fixed offset, and returns a Ring bound
// to it. It is the Go-side equivalent of uart_loop's setup phase.
func Probe(c *cluster.Cluster) (*Ring, error) {
	descPtr, err := c.Read32Offset(debugPtrOffset)
	if err != nil {
		return nil, fmt.Errorf("read debug descriptor pointer: %w", err)
	}

	descMem, err := c.PersistentWindowOffset(uint64(descPtr))
	if err != nil {
		return nil, fmt.Errorf("map debug descriptor: %w", err)
	}

	if !bytes.Equal(descMem[descEyeCatcher:descEyeCatcher+len(eyeCatcher)], eyeCatcher) {
		return nil, bherrors.UartNotFound
	}

	uartBase := binary.LittleEndian.Uint64(descMem[descUartBase : descUartBase+8])
	return OpenRing(c, uartBase)
}

// Console drives the interactive terminal loop: bytes typed at in are
// pushed to the guest, bytes the guest writes are copied to out. It
// exits when stop is closed, the ring's magic vanishes, or the user types
// the Ctrl-A x escape sequence.
type Console struct {
	ring *Ring
	in   int // file descriptor polled for input, e.g. uart.StdinFD()
	out  io.Writer
	log  *slog.Logger
}

// NewConsole builds a Console bound to an already-probed Ring.
func NewConsole(ring *Ring, in int, out io.Writer, log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{ring: ring, in: in, out: out, log: log}
}

// Run drives the console loop until stop is closed, the ring's magic
// word vanishes, or the user escapes with Ctrl-A x. It returns
// bherrors.UartVanished if the guest's console region stopped looking
// like a live queues struct.
func (c *Console) Run(stop <-chan struct{}) error {
	ctrlAPressed := false
	buf := make([]byte, 1)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if !c.ring.MagicValid() {
			return bherrors.UartVanished
		}

		ready, err := pollReadable(c.in, time.Microsecond)
		if err != nil {
			return fmt.Errorf("poll stdin: %w", err)
		}
		if ready {
			n, err := unix.Read(c.in, buf)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			if n > 0 {
				switch {
				case ctrlAPressed:
					if buf[0] == 'x' {
						fmt.Fprint(c.out, "\n\n")
						return nil
					}
					ctrlAPressed = false
				case buf[0] == 1: // Ctrl-A
					ctrlAPressed = true
				default:
					for !c.ring.CanPush() {
						// The guest hasn't drained the rx ring yet;
						// the original spins here too.
					}
					c.ring.PushByte(buf[0])
				}
			}
		}

		if c.ring.CanPop() {
			b := c.ring.PopByte()
			if _, err := c.out.Write([]byte{b}); err != nil {
				return fmt.Errorf("write console output: %w", err)
			}
		}
	}
}

// pollReadable reports whether fd has data ready within timeout, using
// select(2) the same way the original console loop polls stdin.
func pollReadable(fd int, timeout time.Duration) (bool, error) {
	var fds unix.FdSet
	fds.Bits[fd/64] |= 1 << (uint(fd) % 64)

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	n, err := unix.Select(fd+1, &fds, nil, nil, &tv)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}

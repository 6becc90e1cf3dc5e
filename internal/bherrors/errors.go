// Package bherrors collects the sentinel error values shared across the
// emulator's packages, so callers can tell classes of failure apart with
// errors.Is instead of string matching.
package bherrors

import "errors"

var (
	// IoctlFailed wraps an underlying kernel driver ioctl failure. Fatal
	// to the owning thread.
	IoctlFailed = errors.New("ioctl failed")

	// PoolExhausted is returned by tlb.Pool.Acquire when no free entry
	// remains for the requested size class.
	PoolExhausted = errors.New("tlb pool exhausted")

	// OutOfBounds is a window-relative address exceeding the window's
	// usable span. Contract violation, fatal.
	OutOfBounds = errors.New("address out of bounds for window")

	// Misaligned is a naturally-unaligned 16/32/64-bit access. Fatal.
	Misaligned = errors.New("misaligned access")

	// UartNotFound means the console probe's eye-catcher did not match.
	// Fatal to the console thread.
	UartNotFound = errors.New("virtual uart eye-catcher mismatch")

	// UartVanished means the magic word no longer matches during steady
	// state — the cluster was reset out from under the console thread.
	// Recoverable: sleep, re-probe.
	UartVanished = errors.New("virtual uart magic vanished")

	// RingCorrupt means a descriptor chain walk ran longer than the
	// queue size, or an address resolved outside cluster DRAM. Fatal to
	// the device thread.
	RingCorrupt = errors.New("virtqueue ring corrupt")

	// BackingFileIO is returned by devices.NewBlock when the backing
	// file cannot be opened or mapped. Once a block device is running,
	// its request path does not report I/O errors: every chain
	// completes with status byte 0.
	BackingFileIO = errors.New("backing file i/o error")
)

// Command bh-console attaches to one L2CPU cluster on a Blackhole-class
// accelerator card and serves its virtual UART, block, and network
// devices to the Linux guest running on that cluster, the same role
// tt-bh-linux filled for the original hypervisor.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"

	"example.com/bh-console/cluster"
	"example.com/bh-console/orchestrator"
	"example.com/bh-console/uart"
)

// Exit codes: 0 normal shutdown, 1 argument error, 2 fatal attach error
// (driver open failure, uart probe failure) so wrapper scripts can tell
// "bad flags" apart from "board not present."
const (
	exitOK       = 0
	exitArgError = 1
	exitAttach   = 2
)

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.ShortDescription = "Blackhole L2CPU console/disk/network bridge"
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(exitOK)
		}
		os.Exit(exitArgError)
	}
	if err := opts.validate(); err != nil {
		fmt.Fprintln(os.Stderr, "bh-console:", err)
		os.Exit(exitArgError)
	}

	log := newLogger(opts)

	if opts.Probe {
		if err := probe(opts, log); err != nil {
			log.Error("probe failed", "error", err)
			os.Exit(exitAttach)
		}
		return
	}

	if err := attach(opts, log); err != nil {
		log.Error("fatal error", "error", err)
		os.Exit(exitAttach)
	}
}

func newLogger(opts options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: opts.slogLevel()}
	var handler slog.Handler
	if opts.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	return slog.New(handler)
}

func attach(opts options, log *slog.Logger) error {
	orch := orchestrator.New(orchestrator.Config{
		DevicePath:    opts.Device,
		ClusterIndex:  opts.L2CPU,
		DiskImagePath: opts.Disk,
		CloudInitPath: opts.CloudInit,
		SSHPort:       opts.SSHPort,
		Log:           log,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		orch.Stop()
	}()

	return orch.Run()
}

// probe attaches to the cluster just long enough to report device info
// and whether its virtual uart is reachable, then exits. Useful for
// checking that a freshly booted guest has gotten far enough to publish
// its debug descriptor before committing to the full console/disk/
// network run.
func probe(opts options, log *slog.Logger) error {
	c, err := cluster.Open(opts.Device, opts.L2CPU)
	if err != nil {
		return fmt.Errorf("open cluster %d: %w", opts.L2CPU, err)
	}
	defer c.Close()

	info, err := c.DeviceInfo()
	if err != nil {
		return fmt.Errorf("get device info: %w", err)
	}
	log.Info("device info", "vendor_id", info.VendorID, "device_id", info.DeviceID)

	log.Info("cluster topology",
		"index", c.Index(),
		"coordinate", c.Coordinate(),
		"start_addr", fmt.Sprintf("%#x", c.StartAddress()),
		"mem_size", c.MemorySize(),
	)

	ring, err := uart.Probe(c)
	if err != nil {
		return fmt.Errorf("probe virtual uart: %w", err)
	}
	log.Info("virtual uart found", "magic_valid", ring.MagicValid())
	return nil
}

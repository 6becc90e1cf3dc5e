package main

import (
	"fmt"
	"log/slog"

	"example.com/bh-console/cluster"
)

// options is the command's flag surface, parsed by go-flags. Field
// names mirror the original tt-bh-linux binary's getopt_long surface:
// --l2cpu/-l picks which cluster to attach to, --disk/-d and
// --cloud-init/-c name the block images, --device points at the
// kernel driver node.
type options struct {
	L2CPU        int    `short:"l" long:"l2cpu" description:"L2CPU cluster index to attach to (0-3)" default:"0"`
	Disk         string `short:"d" long:"disk" description:"path to the root filesystem disk image" default:"rootfs.ext4"`
	CloudInit    string `short:"c" long:"cloud-init" description:"optional path to a second (cloud-init) disk image"`
	Device       string `long:"device" description:"tenstorrent kernel driver device node" default:"/dev/tenstorrent/0"`
	SSHPort      int    `long:"ssh-port" description:"host port DNAT'd to the guest's port 22 (0 disables port forwarding)" default:"2222"`
	LogLevel     string `long:"log-level" description:"debug, info, warn, or error" default:"info"`
	LogFormat    string `long:"log-format" description:"text or json" default:"text"`
	VirtioMsgMSI bool   `short:"m" long:"virtio-msg-msi" description:"use PCIe-tile MSI addressing for virtio-msg transport (unsupported by this build)"`
	Probe        bool   `long:"probe" description:"print device info and the virtual uart's reachability, then exit"`
}

// validate checks the parsed flags against the constraints the
// original binary enforced by hand in main() (l2cpu range) plus the
// ones this port adds (unsupported transport mode, log level/format
// enums).
func (o *options) validate() error {
	if o.L2CPU < 0 || o.L2CPU >= cluster.NumClusters {
		return fmt.Errorf("l2cpu %d out of range: must be 0-%d", o.L2CPU, cluster.NumClusters-1)
	}
	if o.VirtioMsgMSI {
		return fmt.Errorf("--virtio-msg-msi: this build speaks the legacy virtio-mmio register transport only")
	}
	switch o.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level %q: must be debug, info, warn, or error", o.LogLevel)
	}
	switch o.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log-format %q: must be text or json", o.LogFormat)
	}
	if o.SSHPort < 0 || o.SSHPort > 65535 {
		return fmt.Errorf("ssh-port %d out of range", o.SSHPort)
	}
	return nil
}

// slogLevel maps the validated --log-level string to its slog.Level.
func (o *options) slogLevel() slog.Level {
	switch o.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

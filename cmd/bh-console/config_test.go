package main

import (
	"log/slog"
	"testing"
)

func validOptions() options {
	return options{L2CPU: 0, Disk: "rootfs.ext4", Device: "/dev/tenstorrent/0", SSHPort: 2222, LogLevel: "info", LogFormat: "text"}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	opts := validOptions()
	if err := opts.validate(); err != nil {
		t.Fatalf("validate() = %v, want nil", err)
	}
}

func TestValidateRejectsOutOfRangeL2CPU(t *testing.T) {
	opts := validOptions()
	opts.L2CPU = 4
	if err := opts.validate(); err == nil {
		t.Fatal("expected an error for l2cpu 4")
	}
}

func TestValidateRejectsVirtioMsgMSI(t *testing.T) {
	opts := validOptions()
	opts.VirtioMsgMSI = true
	if err := opts.validate(); err == nil {
		t.Fatal("expected an error for --virtio-msg-msi")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	opts := validOptions()
	opts.LogLevel = "verbose"
	if err := opts.validate(); err == nil {
		t.Fatal("expected an error for an unknown log level")
	}
}

func TestValidateRejectsOutOfRangeSSHPort(t *testing.T) {
	opts := validOptions()
	opts.SSHPort = 70000
	if err := opts.validate(); err == nil {
		t.Fatal("expected an error for ssh-port 70000")
	}
}

func TestSlogLevelMapsEachName(t *testing.T) {
	opts := validOptions()
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, want := range cases {
		opts.LogLevel = name
		if got := opts.slogLevel(); got != want {
			t.Fatalf("slogLevel() for %q = %v, want %v", name, got, want)
		}
	}
}

// Package netstack provides the host-side network transport for the
// emulated NIC: a Linux TUN/TAP device carrying raw Ethernet frames.
// Routing the TAP interface's traffic to the outside world (NAT,
// forwarding) is a host operational concern handled by iptables/sysctl
// once the interface is up, not something this package reimplements.
package netstack

import (
	"fmt"
	"os/exec"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ifreq mirrors Linux's 40-byte struct ifreq: a 16-byte name followed
// by a 24-byte union (its largest member), so the ioctl never writes
// past the struct regardless of which union arm the kernel touches.
type ifreq struct {
	Name  [16]byte
	Flags uint16
	_     [22]byte
}

// Tap implements devices.NetInterface using a Linux TUN/TAP device in
// TAP (Ethernet frame) mode.
type Tap struct {
	fd   int
	name string
}

// OpenTap attaches to the TAP interface with the given name, creating
// it if it does not exist. IFF_PERSIST is not set, so an interface
// created here goes away when its descriptor is closed.
func OpenTap(name string) (*Tap, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/net/tun: %w", err)
	}

	var ifr ifreq
	copy(ifr.Name[:], name)
	ifr.Flags = unix.IFF_TAP | unix.IFF_NO_PI

	if err := ioctl(fd, unix.TUNSETIFF, &ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF for %s: %w", name, err)
	}

	return &Tap{fd: fd, name: name}, nil
}

// ReadPacket reads one Ethernet frame from the interface, blocking
// until one is available.
func (t *Tap) ReadPacket() ([]byte, error) {
	buf := make([]byte, 65536)
	n, err := unix.Read(t.fd, buf)
	if err != nil {
		return nil, fmt.Errorf("read tap %s: %w", t.name, err)
	}
	return buf[:n], nil
}

// WritePacket writes one Ethernet frame to the interface.
func (t *Tap) WritePacket(packet []byte) (int, error) {
	n, err := unix.Write(t.fd, packet)
	if err != nil {
		return n, fmt.Errorf("write tap %s: %w", t.name, err)
	}
	return n, nil
}

// Close closes the interface's file descriptor. It does not tear down
// the interface itself, which typically outlives a single process run
// when created with IFF_PERSIST via `ip tuntap`.
func (t *Tap) Close() error {
	return unix.Close(t.fd)
}

// BringUp assigns addr (CIDR form, e.g. "10.0.2.1/24") to the interface
// and brings it up, shelling out to `ip` the way a host administrator
// would. NAT/forwarding for guest-originated traffic is expected to
// already be configured at the host level (iptables MASQUERADE +
// net.ipv4.ip_forward=1); this only prepares the interface itself.
func (t *Tap) BringUp(addr string) error {
	if err := exec.Command("ip", "addr", "add", addr, "dev", t.name).Run(); err != nil {
		return fmt.Errorf("ip addr add %s dev %s: %w", addr, t.name, err)
	}
	if err := exec.Command("ip", "link", "set", "dev", t.name, "up").Run(); err != nil {
		return fmt.Errorf("ip link set dev %s up: %w", t.name, err)
	}
	return nil
}

// ForwardPort DNATs hostPort on the host's default route to
// guestAddr:guestPort, the way a user would set up a port-forward into
// a NAT'd guest by hand with iptables. It assumes net.ipv4.ip_forward
// is already enabled and a MASQUERADE rule covers this tap's subnet;
// both are host operational setup this package does not perform.
func (t *Tap) ForwardPort(hostPort int, guestAddr string, guestPort int) error {
	dest := fmt.Sprintf("%s:%d", guestAddr, guestPort)
	args := []string{
		"-t", "nat", "-A", "PREROUTING",
		"-p", "tcp", "--dport", fmt.Sprint(hostPort),
		"-j", "DNAT", "--to-destination", dest,
	}
	if err := exec.Command("iptables", args...).Run(); err != nil {
		return fmt.Errorf("iptables DNAT %d -> %s: %w", hostPort, dest, err)
	}
	return nil
}

func ioctl(fd int, req uintptr, arg *ifreq) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(arg)))
	if errno != 0 {
		return errno
	}
	return nil
}

package udp

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"syscall"
)

const (
	familyIPv4 = "IPv4"
	familyIPv6 = "IPv6"
)

// packetConn is the subset of *net.UDPConn used by a session.
type packetConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// listenIPv4 binds a UDP socket to 0.0.0.0 on an ephemeral port.
func listenIPv4() (*net.UDPConn, error) {
	return listenUDP("udp4", "0.0.0.0:0", familyIPv4, nil)
}

// listenIPv6 binds an IPv6-only UDP socket to [::] on an ephemeral port, so
// IPv4-mapped traffic is left to the IPv4 socket.
func listenIPv6() (*net.UDPConn, error) {
	return listenUDP("udp6", "[::]:0", familyIPv6, setIPv6Only)
}

// listenUDP opens a socket through net.ListenConfig. The runtime creates the
// socket in non-blocking mode; control runs between creation and bind.
func listenUDP(network, address, family string, control func(fd uintptr) error) (*net.UDPConn, error) {
	var controlErr error

	lc := net.ListenConfig{}
	if control != nil {
		lc.Control = func(_, _ string, c syscall.RawConn) error {
			if err := c.Control(func(fd uintptr) {
				controlErr = control(fd)
			}); err != nil {
				return err
			}
			return controlErr
		}
	}

	pc, err := lc.ListenPacket(context.Background(), network, address)
	if err != nil {
		return nil, &SocketError{Op: socketOp(err, controlErr), Family: family, Err: err}
	}

	return pc.(*net.UDPConn), nil
}

// socketOp maps a listen error to the setup step that produced it.
func socketOp(err, controlErr error) string {
	if controlErr != nil {
		return OpIPv6Only
	}

	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		switch sysErr.Syscall {
		case "socket":
			return OpCreate
		case "setnonblock", "fcntl", "ioctlsocket":
			return OpNonBlocking
		case "setsockopt":
			return OpIPv6Only
		}
	}

	return OpBind
}

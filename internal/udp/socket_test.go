package udp

import (
	"errors"
	"net/netip"
	"os"
	"strings"
	"syscall"
	"testing"
)

func TestSocketOp(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		controlErr error
		want       string
	}{
		{"socket", os.NewSyscallError("socket", syscall.EMFILE), nil, OpCreate},
		{"setnonblock", os.NewSyscallError("setnonblock", syscall.EINVAL), nil, OpNonBlocking},
		{"setsockopt", os.NewSyscallError("setsockopt", syscall.ENOPROTOOPT), nil, OpIPv6Only},
		{"control", errors.New("control failed"), syscall.EPERM, OpIPv6Only},
		{"bind", os.NewSyscallError("bind", syscall.EADDRINUSE), nil, OpBind},
		{"other", errors.New("unknown"), nil, OpBind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := socketOp(tt.err, tt.controlErr); got != tt.want {
				t.Errorf("socketOp() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSocketError(t *testing.T) {
	cause := os.NewSyscallError("bind", syscall.EADDRINUSE)
	err := &SocketError{Op: OpBind, Family: familyIPv6, Err: cause}

	if !errors.Is(err, syscall.EADDRINUSE) {
		t.Error("SocketError should unwrap to its cause")
	}

	msg := err.Error()
	for _, part := range []string{"IPv6", "bind"} {
		if !strings.Contains(msg, part) {
			t.Errorf("Error() = %q, should contain %q", msg, part)
		}
	}
}

func TestIPv6DisabledError(t *testing.T) {
	addr := netip.MustParseAddrPort("[2001:db8::1]:9000")
	err := &IPv6DisabledError{Addr: addr}

	if !errors.Is(err, ErrIPv6RelayDisabled) {
		t.Error("IPv6DisabledError should match ErrIPv6RelayDisabled")
	}
	if !strings.Contains(err.Error(), addr.String()) {
		t.Errorf("Error() = %q, should contain %s", err.Error(), addr)
	}
}

func TestListenIPv4(t *testing.T) {
	conn, err := listenIPv4()
	if err != nil {
		t.Fatalf("listenIPv4() error = %v", err)
	}
	defer conn.Close()

	ap := udpAddrPort(conn.LocalAddr())
	if ap.Port() == 0 {
		t.Error("socket should be bound to an ephemeral port")
	}
	if !ap.Addr().Unmap().IsUnspecified() {
		t.Errorf("socket bound to %s, want unspecified address", ap)
	}
}

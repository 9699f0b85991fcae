package udp

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrIPv6RelayDisabled matches IPv6DisabledError with errors.Is.
var ErrIPv6RelayDisabled = errors.New("UDP relay to IPv6 is disabled")

// Socket setup steps reported by SocketError.
const (
	OpCreate      = "create"
	OpNonBlocking = "set non-blocking"
	OpIPv6Only    = "set IPv6-only"
	OpBind        = "bind"
)

// SocketError is returned by NewSession when one of the association sockets
// cannot be set up.
type SocketError struct {
	Op     string // one of the Op* constants
	Family string // "IPv4" or "IPv6"
	Err    error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("UDP associate %s socket: %s failed: %v", e.Family, e.Op, e.Err)
}

func (e *SocketError) Unwrap() error {
	return e.Err
}

// IPv6DisabledError is returned by Send for an IPv6 destination when the
// session has no IPv6 socket.
type IPv6DisabledError struct {
	Addr netip.AddrPort
}

func (e *IPv6DisabledError) Error() string {
	return fmt.Sprintf("UDP relay to IPv6 is disabled, dropping packet to %s", e.Addr)
}

// Is reports ErrIPv6RelayDisabled as a match.
func (e *IPv6DisabledError) Is(target error) bool {
	return target == ErrIPv6RelayDisabled
}

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
)

// Address is a TUIC address: none, a domain name with port, or a socket address.
type Address struct {
	Type   uint8
	Domain string         // set when Type == AddrTypeDomain
	Port   uint16         // set when Type == AddrTypeDomain
	Addr   netip.AddrPort // set when Type is AddrTypeIPv4 or AddrTypeIPv6
}

// NoneAddress returns the empty address carried by non-first fragments.
func NoneAddress() Address {
	return Address{Type: AddrTypeNone}
}

// DomainAddress returns a domain name address.
func DomainAddress(domain string, port uint16) Address {
	return Address{Type: AddrTypeDomain, Domain: domain, Port: port}
}

// SocketAddress returns an IPv4 or IPv6 address. IPv4-mapped IPv6 addresses
// are encoded as IPv4.
func SocketAddress(ap netip.AddrPort) Address {
	ip := ap.Addr().Unmap()
	if ip.Is4() {
		return Address{Type: AddrTypeIPv4, Addr: netip.AddrPortFrom(ip, ap.Port())}
	}
	return Address{Type: AddrTypeIPv6, Addr: ap}
}

// IsNone reports whether the address is empty.
func (a Address) IsNone() bool {
	return a.Type == AddrTypeNone
}

// String returns host:port, or "none".
func (a Address) String() string {
	switch a.Type {
	case AddrTypeNone:
		return "none"
	case AddrTypeDomain:
		return net.JoinHostPort(a.Domain, strconv.Itoa(int(a.Port)))
	default:
		return a.Addr.String()
	}
}

// EncodedLen returns the number of bytes the address occupies on the wire.
func (a Address) EncodedLen() int {
	switch a.Type {
	case AddrTypeDomain:
		return 1 + 1 + len(a.Domain) + 2
	case AddrTypeIPv4:
		return 1 + 4 + 2
	case AddrTypeIPv6:
		return 1 + 16 + 2
	default:
		return 1
	}
}

// AppendTo appends the wire encoding of the address to buf.
func (a Address) AppendTo(buf []byte) []byte {
	buf = append(buf, a.Type)

	switch a.Type {
	case AddrTypeDomain:
		buf = append(buf, uint8(len(a.Domain)))
		buf = append(buf, a.Domain...)
		buf = binary.BigEndian.AppendUint16(buf, a.Port)
	case AddrTypeIPv4:
		ip := a.Addr.Addr().As4()
		buf = append(buf, ip[:]...)
		buf = binary.BigEndian.AppendUint16(buf, a.Addr.Port())
	case AddrTypeIPv6:
		ip := a.Addr.Addr().As16()
		buf = append(buf, ip[:]...)
		buf = binary.BigEndian.AppendUint16(buf, a.Addr.Port())
	}

	return buf
}

// ReadAddress reads an address from r.
func ReadAddress(r io.Reader) (Address, error) {
	var typ [1]byte
	if _, err := io.ReadFull(r, typ[:]); err != nil {
		return Address{}, err
	}

	switch typ[0] {
	case AddrTypeNone:
		return NoneAddress(), nil

	case AddrTypeDomain:
		var n [1]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return Address{}, err
		}
		buf := make([]byte, int(n[0])+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Address{}, err
		}
		return DomainAddress(string(buf[:n[0]]), binary.BigEndian.Uint16(buf[n[0]:])), nil

	case AddrTypeIPv4:
		var buf [6]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Address{}, err
		}
		ip := netip.AddrFrom4([4]byte(buf[:4]))
		return Address{Type: AddrTypeIPv4, Addr: netip.AddrPortFrom(ip, binary.BigEndian.Uint16(buf[4:]))}, nil

	case AddrTypeIPv6:
		var buf [18]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Address{}, err
		}
		ip := netip.AddrFrom16([16]byte(buf[:16]))
		return Address{Type: AddrTypeIPv6, Addr: netip.AddrPortFrom(ip, binary.BigEndian.Uint16(buf[16:]))}, nil

	default:
		return Address{}, fmt.Errorf("%w: 0x%02x", ErrUnknownAddressType, typ[0])
	}
}

// Package protocol defines the TUIC v5 wire format spoken between client and server.
package protocol

import "fmt"

// Version is the only protocol version accepted by the server.
const Version uint8 = 0x05

// HeaderSize is the size of the command header: VER [1] TYPE [1].
const HeaderSize = 2

// CommandType identifies a TUIC command.
type CommandType uint8

// Command type constants
const (
	CmdAuthenticate CommandType = 0x00 // UUID + token
	CmdConnect      CommandType = 0x01 // TCP relay request
	CmdPacket       CommandType = 0x02 // UDP packet (possibly a fragment)
	CmdDissociate   CommandType = 0x03 // Drop a UDP association
	CmdHeartbeat    CommandType = 0x04 // Keep the connection alive
)

// String returns a human-readable name for the command type.
func (c CommandType) String() string {
	switch c {
	case CmdAuthenticate:
		return "AUTHENTICATE"
	case CmdConnect:
		return "CONNECT"
	case CmdPacket:
		return "PACKET"
	case CmdDissociate:
		return "DISSOCIATE"
	case CmdHeartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(c))
	}
}

// Address type constants
const (
	AddrTypeDomain uint8 = 0x00 // 1-byte length + name + port
	AddrTypeIPv4   uint8 = 0x01 // 4 bytes + port
	AddrTypeIPv6   uint8 = 0x02 // 16 bytes + port
	AddrTypeNone   uint8 = 0xff // no address (non-first fragments)
)

// Sizes of fixed command bodies.
const (
	UUIDSize  = 16
	TokenSize = 32

	// PacketHeaderSize is ASSOC_ID [2] PKT_ID [2] FRAG_TOTAL [1] FRAG_ID [1] SIZE [2],
	// not counting the address that follows.
	PacketHeaderSize = 8
)

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnsupportedVersion is returned when a header carries a version other than Version
	ErrUnsupportedVersion = errors.New("unsupported protocol version")

	// ErrUnknownCommand is returned for unrecognized command types
	ErrUnknownCommand = errors.New("unknown command")

	// ErrUnknownAddressType is returned for unrecognized address types
	ErrUnknownAddressType = errors.New("unknown address type")

	// ErrInvalidPacket is returned when a packet header is inconsistent
	ErrInvalidPacket = errors.New("invalid packet")
)

// Command is a decoded TUIC command.
type Command interface {
	Type() CommandType
	Encode() []byte
}

// Authenticate is sent by the client on a unidirectional stream to prove
// knowledge of the password bound to UUID.
type Authenticate struct {
	UUID  [UUIDSize]byte
	Token [TokenSize]byte
}

// Type implements Command.
func (a *Authenticate) Type() CommandType { return CmdAuthenticate }

// Encode serializes the command including its header.
func (a *Authenticate) Encode() []byte {
	buf := make([]byte, 0, HeaderSize+UUIDSize+TokenSize)
	buf = append(buf, Version, byte(CmdAuthenticate))
	buf = append(buf, a.UUID[:]...)
	buf = append(buf, a.Token[:]...)
	return buf
}

// Connect requests a TCP relay to Addr.
type Connect struct {
	Addr Address
}

// Type implements Command.
func (c *Connect) Type() CommandType { return CmdConnect }

// Encode serializes the command including its header.
func (c *Connect) Encode() []byte {
	buf := make([]byte, 0, HeaderSize+c.Addr.EncodedLen())
	buf = append(buf, Version, byte(CmdConnect))
	return c.Addr.AppendTo(buf)
}

// Packet carries one UDP payload, or one fragment of it, for an association.
//
// Wire format after the header:
//
//	ASSOC_ID   [2 bytes]
//	PKT_ID     [2 bytes]
//	FRAG_TOTAL [1 byte]
//	FRAG_ID    [1 byte]
//	SIZE       [2 bytes]
//	ADDR       [variable]
//	PAYLOAD    [SIZE bytes]
type Packet struct {
	AssocID   uint16
	PktID     uint16
	FragTotal uint8
	FragID    uint8
	Addr      Address
	Payload   []byte
}

// Type implements Command.
func (p *Packet) Type() CommandType { return CmdPacket }

// EncodedLen returns the full encoded size of the packet.
func (p *Packet) EncodedLen() int {
	return HeaderSize + PacketHeaderSize + p.Addr.EncodedLen() + len(p.Payload)
}

// Encode serializes the command including its header and payload.
func (p *Packet) Encode() []byte {
	buf := make([]byte, 0, p.EncodedLen())
	buf = append(buf, Version, byte(CmdPacket))
	buf = binary.BigEndian.AppendUint16(buf, p.AssocID)
	buf = binary.BigEndian.AppendUint16(buf, p.PktID)
	buf = append(buf, p.FragTotal, p.FragID)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Payload)))
	buf = p.Addr.AppendTo(buf)
	return append(buf, p.Payload...)
}

// Dissociate tells the server to drop an association.
type Dissociate struct {
	AssocID uint16
}

// Type implements Command.
func (d *Dissociate) Type() CommandType { return CmdDissociate }

// Encode serializes the command including its header.
func (d *Dissociate) Encode() []byte {
	buf := make([]byte, 0, HeaderSize+2)
	buf = append(buf, Version, byte(CmdDissociate))
	return binary.BigEndian.AppendUint16(buf, d.AssocID)
}

// Heartbeat keeps an otherwise idle connection alive.
type Heartbeat struct{}

// Type implements Command.
func (h *Heartbeat) Type() CommandType { return CmdHeartbeat }

// Encode serializes the command.
func (h *Heartbeat) Encode() []byte {
	return []byte{Version, byte(CmdHeartbeat)}
}

// ReadCommand reads one command from r. For Packet the payload is read as well.
func ReadCommand(r io.Reader) (Command, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	if hdr[0] != Version {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedVersion, hdr[0])
	}

	switch CommandType(hdr[1]) {
	case CmdAuthenticate:
		a := &Authenticate{}
		if _, err := io.ReadFull(r, a.UUID[:]); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, a.Token[:]); err != nil {
			return nil, err
		}
		return a, nil

	case CmdConnect:
		addr, err := ReadAddress(r)
		if err != nil {
			return nil, err
		}
		return &Connect{Addr: addr}, nil

	case CmdPacket:
		return readPacket(r)

	case CmdDissociate:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return &Dissociate{AssocID: binary.BigEndian.Uint16(buf[:])}, nil

	case CmdHeartbeat:
		return &Heartbeat{}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownCommand, hdr[1])
	}
}

// DecodeCommand decodes a command from a single buffer, such as a QUIC datagram.
func DecodeCommand(buf []byte) (Command, error) {
	cmd, err := ReadCommand(bytes.NewReader(buf))
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: truncated command", ErrInvalidPacket)
	}
	return cmd, err
}

func readPacket(r io.Reader) (*Packet, error) {
	var hdr [PacketHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	p := &Packet{
		AssocID:   binary.BigEndian.Uint16(hdr[0:2]),
		PktID:     binary.BigEndian.Uint16(hdr[2:4]),
		FragTotal: hdr[4],
		FragID:    hdr[5],
	}
	size := binary.BigEndian.Uint16(hdr[6:8])

	if p.FragTotal == 0 || p.FragID >= p.FragTotal {
		return nil, fmt.Errorf("%w: fragment %d of %d", ErrInvalidPacket, p.FragID, p.FragTotal)
	}

	addr, err := ReadAddress(r)
	if err != nil {
		return nil, err
	}
	p.Addr = addr

	p.Payload = make([]byte, size)
	if _, err := io.ReadFull(r, p.Payload); err != nil {
		return nil, err
	}

	return p, nil
}

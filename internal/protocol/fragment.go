package protocol

import (
	"errors"
	"fmt"
	"math"
)

// ErrPacketTooLarge is returned when a payload cannot be split into at most 255 fragments.
var ErrPacketTooLarge = errors.New("packet too large to fragment")

// SplitPacket splits payload into Packet fragments whose encoded size does
// not exceed maxDatagram. The destination address is carried by the first
// fragment only; the rest carry the none address.
func SplitPacket(assocID, pktID uint16, addr Address, payload []byte, maxDatagram int) ([]*Packet, error) {
	firstOverhead := HeaderSize + PacketHeaderSize + addr.EncodedLen()
	restOverhead := HeaderSize + PacketHeaderSize + NoneAddress().EncodedLen()

	if maxDatagram <= firstOverhead {
		return nil, fmt.Errorf("%w: datagram size %d leaves no room for payload", ErrPacketTooLarge, maxDatagram)
	}

	if firstOverhead+len(payload) <= maxDatagram {
		return []*Packet{{
			AssocID:   assocID,
			PktID:     pktID,
			FragTotal: 1,
			FragID:    0,
			Addr:      addr,
			Payload:   payload,
		}}, nil
	}

	firstChunk := maxDatagram - firstOverhead
	restChunk := maxDatagram - restOverhead

	remaining := len(payload) - firstChunk
	total := 1 + (remaining+restChunk-1)/restChunk
	if total > math.MaxUint8 {
		return nil, fmt.Errorf("%w: %d bytes need %d fragments", ErrPacketTooLarge, len(payload), total)
	}

	frags := make([]*Packet, 0, total)
	frags = append(frags, &Packet{
		AssocID:   assocID,
		PktID:     pktID,
		FragTotal: uint8(total),
		FragID:    0,
		Addr:      addr,
		Payload:   payload[:firstChunk],
	})

	for off := firstChunk; off < len(payload); off += restChunk {
		end := min(off+restChunk, len(payload))
		frags = append(frags, &Packet{
			AssocID:   assocID,
			PktID:     pktID,
			FragTotal: uint8(total),
			FragID:    uint8(len(frags)),
			Addr:      NoneAddress(),
			Payload:   payload[off:end],
		})
	}

	return frags, nil
}

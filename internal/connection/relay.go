package connection

import (
	"context"
	"fmt"

	"github.com/fbzhong/tuic/internal/protocol"
)

// RelayPacket sends a datagram received from addr back to the client, using
// the relay mode the client chose. Each call consumes one packet id.
func (c *Connection) RelayPacket(ctx context.Context, pkt []byte, addr protocol.Address, assocID uint16) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}

	pktID := uint16(c.nextPktID.Add(1) - 1)

	switch c.RelayMode() {
	case RelayModeQUIC:
		return c.relayStream(ctx, &protocol.Packet{
			AssocID:   assocID,
			PktID:     pktID,
			FragTotal: 1,
			Addr:      addr,
			Payload:   pkt,
		})
	default:
		return c.relayDatagrams(assocID, pktID, addr, pkt)
	}
}

func (c *Connection) relayDatagrams(assocID, pktID uint16, addr protocol.Address, pkt []byte) error {
	frags, err := protocol.SplitPacket(assocID, pktID, addr, pkt, c.cfg.MaxDatagramSize)
	if err != nil {
		return err
	}

	for _, frag := range frags {
		if err := c.tunnel.SendDatagram(frag.Encode()); err != nil {
			return fmt.Errorf("send datagram: %w", err)
		}
	}
	return nil
}

func (c *Connection) relayStream(ctx context.Context, p *protocol.Packet) error {
	stream, err := c.tunnel.OpenUniStream(ctx)
	if err != nil {
		return fmt.Errorf("open uni stream: %w", err)
	}

	if _, err := stream.Write(p.Encode()); err != nil {
		stream.Close()
		return fmt.Errorf("write packet: %w", err)
	}

	return stream.Close()
}

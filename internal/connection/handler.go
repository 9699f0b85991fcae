package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"

	"github.com/fbzhong/tuic/internal/logging"
	"github.com/fbzhong/tuic/internal/protocol"
)

// acceptUniStreams reads one command from each client unidirectional stream.
func (c *Connection) acceptUniStreams(ctx context.Context) error {
	for {
		stream, err := c.tunnel.AcceptUniStream(ctx)
		if err != nil {
			return fmt.Errorf("accept uni stream: %w", err)
		}

		c.spawn("uni-stream", func() {
			c.handleUniStream(ctx, stream)
		})
	}
}

// acceptBidiStreams rejects every bidirectional stream. TCP relay is not
// served.
func (c *Connection) acceptBidiStreams(ctx context.Context) error {
	for {
		stream, err := c.tunnel.AcceptStream(ctx)
		if err != nil {
			return fmt.Errorf("accept stream: %w", err)
		}

		c.metrics.RecordCommand(protocol.CmdConnect.String())
		c.logger.Debug("rejecting bidirectional stream, TCP relay is not supported")
		stream.Close()
	}
}

// receiveDatagrams handles commands carried in datagrams.
func (c *Connection) receiveDatagrams(ctx context.Context) error {
	for {
		b, err := c.tunnel.ReceiveDatagram(ctx)
		if err != nil {
			return fmt.Errorf("receive datagram: %w", err)
		}

		c.spawn("datagram", func() {
			c.handleDatagram(ctx, b)
		})
	}
}

func (c *Connection) handleUniStream(ctx context.Context, stream io.Reader) {
	cmd, err := protocol.ReadCommand(stream)
	if err != nil {
		c.logger.Warn("reading command from uni stream", logging.KeyError, err)
		c.protocolError(err)
		return
	}

	c.metrics.RecordCommand(cmd.Type().String())

	switch cmd := cmd.(type) {
	case *protocol.Authenticate:
		c.authenticate(cmd)

	case *protocol.Packet:
		if err := c.waitAuth(ctx); err != nil {
			return
		}
		c.handlePacket(ctx, cmd, RelayModeQUIC)

	case *protocol.Dissociate:
		if err := c.waitAuth(ctx); err != nil {
			return
		}
		c.dissociate(cmd.AssocID)

	case *protocol.Heartbeat:
		if err := c.waitAuth(ctx); err != nil {
			return
		}
		c.logger.Debug("heartbeat")

	default:
		c.logger.Warn("unexpected command on uni stream", logging.KeyCommand, cmd.Type().String())
		c.closeWithError(ErrCodeBadCommand, "bad command")
	}
}

func (c *Connection) handleDatagram(ctx context.Context, b []byte) {
	cmd, err := protocol.DecodeCommand(b)
	if err != nil {
		c.logger.Warn("decoding datagram", logging.KeyError, err)
		c.protocolError(err)
		return
	}

	c.metrics.RecordCommand(cmd.Type().String())

	switch cmd := cmd.(type) {
	case *protocol.Packet:
		if err := c.waitAuth(ctx); err != nil {
			return
		}
		c.handlePacket(ctx, cmd, RelayModeNative)

	case *protocol.Heartbeat:
		if err := c.waitAuth(ctx); err != nil {
			return
		}
		c.logger.Debug("heartbeat")

	default:
		c.logger.Warn("unexpected command in datagram", logging.KeyCommand, cmd.Type().String())
		c.closeWithError(ErrCodeBadCommand, "bad command")
	}
}

// protocolError closes the connection for malformed input. Errors from the
// stream itself mean the connection is already going away.
func (c *Connection) protocolError(err error) {
	switch {
	case errors.Is(err, protocol.ErrUnsupportedVersion),
		errors.Is(err, protocol.ErrUnknownCommand),
		errors.Is(err, protocol.ErrUnknownAddressType),
		errors.Is(err, protocol.ErrInvalidPacket):
		c.closeWithError(ErrCodeProtocol, err.Error())
	}
}

// handlePacket reassembles pkt and sends the payload from its association.
func (c *Connection) handlePacket(ctx context.Context, pkt *protocol.Packet, mode RelayMode) {
	if c.relayMode.CompareAndSwap(int32(RelayModeUnset), int32(mode)) {
		c.logger.Debug("udp relay mode set", logging.KeyRelayMode, mode.String())
	}

	payload, addr, ok := c.fragments.add(c.id, pkt)
	if !ok {
		return
	}
	if pkt.FragTotal > 1 {
		c.metrics.RecordFragmentReassembled()
	}

	if addr.IsNone() {
		c.logger.Warn("dropping packet without destination",
			logging.KeyAssocID, logging.AssocID(pkt.AssocID))
		return
	}

	dst, err := c.resolve(ctx, addr)
	if err != nil {
		c.logger.Warn("resolving packet destination",
			logging.KeyAssocID, logging.AssocID(pkt.AssocID),
			logging.KeyAddress, addr.String(),
			logging.KeyError, err)
		return
	}

	s, err := c.session(pkt.AssocID)
	if err != nil {
		if !errors.Is(err, ErrConnectionClosed) {
			c.logger.Error("creating udp association", logging.KeyError, err)
		}
		return
	}

	if err := s.Send(payload, dst); err != nil {
		c.logger.Warn("sending packet",
			logging.KeyAssocID, logging.AssocID(pkt.AssocID),
			logging.KeyAddress, dst.String(),
			logging.KeyError, err)
	}
}

// resolve turns a packet address into a socket address. IPv4-mapped IPv6
// addresses are unmapped.
func (c *Connection) resolve(ctx context.Context, addr protocol.Address) (netip.AddrPort, error) {
	if addr.Type != protocol.AddrTypeDomain {
		return netip.AddrPortFrom(addr.Addr.Addr().Unmap(), addr.Addr.Port()), nil
	}

	network := "ip"
	if !c.cfg.UDP.RelayIPv6 {
		network = "ip4"
	}

	ips, err := c.resolver.LookupNetIP(ctx, network, addr.Domain)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if len(ips) == 0 {
		return netip.AddrPort{}, fmt.Errorf("no addresses for %s", addr.Domain)
	}

	return netip.AddrPortFrom(ips[0].Unmap(), addr.Port), nil
}

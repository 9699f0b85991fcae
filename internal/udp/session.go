package udp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fbzhong/tuic/internal/logging"
	"github.com/fbzhong/tuic/internal/metrics"
	"github.com/fbzhong/tuic/internal/protocol"
	"github.com/fbzhong/tuic/internal/recovery"
)

// Connection is the parent tunnel connection of a session.
type Connection interface {
	// ID returns the connection identifier used in logs.
	ID() uint32

	// RemoteAddr returns the client's address.
	RemoteAddr() net.Addr

	// User returns the authenticated user, or "unauthenticated".
	User() string

	// RelayPacket frames a datagram received from addr and sends it to the
	// client over the tunnel.
	RelayPacket(ctx context.Context, pkt []byte, addr protocol.Address, assocID uint16) error

	// Close terminates the whole multiplexed connection.
	Close() error
}

// datagram is one result of a socket read.
type datagram struct {
	payload []byte
	from    netip.AddrPort
	err     error
}

// Session is a UDP association: a pair of outbound sockets owned on behalf of
// one association id of one tunnel connection.
type Session struct {
	assocID uint16
	conn    Connection
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	socketV4 packetConn
	socketV6 packetConn // nil when IPv6 relay is disabled

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}

	ctx    context.Context // cancelled by Close and when the loop exits
	cancel context.CancelFunc

	inbound  chan datagram
	stopped  chan struct{} // loop has exited; readers must stop sending
	done     chan struct{} // loop exited and sockets released
	readers  sync.WaitGroup
	dispatch *dispatcher

	recvWarn rate.Sometimes
}

// NewSession binds the association sockets and starts the listening loop.
// It returns as soon as the loop goroutine has been started.
func NewSession(conn Connection, assocID uint16, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Session, error) {
	socketV4, err := listenIPv4()
	if err != nil {
		return nil, err
	}

	var socketV6 packetConn
	if cfg.RelayIPv6 {
		v6, err := listenIPv6()
		if err != nil {
			socketV4.Close()
			return nil, err
		}
		socketV6 = v6
	}

	return newSession(conn, assocID, cfg, logger, m, socketV4, socketV6), nil
}

func newSession(conn Connection, assocID uint16, cfg Config, logger *slog.Logger, m *metrics.Metrics, v4, v6 packetConn) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		assocID:  assocID,
		conn:     conn,
		cfg:      cfg,
		metrics:  m,
		socketV4: v4,
		socketV6: v6,
		closeCh:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		inbound:  make(chan datagram),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
		recvWarn: rate.Sometimes{First: 1, Interval: time.Second},
		logger:   logging.ForAssociation(logger, conn.ID(), addrString(conn.RemoteAddr()), conn.User(), assocID),
	}

	s.dispatch = newDispatcher(s.ctx, cfg.RelayWorkers, cfg.RelayQueueSize, s.relay, s.logger)

	s.readers.Add(1)
	go s.readLoop(v4, familyIPv4)
	if v6 != nil {
		s.readers.Add(1)
		go s.readLoop(v6, familyIPv6)
	}

	m.RecordSessionOpen()
	go s.listen()

	return s
}

// AssocID returns the association id.
func (s *Session) AssocID() uint16 {
	return s.assocID
}

// LocalAddrs returns the bound address of the IPv4 socket and, when IPv6
// relay is enabled, of the IPv6 socket.
func (s *Session) LocalAddrs() (v4 netip.AddrPort, v6 netip.AddrPort, hasV6 bool) {
	v4 = udpAddrPort(s.socketV4.LocalAddr())
	if s.socketV6 != nil {
		return v4, udpAddrPort(s.socketV6.LocalAddr()), true
	}
	return v4, netip.AddrPort{}, false
}

// Send writes pkt to addr from the socket matching the address family.
// IPv4-mapped IPv6 destinations are sent from the IPv4 socket.
func (s *Session) Send(pkt []byte, addr netip.AddrPort) error {
	if !addr.IsValid() {
		return fmt.Errorf("invalid destination address %s", addr)
	}

	dst := netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())

	socket := s.socketV4
	if !dst.Addr().Is4() {
		if s.socketV6 == nil {
			s.metrics.RecordSendError("ipv6_disabled")
			return &IPv6DisabledError{Addr: addr}
		}
		socket = s.socketV6
	}

	if _, err := socket.WriteToUDPAddrPort(pkt, dst); err != nil {
		s.metrics.RecordSendError("io")
		return fmt.Errorf("send to %s: %w", dst, err)
	}

	s.metrics.RecordDatagram(metrics.DirectionOutbound, len(pkt))
	return nil
}

// Close signals the listening loop to exit. It does not close the parent
// connection and does not wait for the loop; use Done for that.
// Calling Close more than once is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.closeCh)
	s.cancel()
}

// Done is closed once the listening loop has exited and the sockets are closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// listen is the listening loop. Each iteration arms a fresh idle timer and
// waits for the first of: timer, close signal, datagram.
func (s *Session) listen() {
	defer s.finish()
	defer recovery.RecoverWithLog(s.logger, "udp-listen")

	for {
		var timeout <-chan time.Time
		var timer *time.Timer
		if s.cfg.MaxIdleTime > 0 {
			timer = time.NewTimer(s.cfg.MaxIdleTime)
			timeout = timer.C
		}

		select {
		case <-timeout:
			s.metrics.RecordIdleTimeout()
			if err := s.conn.Close(); err != nil {
				s.logger.Debug("closing connection after idle timeout", logging.KeyError, err)
			}
			s.logger.Debug("udp session idle timeout, close connection",
				logging.KeyDuration, s.cfg.MaxIdleTime)

		case <-s.closeCh:
			stopTimer(timer)
			s.logger.Debug("received close signal, exiting udp session listening loop")
			return

		case d := <-s.inbound:
			stopTimer(timer)

			// Close wins over a datagram that raced with it.
			select {
			case <-s.closeCh:
				s.logger.Debug("received close signal, exiting udp session listening loop")
				return
			default:
			}

			if d.err != nil {
				s.metrics.RecordReceiveError()
				s.recvWarn.Do(func() {
					s.logger.Warn("outbound listening error", logging.KeyError, d.err)
				})
				continue
			}

			if s.dispatch.submit(relayJob{payload: d.payload, from: d.from}) {
				s.metrics.RecordDispatchDrop()
			}
		}
	}
}

// finish releases everything the session owns once the loop has exited.
func (s *Session) finish() {
	s.cancel()
	close(s.stopped)

	s.socketV4.Close()
	if s.socketV6 != nil {
		s.socketV6.Close()
	}

	s.readers.Wait()
	s.dispatch.wait()

	s.metrics.RecordSessionClose()
	s.logger.Debug("exited udp session listening loop")
	close(s.done)
}

// readLoop feeds datagrams from one socket into the listening loop.
func (s *Session) readLoop(socket packetConn, family string) {
	defer s.readers.Done()
	defer recovery.RecoverWithLog(s.logger, "udp-read-"+family)

	buf := make([]byte, s.cfg.MaxExternalPacketSize)

	for {
		n, from, err := socket.ReadFromUDPAddrPort(buf)

		var d datagram
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			d.err = fmt.Errorf("receive on %s socket: %w", family, err)
		} else {
			d.payload = bytes.Clone(buf[:n])
			d.from = from
		}

		select {
		case s.inbound <- d:
		case <-s.stopped:
			return
		}
	}
}

// relay hands one datagram to the parent connection. Failures are logged and dropped.
func (s *Session) relay(ctx context.Context, job relayJob) {
	if ctx.Err() != nil {
		return
	}

	addr := protocol.SocketAddress(job.from)
	if err := s.conn.RelayPacket(ctx, job.payload, addr, s.assocID); err != nil {
		s.metrics.RecordRelayFailure()
		s.logger.Warn("failed relaying packet",
			logging.KeyAddress, addr.String(),
			logging.KeyError, err)
		return
	}

	s.metrics.RecordDatagram(metrics.DirectionInbound, len(job.payload))
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func udpAddrPort(addr net.Addr) netip.AddrPort {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return ua.AddrPort()
	}
	ap, _ := netip.ParseAddrPort(addrString(addr))
	return ap
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

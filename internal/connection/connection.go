// Package connection implements the server side of one TUIC connection:
// authentication, command dispatch and the UDP associations it owns.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fbzhong/tuic/internal/logging"
	"github.com/fbzhong/tuic/internal/metrics"
	"github.com/fbzhong/tuic/internal/recovery"
	"github.com/fbzhong/tuic/internal/udp"
)

// ErrConnectionClosed is returned for operations on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

const unauthenticated = "unauthenticated"

// RelayMode is how UDP packets travel over the tunnel.
type RelayMode int32

const (
	// RelayModeUnset means no packet has been received yet.
	RelayModeUnset RelayMode = iota
	// RelayModeNative carries packets in QUIC datagrams.
	RelayModeNative
	// RelayModeQUIC carries each packet on its own unidirectional stream.
	RelayModeQUIC
)

func (m RelayMode) String() string {
	switch m {
	case RelayModeNative:
		return "native"
	case RelayModeQUIC:
		return "quic"
	default:
		return "unset"
	}
}

// Resolver looks up domain addresses carried by packets.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Config holds the settings shared by every connection of a server.
type Config struct {
	// Users maps user ids to passwords.
	Users map[uuid.UUID]string

	// AuthTimeout bounds how long commands wait for authentication.
	AuthTimeout time.Duration

	// MaxDatagramSize is the largest datagram sent in native relay mode.
	// Larger packets are fragmented.
	MaxDatagramSize int

	// GCLifetime is how long an incomplete fragmented packet is kept.
	GCLifetime time.Duration

	// UDP is the configuration of every association.
	UDP udp.Config
}

// Connection is one authenticated-or-not TUIC connection.
type Connection struct {
	id      uint32
	tunnel  Tunnel
	cfg     Config
	logger  *slog.Logger
	base    *slog.Logger // without connection attributes, handed to sessions
	metrics *metrics.Metrics

	resolver Resolver

	user        atomic.Pointer[string]
	authOnce    sync.Once
	authed      chan struct{}
	authExpired atomic.Bool

	relayMode atomic.Int32
	nextPktID atomic.Uint32

	fragments *FragmentCache

	mu       sync.Mutex
	closed   bool
	sessions map[uint16]*udp.Session
	sessWG   sync.WaitGroup

	tasks sync.WaitGroup
}

// Option configures a Connection.
type Option func(*Connection)

// WithResolver overrides the resolver used for domain addresses.
func WithResolver(r Resolver) Option {
	return func(c *Connection) {
		c.resolver = r
	}
}

// WithFragmentCache shares a fragment cache between connections.
func WithFragmentCache(fc *FragmentCache) Option {
	return func(c *Connection) {
		c.fragments = fc
	}
}

// New creates a Connection on tunnel. Call Serve to start handling it.
func New(tunnel Tunnel, cfg Config, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Connection {
	c := &Connection{
		id:        rand.Uint32(),
		tunnel:    tunnel,
		cfg:       cfg,
		base:      logger,
		metrics:   m,
		resolver:  net.DefaultResolver,
		authed:    make(chan struct{}),
		sessions:  make(map[uint16]*udp.Session),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.fragments == nil {
		c.fragments = NewFragmentCache(cfg.GCLifetime, m)
	}

	c.logger = logging.ForConnection(logger, c.id, addrString(tunnel.RemoteAddr()))

	return c
}

// ID returns the connection id.
func (c *Connection) ID() uint32 {
	return c.id
}

// RemoteAddr returns the client's address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.tunnel.RemoteAddr()
}

// User returns the authenticated user id, or "unauthenticated".
func (c *Connection) User() string {
	if u := c.user.Load(); u != nil {
		return *u
	}
	return unauthenticated
}

// Authenticated reports whether the client has authenticated.
func (c *Connection) Authenticated() bool {
	select {
	case <-c.authed:
		return true
	default:
		return false
	}
}

// RelayMode returns the mode fixed by the first received packet.
func (c *Connection) RelayMode() RelayMode {
	return RelayMode(c.relayMode.Load())
}

// SessionCount returns the number of open associations.
func (c *Connection) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Serve handles the connection until it is closed or ctx is cancelled, then
// closes every association and waits for them to finish.
func (c *Connection) Serve(ctx context.Context) error {
	c.metrics.RecordConnectionOpen()
	defer c.metrics.RecordConnectionClose()

	c.logger.Info("connection established")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.watchAuth(gctx) })
	g.Go(func() error { return c.acceptUniStreams(gctx) })
	g.Go(func() error { return c.acceptBidiStreams(gctx) })
	g.Go(func() error { return c.receiveDatagrams(gctx) })

	err := g.Wait()
	closedLocally := c.isClosed()

	c.Close()
	c.tasks.Wait()
	c.sessWG.Wait()

	c.logger.Info("connection closed", logging.KeyUser, c.User())

	if c.authExpired.Load() {
		return ErrAuthTimeout
	}
	if closedLocally {
		return nil
	}
	return err
}

// Close closes the tunnel and every association. Calling Close more than
// once is a no-op.
func (c *Connection) Close() error {
	return c.closeWithError(ErrCodeNormal, "")
}

func (c *Connection) closeWithError(code uint64, msg string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := c.sessions
	c.sessions = make(map[uint16]*udp.Session)
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	return c.tunnel.CloseWithError(code, msg)
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// session returns the association for assocID, creating it on first use.
func (c *Connection) session(assocID uint16) (*udp.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrConnectionClosed
	}

	if s, ok := c.sessions[assocID]; ok {
		return s, nil
	}

	s, err := udp.NewSession(c, assocID, c.cfg.UDP, c.base, c.metrics)
	if err != nil {
		return nil, fmt.Errorf("create association %s: %w", logging.AssocID(assocID), err)
	}
	c.sessions[assocID] = s

	c.sessWG.Add(1)
	go func() {
		<-s.Done()
		c.sessWG.Done()
	}()

	c.logger.Debug("udp association created", logging.KeyAssocID, logging.AssocID(assocID))
	return s, nil
}

// dissociate closes and forgets the association.
func (c *Connection) dissociate(assocID uint16) {
	c.mu.Lock()
	s, ok := c.sessions[assocID]
	delete(c.sessions, assocID)
	c.mu.Unlock()

	if !ok {
		return
	}

	s.Close()
	c.logger.Debug("udp association dissociated", logging.KeyAssocID, logging.AssocID(assocID))
}

// spawn runs fn on its own goroutine, tracked until Serve returns.
func (c *Connection) spawn(name string, fn func()) {
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		defer recovery.RecoverWithLog(c.logger, name)
		fn()
	}()
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// Package server accepts QUIC connections and serves each as a TUIC connection.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/fbzhong/tuic/internal/connection"
	"github.com/fbzhong/tuic/internal/health"
	"github.com/fbzhong/tuic/internal/logging"
	"github.com/fbzhong/tuic/internal/metrics"
	"github.com/fbzhong/tuic/internal/recovery"
)

// Default QUIC configuration values
const (
	DefaultMaxIdleTimeout        = 10 * time.Second
	DefaultKeepAlivePeriod       = 3 * time.Second
	DefaultMaxIncomingUniStreams = 512
)

// Config contains the listener and per-connection settings.
type Config struct {
	Listen                string
	TLS                   *tls.Config
	MaxIdleTimeout        time.Duration
	KeepAlivePeriod       time.Duration
	MaxIncomingUniStreams int64
	Connection            connection.Config
}

// Server is a TUIC server on a QUIC listener.
type Server struct {
	cfg       Config
	base      *slog.Logger
	logger    *slog.Logger
	metrics   *metrics.Metrics
	fragments *connection.FragmentCache

	listener *quic.Listener
	running  atomic.Bool

	mu     sync.Mutex
	conns  map[*connection.Connection]struct{}
	closed bool

	wg sync.WaitGroup
}

// New creates a Server. Call Listen and then Serve.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		base:      logger,
		logger:    logger.With(slog.String(logging.KeyComponent, "server")),
		metrics:   m,
		fragments: connection.NewFragmentCache(cfg.Connection.GCLifetime, m),
		conns:     make(map[*connection.Connection]struct{}),
	}
}

// Listen binds the QUIC listener.
func (s *Server) Listen() error {
	if s.cfg.TLS == nil {
		return fmt.Errorf("TLS config required for QUIC listener")
	}

	tlsConfig := s.cfg.TLS
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.NextProtos = []string{DefaultALPN}
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:        orDefault(s.cfg.MaxIdleTimeout, DefaultMaxIdleTimeout),
		KeepAlivePeriod:       orDefault(s.cfg.KeepAlivePeriod, DefaultKeepAlivePeriod),
		MaxIncomingUniStreams: orDefault(s.cfg.MaxIncomingUniStreams, DefaultMaxIncomingUniStreams),
		EnableDatagrams:       true,
	}

	listener, err := quic.ListenAddr(s.cfg.Listen, tlsConfig, quicConfig)
	if err != nil {
		return fmt.Errorf("QUIC listen failed: %w", err)
	}

	s.listener = listener
	s.running.Store(true)
	s.logger.Info("listening", logging.KeyLocalAddr, listener.Addr().String())

	return nil
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or the server is closed.
// Each connection is served on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("server is not listening")
	}

	for {
		qconn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		conn := connection.New(connection.NewQUICTunnel(qconn), s.cfg.Connection, s.base, s.metrics,
			connection.WithFragmentCache(s.fragments))

		if !s.track(conn) {
			conn.Close()
			return nil
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			defer recovery.RecoverWithCallback(s.logger, "connection", func(any) {
				conn.Close()
			})

			if err := conn.Serve(ctx); err != nil {
				s.logger.Debug("connection ended",
					logging.KeyConnID, logging.ConnID(conn.ID()),
					logging.KeyError, err)
			}
		}()
	}
}

// Close stops the listener, closes every connection and waits for them.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*connection.Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.running.Store(false)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()

	return err
}

// IsRunning implements health.StatsProvider.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Stats implements health.StatsProvider.
func (s *Server) Stats() health.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats health.Stats
	for c := range s.conns {
		stats.ConnectionCount++
		if c.Authenticated() {
			stats.AuthenticatedCount++
		}
		stats.SessionCount += c.SessionCount()
	}
	return stats
}

func (s *Server) track(c *connection.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *connection.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

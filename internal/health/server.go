// Package health serves liveness, readiness, Prometheus and pprof endpoints
// for the TUIC server.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsProvider is implemented by the QUIC server.
type StatsProvider interface {
	// IsRunning returns true if the server is accepting connections.
	IsRunning() bool

	// Stats returns a snapshot of the live connections.
	Stats() Stats
}

// Stats is a snapshot of the relay's live state.
type Stats struct {
	ConnectionCount    int `json:"connection_count"`
	AuthenticatedCount int `json:"authenticated_count"`
	SessionCount       int `json:"udp_session_count"`
}

// ServerConfig contains health server configuration.
type ServerConfig struct {
	Address      string // e.g. "127.0.0.1:8080"
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Version is reported by /healthz.
	Version string
}

// DefaultServerConfig returns a loopback-only configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// status is the /healthz response body.
type status struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
	Version string `json:"version,omitempty"`
	Uptime  string `json:"uptime"`
	*Stats
}

// Server is the HTTP health endpoint.
type Server struct {
	cfg      ServerConfig
	provider StatsProvider
	started  time.Time

	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a health server reporting on provider. provider may be
// nil, in which case the server always reports unavailable.
func NewServer(cfg ServerConfig, provider StatsProvider) *Server {
	s := &Server{
		cfg:      cfg,
		provider: provider,
		started:  time.Now(),
	}

	mux := http.NewServeMux()
	mux.Handle("/health", getOnly(s.handleHealth))
	mux.Handle("/healthz", getOnly(s.handleHealthz))
	mux.Handle("/ready", getOnly(s.handleReady))
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	go s.server.Serve(ln)

	return nil
}

// Run starts the server and stops it when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Stop shuts the server down. Calling Stop more than once is a no-op.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Address returns the bound address, or nil before Start.
func (s *Server) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// IsRunning returns true between Start and Stop.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) ready() bool {
	return s.provider != nil && s.provider.IsRunning()
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "OK\n")
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := status{
		Status:  "unavailable",
		Version: s.cfg.Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}

	if !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	stats := s.provider.Stats()
	resp.Status = "healthy"
	resp.Running = true
	resp.Stats = &stats
	writeJSON(w, http.StatusOK, resp)
}

// handleReady is the readiness probe.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready() {
		writeText(w, http.StatusServiceUnavailable, "NOT READY\n")
		return
	}
	writeText(w, http.StatusOK, "READY\n")
}

func getOnly(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	})
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Package metrics provides Prometheus metrics for the TUIC relay server.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "tuic"
)

// Datagram directions.
const (
	// DirectionOutbound is tunnel to network (Send).
	DirectionOutbound = "outbound"
	// DirectionInbound is network to tunnel (relay).
	DirectionInbound = "inbound"
)

// Metrics contains all Prometheus metrics for the server.
type Metrics struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	AuthFailures      prometheus.Counter
	Commands          *prometheus.CounterVec

	// UDP session metrics
	SessionsActive prometheus.Gauge
	SessionsOpened prometheus.Counter
	SessionsClosed prometheus.Counter
	IdleTimeouts   prometheus.Counter

	// Datagram metrics
	Datagrams       *prometheus.CounterVec
	Bytes           *prometheus.CounterVec
	SendErrors      *prometheus.CounterVec
	ReceiveErrors   prometheus.Counter
	RelayFailures   prometheus.Counter
	DispatchDropped prometheus.Counter

	// Fragment metrics
	FragmentsReassembled prometheus.Counter
	FragmentsExpired     prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently open tunnel connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of tunnel connections accepted",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of failed or timed out authentications",
		}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total commands received by type",
		}, []string{"command"}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "sessions_active",
			Help:      "Number of currently active UDP associations",
		}),
		SessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "sessions_opened_total",
			Help:      "Total number of UDP associations opened",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "sessions_closed_total",
			Help:      "Total number of UDP associations closed",
		}),
		IdleTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "idle_timeouts_total",
			Help:      "Total number of idle timeouts that closed the parent connection",
		}),

		Datagrams: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "datagrams_total",
			Help:      "Total datagrams relayed by direction",
		}, []string{"direction"}),
		Bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "bytes_total",
			Help:      "Total payload bytes relayed by direction",
		}, []string{"direction"}),
		SendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "send_errors_total",
			Help:      "Total failed sends to the network by reason",
		}, []string{"reason"}),
		ReceiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "receive_errors_total",
			Help:      "Total receive errors on association sockets",
		}),
		RelayFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "relay_failures_total",
			Help:      "Total datagrams that could not be relayed into the tunnel",
		}),
		DispatchDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "dispatch_dropped_total",
			Help:      "Total datagrams dropped because the relay queue was full",
		}),

		FragmentsReassembled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "fragments_reassembled_total",
			Help:      "Total fragmented packets reassembled",
		}),
		FragmentsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "fragments_expired_total",
			Help:      "Total incomplete fragmented packets evicted",
		}),
	}
}

// RecordConnectionOpen records an accepted tunnel connection.
func (m *Metrics) RecordConnectionOpen() {
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

// RecordConnectionClose records a finished tunnel connection.
func (m *Metrics) RecordConnectionClose() {
	m.ConnectionsActive.Dec()
}

// RecordAuthFailure records a failed authentication.
func (m *Metrics) RecordAuthFailure() {
	m.AuthFailures.Inc()
}

// RecordCommand records a received command.
func (m *Metrics) RecordCommand(command string) {
	m.Commands.WithLabelValues(command).Inc()
}

// RecordSessionOpen records a new UDP association.
func (m *Metrics) RecordSessionOpen() {
	m.SessionsActive.Inc()
	m.SessionsOpened.Inc()
}

// RecordSessionClose records a UDP association whose loop has exited.
func (m *Metrics) RecordSessionClose() {
	m.SessionsActive.Dec()
	m.SessionsClosed.Inc()
}

// RecordIdleTimeout records an idle timeout.
func (m *Metrics) RecordIdleTimeout() {
	m.IdleTimeouts.Inc()
}

// RecordDatagram records one relayed datagram of n payload bytes.
func (m *Metrics) RecordDatagram(direction string, n int) {
	m.Datagrams.WithLabelValues(direction).Inc()
	m.Bytes.WithLabelValues(direction).Add(float64(n))
}

// RecordSendError records a failed send to the network.
func (m *Metrics) RecordSendError(reason string) {
	m.SendErrors.WithLabelValues(reason).Inc()
}

// RecordReceiveError records a receive error on an association socket.
func (m *Metrics) RecordReceiveError() {
	m.ReceiveErrors.Inc()
}

// RecordRelayFailure records a datagram that could not be relayed into the tunnel.
func (m *Metrics) RecordRelayFailure() {
	m.RelayFailures.Inc()
}

// RecordDispatchDrop records a datagram dropped from a full relay queue.
func (m *Metrics) RecordDispatchDrop() {
	m.DispatchDropped.Inc()
}

// RecordFragmentReassembled records a completed fragmented packet.
func (m *Metrics) RecordFragmentReassembled() {
	m.FragmentsReassembled.Inc()
}

// RecordFragmentExpired records an incomplete fragmented packet that was evicted.
func (m *Metrics) RecordFragmentExpired() {
	m.FragmentsExpired.Inc()
}

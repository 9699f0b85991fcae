package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// Create a new registry for isolated testing
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.SessionsActive == nil {
		t.Error("SessionsActive metric is nil")
	}
	if m.Datagrams == nil {
		t.Error("Datagrams metric is nil")
	}
}

func TestRecordConnection(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordConnectionOpen()
	m.RecordConnectionOpen()
	m.RecordConnectionClose()

	if got := testutil.ToFloat64(m.ConnectionsActive); got != 1 {
		t.Errorf("ConnectionsActive = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConnectionsTotal); got != 2 {
		t.Errorf("ConnectionsTotal = %v, want 2", got)
	}
}

func TestRecordSession(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordSessionOpen()
	m.RecordSessionOpen()
	m.RecordSessionOpen()
	m.RecordSessionClose()

	if got := testutil.ToFloat64(m.SessionsActive); got != 2 {
		t.Errorf("SessionsActive = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SessionsOpened); got != 3 {
		t.Errorf("SessionsOpened = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.SessionsClosed); got != 1 {
		t.Errorf("SessionsClosed = %v, want 1", got)
	}
}

func TestRecordDatagram(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordDatagram(DirectionOutbound, 5)
	m.RecordDatagram(DirectionOutbound, 10)
	m.RecordDatagram(DirectionInbound, 7)

	if got := testutil.ToFloat64(m.Datagrams.WithLabelValues(DirectionOutbound)); got != 2 {
		t.Errorf("outbound datagrams = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Bytes.WithLabelValues(DirectionOutbound)); got != 15 {
		t.Errorf("outbound bytes = %v, want 15", got)
	}
	if got := testutil.ToFloat64(m.Bytes.WithLabelValues(DirectionInbound)); got != 7 {
		t.Errorf("inbound bytes = %v, want 7", got)
	}
}

func TestRecordErrors(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordSendError("ipv6_disabled")
	m.RecordSendError("io")
	m.RecordSendError("io")
	m.RecordReceiveError()
	m.RecordRelayFailure()
	m.RecordDispatchDrop()
	m.RecordIdleTimeout()
	m.RecordAuthFailure()

	if got := testutil.ToFloat64(m.SendErrors.WithLabelValues("io")); got != 2 {
		t.Errorf("io send errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SendErrors.WithLabelValues("ipv6_disabled")); got != 1 {
		t.Errorf("ipv6_disabled send errors = %v, want 1", got)
	}
	for name, c := range map[string]prometheus.Collector{
		"ReceiveErrors":   m.ReceiveErrors,
		"RelayFailures":   m.RelayFailures,
		"DispatchDropped": m.DispatchDropped,
		"IdleTimeouts":    m.IdleTimeouts,
		"AuthFailures":    m.AuthFailures,
	} {
		if got := testutil.ToFloat64(c); got != 1 {
			t.Errorf("%s = %v, want 1", name, got)
		}
	}
}

func TestDefault(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() should return the same instance")
	}
}

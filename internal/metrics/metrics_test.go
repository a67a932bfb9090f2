package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMetricsRecord tests that recorder methods reach their collectors.
func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "")

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.SetUsersOnline(3)
	m.Event("join-chat-session", StatusOK)
	m.Event("join-chat-session", StatusOK)
	m.Event("typing-start", StatusRejected)
	m.Delivery(DeliveryBufferFull)
	m.AuthAttempt("success")
	m.Ingress("nats", "routed")
	m.TypingExpired(2)
	m.TypingExpired(0)
	m.MirrorDropped()
	m.EventDiscarded()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsOpen))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.usersOnline))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("join-chat-session", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("typing-start", StatusRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveriesTotal.WithLabelValues(DeliveryBufferFull)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authAttemptsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingressMessages.WithLabelValues("nats", "routed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.typingExpiredTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mirrorDroppedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsDiscardedTotal))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "presencehub_connections_open")
	assert.Contains(t, names, "presencehub_broadcast_deliveries_total")
}

// TestNilMetrics tests that a nil recorder is a no-op.
func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.SetUsersOnline(1)
		m.Event("x", StatusOK)
		m.Delivery(DeliverySent)
		m.AuthAttempt("failure")
		m.Ingress("kafka", "invalid")
		m.TypingExpired(1)
		m.MirrorDropped()
		m.EventDiscarded()
	})
}

// TestDuplicateRegistrationPanics tests that two recorders cannot share a registry.
func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, "dup")
	assert.Panics(t, func() { New(reg, "dup") })
}

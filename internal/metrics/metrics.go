// Package metrics holds the Prometheus collectors exported by the coordinator.
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "presencehub"

// Event statuses.
const (
	StatusOK        = "ok"
	StatusRejected  = "rejected"
	StatusInvalid   = "invalid"
	StatusDiscarded = "discarded"
)

// Delivery results.
const (
	DeliverySent       = "sent"
	DeliveryBufferFull = "buffer_full"
	DeliveryNoTarget   = "no_target"
)

// Metrics bundles the collectors.
type Metrics struct {
	connectionsOpen      prometheus.Gauge
	usersOnline          prometheus.Gauge
	eventsTotal          *prometheus.CounterVec
	deliveriesTotal      *prometheus.CounterVec
	authAttemptsTotal    *prometheus.CounterVec
	ingressMessages      *prometheus.CounterVec
	typingExpiredTotal   prometheus.Counter
	mirrorDroppedTotal   prometheus.Counter
	eventsDiscardedTotal prometheus.Counter
}

// New registers the collectors on reg. An empty namespace uses DefaultNamespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		connectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of open WebSocket connections",
		}),
		usersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users_online",
			Help:      "Number of identities with at least one open connection",
		}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound client events by name and outcome",
		}, []string{"event", "status"}),
		deliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Per-connection delivery attempts by result",
		}, []string{"result"}),
		authAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by result",
		}, []string{"result"}),
		ingressMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingress_messages_total",
			Help:      "Messages received from external collaborators by source and result",
		}, []string{"source", "result"}),
		typingExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "typing_expired_total",
			Help:      "Typing indicators cleared by the server-side TTL",
		}),
		mirrorDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_mirror_dropped_total",
			Help:      "Presence records dropped because the mirror queue was full",
		}),
		eventsDiscardedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_discarded_total",
			Help:      "Events that arrived for a connection that had already closed",
		}),
	}
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsOpen.Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsOpen.Dec()
}

// SetUsersOnline sets the online identity gauge.
func (m *Metrics) SetUsersOnline(n int) {
	if m == nil {
		return
	}
	m.usersOnline.Set(float64(n))
}

// Event counts one inbound event.
func (m *Metrics) Event(event, status string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(event, status).Inc()
}

// Delivery counts one per-connection delivery attempt.
func (m *Metrics) Delivery(result string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(result).Inc()
}

// AuthAttempt counts one authentication result.
func (m *Metrics) AuthAttempt(result string) {
	if m == nil {
		return
	}
	m.authAttemptsTotal.WithLabelValues(result).Inc()
}

// Ingress counts one collaborator message.
func (m *Metrics) Ingress(source, result string) {
	if m == nil {
		return
	}
	m.ingressMessages.WithLabelValues(source, result).Inc()
}

// TypingExpired counts indicators cleared by TTL.
func (m *Metrics) TypingExpired(n int) {
	if m == nil || n == 0 {
		return
	}
	m.typingExpiredTotal.Add(float64(n))
}

// MirrorDropped counts one dropped mirror write.
func (m *Metrics) MirrorDropped() {
	if m == nil {
		return
	}
	m.mirrorDroppedTotal.Inc()
}

// EventDiscarded counts one event for a closed connection.
func (m *Metrics) EventDiscarded() {
	if m == nil {
		return
	}
	m.eventsDiscardedTotal.Inc()
}

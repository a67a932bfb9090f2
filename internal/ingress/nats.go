package ingress

import (
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/metrics"
)

// DefaultNATSSubject matches every room feed.
const DefaultNATSSubject = "presencehub.rooms.>"

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	Servers []string
	Name    string
}

// ConnectNATS dials the configured servers and keeps reconnecting forever.
func ConnectNATS(cfg NATSConfig, log *zap.Logger) (*nats.Conn, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","),
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}
	return nc, nil
}

// NATSSubscriber consumes envelopes from a core NATS subject.
type NATSSubscriber struct {
	nc  *nats.Conn
	sub *nats.Subscription
	h   handler
}

// NewNATSSubscriber returns a subscriber publishing into pub.
func NewNATSSubscriber(nc *nats.Conn, pub Publisher, log *zap.Logger, m *metrics.Metrics) *NATSSubscriber {
	return &NATSSubscriber{nc: nc, h: newHandler("nats", pub, log, m)}
}

// Subscribe starts consuming subject. A non-empty queue joins a queue group
// so that several replicas share the feed.
func (s *NATSSubscriber) Subscribe(subject, queue string) error {
	if subject == "" {
		subject = DefaultNATSSubject
	}

	var err error
	if queue == "" {
		s.sub, err = s.nc.Subscribe(subject, s.handleMsg)
	} else {
		s.sub, err = s.nc.QueueSubscribe(subject, queue, s.handleMsg)
	}
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", subject)
	}
	s.applyPendingLimits()
	s.h.log.Info("nats ingress subscribed", zap.String("subject", subject), zap.String("queue", queue))
	return nil
}

// Pending limits of the subscription's delivery buffer.
const (
	natsPendingMsgs  = 1_000_000
	natsPendingBytes = 64 * 1024 * 1024
)

func (s *NATSSubscriber) applyPendingLimits() {
	if err := s.sub.SetPendingLimits(natsPendingMsgs, natsPendingBytes); err != nil {
		s.h.log.Warn("nats pending limits not applied, using client defaults", zap.Error(err))
	}
}

func (s *NATSSubscriber) handleMsg(m *nats.Msg) {
	_ = s.h.handle(m.Data)
}

// Close drains the subscription.
func (s *NATSSubscriber) Close() error {
	if s == nil || s.sub == nil {
		return nil
	}
	return errors.Wrap(s.sub.Drain(), "drain nats subscription")
}

package ingress

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/metrics"
)

// Ingress results.
const (
	resultRouted   = "routed"
	resultInvalid  = "invalid"
	resultRejected = "rejected"
	resultPanic    = "panic"
)

// handler routes raw envelopes from one source and records the outcome.
type handler struct {
	source  string
	pub     Publisher
	log     *zap.Logger
	metrics *metrics.Metrics
}

func newHandler(source string, pub Publisher, log *zap.Logger, m *metrics.Metrics) handler {
	if log == nil {
		log = zap.NewNop()
	}
	return handler{source: source, pub: pub, log: log, metrics: m}
}

// handle never panics; a failing message is logged and skipped.
func (h handler) handle(raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic while routing ingress message", zap.Any("panic", r), zap.Stack("stack"))
			h.metrics.Ingress(h.source, resultPanic)
			err = errors.Errorf("panic: %v", r)
		}
	}()

	d, err := Route(h.pub, raw)
	switch {
	case errors.Is(err, ErrInvalidEnvelope):
		h.log.Warn("dropping invalid ingress message", zap.Error(err))
		h.metrics.Ingress(h.source, resultInvalid)
	case err != nil:
		h.log.Warn("hub rejected ingress message", zap.String("room", d.Room), zap.Error(err))
		h.metrics.Ingress(h.source, resultRejected)
	default:
		h.log.Debug("routed ingress message", zap.String("room", d.Room), zap.String("event", d.Event))
		h.metrics.Ingress(h.source, resultRouted)
	}
	return err
}

package ingress

import (
	"context"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/metrics"
)

// KafkaConfig configures the consumer group.
type KafkaConfig struct {
	Brokers []string
	Group   string
	Topics  []string
}

// KafkaConsumer consumes envelopes from a Kafka consumer group.
type KafkaConsumer struct {
	group  sarama.ConsumerGroup
	topics []string
	h      handler
	log    *zap.Logger
}

// NewKafkaConsumer joins cfg.Group. Offsets start at the newest message
// since missed broadcasts are not replayed.
func NewKafkaConsumer(cfg KafkaConfig, pub Publisher, log *zap.Logger, m *metrics.Metrics) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Group == "" || len(cfg.Topics) == 0 {
		return nil, errors.New("kafka brokers, group and topics are required")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.Group, sc)
	if err != nil {
		return nil, errors.Wrapf(err, "join consumer group %s", cfg.Group)
	}
	return newKafkaConsumer(group, cfg.Topics, pub, log, m), nil
}

func newKafkaConsumer(group sarama.ConsumerGroup, topics []string, pub Publisher, log *zap.Logger, m *metrics.Metrics) *KafkaConsumer {
	h := newHandler("kafka", pub, log, m)
	return &KafkaConsumer{group: group, topics: topics, h: h, log: h.log}
}

// Run consumes until ctx is done. Rebalances and transient errors restart
// the session after a short pause.
func (c *KafkaConsumer) Run(ctx context.Context) {
	go func() {
		for err := range c.group.Errors() {
			c.log.Warn("kafka consumer group error", zap.Error(err))
		}
	}()

	for ctx.Err() == nil {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			c.log.Warn("kafka consume failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// Close leaves the group.
func (c *KafkaConsumer) Close() error {
	return errors.Wrap(c.group.Close(), "close consumer group")
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *KafkaConsumer) Setup(s sarama.ConsumerGroupSession) error {
	c.log.Info("kafka ingress session started", zap.String("member", s.MemberID()), zap.Int32("generation", s.GenerationID()))
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *KafkaConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler. Every message is
// marked, routable or not, so a poison message cannot stall the partition.
func (c *KafkaConsumer) ConsumeClaim(s sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			_ = c.h.handle(msg.Value)
			s.MarkMessage(msg, "")
		case <-s.Context().Done():
			return nil
		}
	}
}

package ingress

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type published struct {
	room    string
	event   string
	payload string
}

type fakePublisher struct {
	mu     sync.Mutex
	got    []published
	refuse bool
	panic  bool
}

func (p *fakePublisher) PublishToRoom(room, event string, payload json.RawMessage) bool {
	if p.panic {
		panic("boom")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refuse {
		return false
	}
	p.got = append(p.got, published{room, event, string(payload)})
	return true
}

func (p *fakePublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.got...)
}

// TestParseEnvelope tests envelope validation and room selection.
func TestParseEnvelope(t *testing.T) {
	t.Run("valid envelopes", func(t *testing.T) {
		tests := []struct {
			raw  string
			room string
		}{
			{`{"event":"new-message","chatSessionId":"s1","payload":{"text":"hi"}}`, "chat-session:s1"},
			{`{"event":"chat-notification","companyId":"c1","payload":{"n":1}}`, "company:c1"},
			{`{"event":"new-message","room":"chat-session:s9","payload":"x"}`, "chat-session:s9"},
		}
		for _, tt := range tests {
			d, err := ParseEnvelope([]byte(tt.raw))
			require.NoError(t, err, tt.raw)
			assert.Equal(t, tt.room, d.Room)
		}
	})

	t.Run("invalid envelopes", func(t *testing.T) {
		for _, raw := range []string{
			`not json`,
			`{"event":"user-typing","chatSessionId":"s1","payload":{}}`,
			`{"event":"new-message","payload":{}}`,
			`{"event":"new-message","chatSessionId":"  ","payload":{}}`,
			`{"event":"new-message","chatSessionId":"s1","companyId":"c1","payload":{}}`,
			`{"event":"new-message","chatSessionId":"s1"}`,
			`{"event":"new-message","chatSessionId":"s1","payload":null}`,
		} {
			_, err := ParseEnvelope([]byte(raw))
			assert.True(t, errors.Is(err, ErrInvalidEnvelope), "%s: %v", raw, err)
		}
	})
}

// TestRoute tests that a parsed envelope reaches the publisher unchanged.
func TestRoute(t *testing.T) {
	pub := &fakePublisher{}
	_, err := Route(pub, []byte(`{"event":"new-message","chatSessionId":"s1","payload":{"text":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, []published{{"chat-session:s1", "new-message", `{"text":"hi"}`}}, pub.messages())

	pub.refuse = true
	_, err = Route(pub, []byte(`{"event":"new-message","chatSessionId":"s1","payload":{}}`))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidEnvelope))
}

// TestHandlerRecoversPanics tests that a panicking publisher does not crash the consumer.
func TestHandlerRecoversPanics(t *testing.T) {
	h := newHandler("test", &fakePublisher{panic: true}, zaptest.NewLogger(t), nil)
	var err error
	assert.NotPanics(t, func() {
		err = h.handle([]byte(`{"event":"new-message","chatSessionId":"s1","payload":{}}`))
	})
	assert.Error(t, err)
}

// TestNATSHandleMsg tests the NATS callback without a server.
func TestNATSHandleMsg(t *testing.T) {
	pub := &fakePublisher{}
	s := NewNATSSubscriber(nil, pub, zaptest.NewLogger(t), nil)

	s.handleMsg(&nats.Msg{Data: []byte(`{"event":"chat-notification","companyId":"c1","payload":{"n":1}}`)})
	s.handleMsg(&nats.Msg{Data: []byte(`garbage`)})

	assert.Equal(t, []published{{"company:c1", "chat-notification", `{"n":1}`}}, pub.messages())
	assert.NoError(t, s.Close())
}

// TestNATSPendingLimitsFailureIsLogged tests that a subscription refusing the
// pending limits is reported instead of ignored.
func TestNATSPendingLimitsFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := NewNATSSubscriber(nil, &fakePublisher{}, zap.New(core), nil)
	s.sub = &nats.Subscription{}

	s.applyPendingLimits()

	entries := logs.FilterMessage("nats pending limits not applied, using client defaults").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, nats.ErrBadSubscription.Error(), entries[0].ContextMap()["error"])
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

// TestKafkaConsumeClaim tests message handling inside a consumer group session.
// It verifies that routable messages are published and every message,
// including invalid ones, is marked.
func TestKafkaConsumeClaim(t *testing.T) {
	pub := &fakePublisher{}
	c := newKafkaConsumer(nil, []string{"rooms"}, pub, zaptest.NewLogger(t), nil)

	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 3)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 1, Value: []byte(`{"event":"new-message","chatSessionId":"s1","payload":{"id":1}}`)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 2, Value: []byte(`{"event":"bogus"}`)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 3, Value: []byte(`{"event":"new-message","companyId":"c1","payload":{"id":2}}`)}
	close(claim.msgs)

	sess := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(sess, claim))

	assert.Equal(t, []int64{1, 2, 3}, sess.marked)
	assert.Equal(t, []published{
		{"chat-session:s1", "new-message", `{"id":1}`},
		{"company:c1", "new-message", `{"id":2}`},
	}, pub.messages())
}

// TestKafkaConsumeClaimStopsOnSessionEnd tests that a rebalance ends the claim loop.
func TestKafkaConsumeClaimStopsOnSessionEnd(t *testing.T) {
	c := newKafkaConsumer(nil, nil, &fakePublisher{}, zaptest.NewLogger(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	sess := &fakeSession{ctx: ctx}
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage)}

	done := make(chan error, 1)
	go func() { done <- c.ConsumeClaim(sess, claim) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return after session end")
	}
}

// TestNewKafkaConsumerRequiresConfig tests configuration validation.
func TestNewKafkaConsumerRequiresConfig(t *testing.T) {
	_, err := NewKafkaConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}}, &fakePublisher{}, nil, nil)
	assert.Error(t, err)
}

// TestNATSSubscriberLive tests a round trip through a real NATS server.
// It runs only when PRESENCEHUB_TEST_NATS names a reachable server.
func TestNATSSubscriberLive(t *testing.T) {
	url := os.Getenv("PRESENCEHUB_TEST_NATS")
	if url == "" {
		t.Skip("PRESENCEHUB_TEST_NATS not set")
	}

	nc, err := ConnectNATS(NATSConfig{Servers: strings.Split(url, ","), Name: "presencehub-test"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer nc.Close()

	pub := &fakePublisher{}
	s := NewNATSSubscriber(nc, pub, zaptest.NewLogger(t), nil)
	require.NoError(t, s.Subscribe("presencehub.test.rooms", ""))
	require.NoError(t, nc.Flush())

	require.NoError(t, nc.Publish("presencehub.test.rooms",
		[]byte(`{"event":"new-message","chatSessionId":"s1","payload":{"ok":true}}`)))

	assert.Eventually(t, func() bool { return len(pub.messages()) == 1 }, 2*time.Second, 20*time.Millisecond)
	require.NoError(t, s.Close())
}

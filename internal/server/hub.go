// Package server coordinates connection registration, event handling and
// connection cleanup for the presence system via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/auth"
	"github.com/Tyrowin/presencehub/internal/metrics"
	"github.com/Tyrowin/presencehub/internal/presence"
	"github.com/Tyrowin/presencehub/internal/protocol"
	"github.com/Tyrowin/presencehub/internal/rooms"
	"github.com/Tyrowin/presencehub/internal/store"
	"github.com/Tyrowin/presencehub/internal/typing"
)

// ErrHubClosed is returned by calls made after the hub stopped.
var ErrHubClosed = errors.New("hub is shut down")

// PresenceSink receives presence transitions for mirroring. Enqueue must not block.
type PresenceSink interface {
	Enqueue(rec store.Record) bool
}

// ClientConfig holds the per-connection limits applied by NewClient.
type ClientConfig struct {
	MaxMessageSize int64
	SendBufferSize int
	RateLimit      RateLimitConfig
}

// HubOptions wires the registries and collaborators a Hub owns. Nil
// registries are created empty.
type HubOptions struct {
	Presence  *presence.Registry
	Rooms     *rooms.Tracker
	Typing    *typing.Coordinator
	Validator auth.Validator
	Sink      PresenceSink
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Now       func() time.Time

	Client              ClientConfig
	AuthTimeout         time.Duration
	TypingSweepInterval time.Duration
}

// Hub owns every connection and registry. All state is read and written by
// the goroutine running Run; other goroutines talk to it through channels.
type Hub struct {
	clients      map[string]*Client
	pendingClose map[string]*Client

	presence  *presence.Registry
	rooms     *rooms.Tracker
	typing    *typing.Coordinator
	validator auth.Validator
	sink      PresenceSink
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time

	clientCfg     ClientConfig
	authTimeout   time.Duration
	sweepInterval time.Duration

	attach   chan *Client
	detach   chan *Client
	inbound  chan inboundEvent
	authDone chan authResult
	publish  chan roomPublish
	calls    chan func()

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates and initializes a new Hub instance with all necessary channels
// and registries. The returned Hub is ready once Run is started.
func NewHub(opts HubOptions) *Hub {
	if opts.Presence == nil {
		opts.Presence = presence.NewRegistry(opts.Now)
	}
	if opts.Rooms == nil {
		opts.Rooms = rooms.NewTracker(rooms.DefaultOptions())
	}
	if opts.Typing == nil {
		opts.Typing = typing.NewCoordinator(0)
	}
	if opts.Validator == nil {
		opts.Validator = auth.AllowAll
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 5 * time.Second
	}
	if opts.TypingSweepInterval <= 0 {
		opts.TypingSweepInterval = time.Second
	}
	def := defaultConfig()
	if opts.Client.MaxMessageSize <= 0 {
		opts.Client.MaxMessageSize = def.MaxMessageSize
	}
	if opts.Client.SendBufferSize <= 0 {
		opts.Client.SendBufferSize = def.SendBufferSize
	}
	if opts.Client.RateLimit.Burst <= 0 {
		opts.Client.RateLimit.Burst = def.RateLimit.Burst
	}
	if opts.Client.RateLimit.RefillInterval <= 0 {
		opts.Client.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:       make(map[string]*Client),
		pendingClose:  make(map[string]*Client),
		presence:      opts.Presence,
		rooms:         opts.Rooms,
		typing:        opts.Typing,
		validator:     opts.Validator,
		sink:          opts.Sink,
		metrics:       opts.Metrics,
		log:           opts.Logger.Named("hub"),
		now:           opts.Now,
		clientCfg:     opts.Client,
		authTimeout:   opts.AuthTimeout,
		sweepInterval: opts.TypingSweepInterval,
		attach:        make(chan *Client),
		detach:        make(chan *Client),
		inbound:       make(chan inboundEvent, 256),
		authDone:      make(chan authResult, 64),
		publish:       make(chan roomPublish, 256),
		calls:         make(chan func()),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

// Run starts the hub's event loop. It returns after Shutdown and should be
// called in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	var sweep <-chan time.Time
	if h.typing.TTL() > 0 {
		ticker := time.NewTicker(h.sweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	h.log.Info("hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.attach:
			h.attachClient(client)

		case client := <-h.detach:
			h.closeClient(client, "disconnected")

		case ev := <-h.inbound:
			h.handleInbound(ev)

		case res := <-h.authDone:
			h.finishAuth(res)

		case p := <-h.publish:
			h.toRoom(p.room, p.event, p.payload, "")

		case fn := <-h.calls:
			fn()

		case <-sweep:
			h.expireTyping()
		}

		h.flushPendingClose()
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Attach registers client. Its pumps start once the hub accepts it.
func (h *Hub) Attach(client *Client) bool {
	select {
	case h.attach <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Detach closes client and runs the cleanup cascade. Detaching an unknown or
// already closed client is a no-op.
func (h *Hub) Detach(client *Client) {
	select {
	case h.detach <- client:
	case <-h.ctx.Done():
	}
}

// Deliver hands a decoded client event to the hub loop.
func (h *Hub) Deliver(client *Client, msg protocol.Inbound) bool {
	return h.enqueueInbound(inboundEvent{client: client, msg: msg})
}

func (h *Hub) enqueueInbound(ev inboundEvent) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.inbound <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// PublishToRoom fans an externally produced event out to every member of
// room. It is safe to call from any goroutine.
func (h *Hub) PublishToRoom(room, event string, payload json.RawMessage) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.publish <- roomPublish{room: room, event: event, payload: payload}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Do runs fn on the hub loop and waits for it to finish.
func (h *Hub) Do(fn func()) error {
	finished := make(chan struct{})
	select {
	case h.calls <- func() { defer close(finished); fn() }:
	case <-h.ctx.Done():
		return ErrHubClosed
	}
	select {
	case <-finished:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// PresenceOf reads the presence registry through the hub loop.
func (h *Hub) PresenceOf(userID string) (status presence.Status, found bool, err error) {
	err = h.Do(func() { status, found = h.presence.Lookup(userID) })
	return status, found, err
}

func (h *Hub) attachClient(client *Client) {
	if client == nil {
		h.log.Warn("received nil client registration; skipping")
		return
	}

	h.clients[client.id] = client
	h.metrics.ConnectionOpened()
	client.sessionLog().Debug("client registered", zap.Int("clients", len(h.clients)))

	if client.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// isOpen reports whether client is still registered.
func (h *Hub) isOpen(client *Client) bool {
	return client != nil && h.clients[client.id] == client
}

// closeClient removes client and cascades through typing, rooms and presence,
// in that order.
func (h *Hub) closeClient(client *Client, reason string) {
	if !h.isOpen(client) {
		return
	}

	log := client.sessionLog()
	delete(h.clients, client.id)
	delete(h.pendingClose, client.id)
	close(client.send)
	h.metrics.ConnectionClosed()

	h.dropTyping(client, h.typing.DropOwnedBy(client.id))
	h.rooms.LeaveAll(client.id)
	if client.userID != "" {
		h.releaseIdentity(client)
	}

	log.Debug("client unregistered",
		zap.String("reason", reason),
		zap.Duration("connected_for", h.now().Sub(client.createdAt)),
		zap.Int("clients", len(h.clients)))
}

// flushPendingClose closes connections whose buffers overflowed during the
// last step. Closing can fan out further events, so it repeats until settled.
func (h *Hub) flushPendingClose() {
	for len(h.pendingClose) > 0 {
		for id, client := range h.pendingClose {
			delete(h.pendingClose, id)
			client.sessionLog().Info("closing slow consumer", zap.Int("buffer", cap(client.send)))
			if client.conn != nil {
				_ = client.conn.Close()
			}
			h.closeClient(client, "send buffer full")
		}
	}
}

func (h *Hub) expireTyping() {
	expired := h.typing.Expire(h.now())
	if len(expired) == 0 {
		return
	}
	h.metrics.TypingExpired(len(expired))
	h.log.Debug("typing indicators expired", zap.Int("count", len(expired)))
	for _, e := range expired {
		h.broadcastTyping(e.Room, e.UserID, false, e.Owner)
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.send)
		h.metrics.ConnectionClosed()
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				client.sessionLog().Warn("error closing client connection", zap.Error(err))
			}
		}
	}
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")
	h.cancel()

	deadline := time.After(timeout)
	select {
	case <-h.done:
	case <-deadline:
		return context.DeadlineExceeded
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info("hub shutdown completed")
		return nil
	case <-deadline:
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

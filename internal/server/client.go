// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/presencehub/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client represents one WebSocket connection. The transport fields, log
// included, are fixed at construction; the session fields below are owned by
// the hub loop.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	createdAt      time.Time
	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      RateLimitConfig
	log            *zap.Logger

	// Hub loop state.
	userID      string
	authPending bool
	authSeq     uint64
}

// NewClient creates a new Client instance with the provided WebSocket connection,
// hub reference, and client address. The client's send channel is buffered
// to handle message queuing. conn may be nil for a connection without a
// transport, whose frames are then read straight from the send channel.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.clientCfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.NewString()
	limit := rate.Every(cfg.RateLimit.RefillInterval / time.Duration(cfg.RateLimit.Burst))

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		hub:            hub,
		addr:           addr,
		createdAt:      hub.now(),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    rate.NewLimiter(limit, cfg.RateLimit.Burst),
		rateLimit:      cfg.RateLimit,
		log:            hub.log.Named("client").With(zap.String("conn_id", id), zap.String("addr", addr)),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// sessionLog is the connection logger annotated with the bound identity.
// Only the hub loop may call it.
func (c *Client) sessionLog() *zap.Logger {
	if c.userID == "" {
		return c.log
	}
	return c.log.With(zap.String("user_id", c.userID))
}

// GetSendChan returns the client's send channel for reading outgoing frames.
// This channel is read-only from the caller's perspective.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("message exceeded maximum size", zap.Int64("limit", c.maxMessageSize))

	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("client disconnected", zap.Error(err))

	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("client connection closed", zap.Error(err))

	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected WebSocket close", zap.Error(err))

	default:
		c.log.Warn("WebSocket read error", zap.Error(err))
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		c.log.Warn("rate limit exceeded; discarding message",
			zap.Int("burst", c.rateLimit.Burst),
			zap.Duration("interval", c.rateLimit.RefillInterval))
		return false
	}
	return true
}

// processMessage decodes a raw frame and hands it to the hub loop.
func (c *Client) processMessage(rawMessage []byte) bool {
	msg, err := protocol.Decode(rawMessage)
	if err != nil {
		c.log.Warn("invalid frame", zap.Error(err))
		return c.hub.enqueueInbound(inboundEvent{client: c, err: err})
	}
	return c.hub.Deliver(c, msg)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Detach(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection in readPump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection in writePump", zap.Error(err))
	}
}

// handleMessage processes outgoing frames and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("error writing close message", zap.Error(err))
	}
	return false
}

// writeTextMessage writes one frame. Frames are never coalesced since every
// frame is a standalone JSON document.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("error writing ping message", zap.Error(err))
		return false
	}
	return true
}

package server

import (
	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/metrics"
	"github.com/Tyrowin/presencehub/internal/protocol"
	"github.com/Tyrowin/presencehub/internal/rooms"
)

// Delivery is best effort. A target that is gone or whose buffer is full is
// skipped without affecting the others; full buffers mark the connection for
// closing once the current loop step finishes.

// toConnection sends one event to a single connection.
func (h *Hub) toConnection(connID, event string, payload interface{}) {
	frame, ok := h.encode(event, payload)
	if !ok {
		return
	}
	client, found := h.clients[connID]
	if !found {
		h.metrics.Delivery(metrics.DeliveryNoTarget)
		return
	}
	h.deliver(client, frame)
}

// toRoom sends one event to every member of room except exclude.
func (h *Hub) toRoom(room, event string, payload interface{}, exclude string) {
	members := h.rooms.MembersOf(room)
	if len(members) == 0 {
		h.log.Debug("no members to deliver to", zap.String("room", room), zap.String("event", event))
		return
	}
	frame, ok := h.encode(event, payload)
	if !ok {
		return
	}
	for _, id := range members {
		if id == exclude {
			continue
		}
		client, found := h.clients[id]
		if !found {
			h.metrics.Delivery(metrics.DeliveryNoTarget)
			continue
		}
		h.deliver(client, frame)
	}
}

// toAll sends one event to every open connection.
func (h *Hub) toAll(event string, payload interface{}) {
	if len(h.clients) == 0 {
		return
	}
	frame, ok := h.encode(event, payload)
	if !ok {
		return
	}
	for _, client := range h.clients {
		h.deliver(client, frame)
	}
}

func (h *Hub) encode(event string, payload interface{}) ([]byte, bool) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		h.log.Error("failed to encode outbound event", zap.String("event", event), zap.Error(err))
		return nil, false
	}
	return frame, true
}

func (h *Hub) deliver(client *Client, frame []byte) {
	if _, closing := h.pendingClose[client.id]; closing {
		h.metrics.Delivery(metrics.DeliveryBufferFull)
		return
	}
	select {
	case client.send <- frame:
		h.metrics.Delivery(metrics.DeliverySent)
	default:
		h.metrics.Delivery(metrics.DeliveryBufferFull)
		client.sessionLog().Debug("send buffer full, dropping frame")
		h.pendingClose[client.id] = client
	}
}

func (h *Hub) sendError(client *Client, event, message string) {
	h.toConnection(client.id, protocol.EventError, protocol.Error{Event: event, Message: message})
}

func (h *Hub) broadcastTyping(room, userID string, isTyping bool, exclude string) {
	h.toRoom(room, protocol.EventUserTyping, protocol.UserTyping{
		ChatSessionID: rooms.ChatSessionID(room),
		UserID:        userID,
		IsTyping:      isTyping,
		Timestamp:     protocol.NewTimestamp(h.now()),
	}, exclude)
}

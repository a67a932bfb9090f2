package server

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/metrics"
	"github.com/Tyrowin/presencehub/internal/protocol"
	"github.com/Tyrowin/presencehub/internal/rooms"
	"github.com/Tyrowin/presencehub/internal/typing"
)

const (
	msgAuthRequired     = "authentication required"
	msgIdentityMismatch = "userId does not match the authenticated user"
	msgMalformedFrame   = "malformed frame"
)

func (h *Hub) handleInbound(ev inboundEvent) {
	client := ev.client
	if !h.isOpen(client) {
		h.metrics.EventDiscarded()
		return
	}

	if ev.err != nil {
		h.rejectFrame(client, ev.err)
		return
	}

	msg := ev.msg
	if msg.RequiresAuth() && client.userID == "" {
		h.metrics.Event(msg.Name(), metrics.StatusRejected)
		h.sendError(client, msg.Name(), msgAuthRequired)
		return
	}

	var err error
	switch m := msg.(type) {
	case protocol.Authenticate:
		h.startAuth(client, m)
	case protocol.GetOnlineUsers:
		h.sendOnlineUsers(client)
	case protocol.JoinChatSession:
		err = h.joinRoom(client, m.ChatSessionID, rooms.ChatSession)
	case protocol.LeaveChatSession:
		err = h.leaveRoom(client, m.ChatSessionID, rooms.ChatSession)
	case protocol.JoinCompanyChat:
		err = h.joinRoom(client, m.CompanyID, rooms.Company)
	case protocol.LeaveCompanyChat:
		err = h.leaveRoom(client, m.CompanyID, rooms.Company)
	case protocol.TypingStart:
		err = h.setTyping(client, m.ChatSessionID, m.UserID, true)
	case protocol.TypingStop:
		err = h.setTyping(client, m.ChatSessionID, m.UserID, false)
	}

	if err != nil {
		h.metrics.Event(msg.Name(), metrics.StatusRejected)
		client.sessionLog().Info("event rejected", zap.String("event", msg.Name()), zap.Error(err))
		h.sendError(client, msg.Name(), err.Error())
		return
	}
	if _, isAuth := msg.(protocol.Authenticate); !isAuth {
		h.metrics.Event(msg.Name(), metrics.StatusOK)
	}
}

// rejectFrame answers an undecodable frame. The reply names the event when
// the envelope was readable.
func (h *Hub) rejectFrame(client *Client, err error) {
	var decErr *protocol.DecodeError
	event := ""
	if errors.As(err, &decErr) {
		event = decErr.Event
	}

	h.metrics.Event(event, metrics.StatusInvalid)
	message := msgMalformedFrame
	switch {
	case errors.Is(err, protocol.ErrUnknownEvent):
		message = "unknown event"
	case errors.Is(err, protocol.ErrInvalidPayload):
		message = err.Error()
		if decErr != nil {
			message = decErr.Err.Error()
		}
	}
	h.sendError(client, event, message)
}

func (h *Hub) sendOnlineUsers(client *Client) {
	snapshot := h.presence.Snapshot()
	users := make([]protocol.OnlineUser, 0, len(snapshot))
	for _, st := range snapshot {
		u := protocol.OnlineUser{ID: st.UserID, IsOnline: st.Online}
		if !st.LastSeen.IsZero() {
			ts := protocol.NewTimestamp(st.LastSeen)
			u.LastSeen = &ts
		}
		users = append(users, u)
	}
	h.toConnection(client.id, protocol.EventOnlineUsersList, protocol.OnlineUsersList{
		Users: users,
		Count: h.presence.OnlineCount(),
	})
}

func (h *Hub) joinRoom(client *Client, id string, name func(string) string) error {
	if err := h.rooms.CheckID(id); err != nil {
		return err
	}
	room := name(id)
	added, err := h.rooms.Join(client.id, room)
	if err != nil {
		return err
	}
	if added {
		client.sessionLog().Debug("joined room", zap.String("room", room))
	}
	return nil
}

func (h *Hub) leaveRoom(client *Client, id string, name func(string) string) error {
	if err := h.rooms.CheckID(id); err != nil {
		return err
	}
	room := name(id)
	if !h.rooms.Leave(client.id, room) {
		return nil
	}
	client.sessionLog().Debug("left room", zap.String("room", room))
	h.dropTyping(client, h.typing.DropRoomOwnedBy(client.id, room))
	return nil
}

// setTyping records a typing transition for the bound identity and tells the
// other members of the chat session. Starts are forwarded every time so that
// client resends refresh the indicator.
func (h *Hub) setTyping(client *Client, sessionID, userID string, isTyping bool) error {
	if userID != "" && userID != client.userID {
		return errors.New(msgIdentityMismatch)
	}
	if err := h.rooms.CheckID(sessionID); err != nil {
		return err
	}

	room := rooms.ChatSession(sessionID)
	if isTyping {
		h.typing.Start(room, client.userID, client.id, h.now())
	} else {
		h.typing.Stop(room, client.userID)
	}
	h.broadcastTyping(room, client.userID, isTyping, client.id)
	return nil
}

// dropTyping announces the removal of typing entries owned by client to the
// remaining members of each room.
func (h *Hub) dropTyping(client *Client, keys []typing.Key) {
	for _, k := range keys {
		h.broadcastTyping(k.Room, k.UserID, false, client.id)
	}
}

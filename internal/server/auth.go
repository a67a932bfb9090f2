package server

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/auth"
	"github.com/Tyrowin/presencehub/internal/metrics"
	"github.com/Tyrowin/presencehub/internal/presence"
	"github.com/Tyrowin/presencehub/internal/protocol"
	"github.com/Tyrowin/presencehub/internal/store"
)

// Auth attempt results.
const (
	authSuccess  = "success"
	authFailure  = "failure"
	authRejected = "in_progress"
)

const msgAuthInProgress = "authentication already in progress"

// startAuth runs the validator off the loop. At most one validation is in
// flight per connection; the connection keeps being served meanwhile.
func (h *Hub) startAuth(client *Client, m protocol.Authenticate) {
	if client.authPending {
		h.metrics.AuthAttempt(authRejected)
		h.toConnection(client.id, protocol.EventAuthenticationError,
			protocol.AuthenticationError{Message: msgAuthInProgress})
		return
	}

	client.authPending = true
	client.authSeq++
	seq := client.authSeq

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		err := h.validate(m.UserID, m.Token)
		select {
		case h.authDone <- authResult{client: client, seq: seq, userID: m.UserID, err: err}:
		case <-h.ctx.Done():
		}
	}()
}

func (h *Hub) validate(userID, token string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("validator panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = errors.Errorf("validator panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(h.ctx, h.authTimeout)
	defer cancel()
	return h.validator.Validate(ctx, userID, token)
}

// finishAuth applies a validator result on the loop.
func (h *Hub) finishAuth(res authResult) {
	client := res.client
	if !h.isOpen(client) || res.seq != client.authSeq {
		h.metrics.EventDiscarded()
		return
	}
	client.authPending = false

	if res.err != nil {
		h.metrics.AuthAttempt(authFailure)
		h.metrics.Event(protocol.EventAuthenticate, metrics.StatusRejected)
		client.sessionLog().Info("authentication failed", zap.String("claimed_user_id", res.userID), zap.Error(res.err))
		h.toConnection(client.id, protocol.EventAuthenticationError,
			protocol.AuthenticationError{Message: auth.Reason(res.err)})
		return
	}

	h.metrics.AuthAttempt(authSuccess)
	h.metrics.Event(protocol.EventAuthenticate, metrics.StatusOK)

	if client.userID == res.userID {
		h.sendAuthSuccess(client)
		return
	}

	if client.userID != "" {
		client.log.Info("switching identity", zap.String("from", client.userID), zap.String("to", res.userID))
		h.dropTyping(client, h.typing.DropOwnedBy(client.id))
		h.releaseIdentity(client)
	}

	client.userID = res.userID
	change := h.presence.MarkConnected(res.userID)
	h.sendAuthSuccess(client)
	h.publishPresence(change)
}

func (h *Hub) sendAuthSuccess(client *Client) {
	h.toConnection(client.id, protocol.EventAuthenticationSuccess, protocol.AuthenticationSuccess{
		UserID:      client.userID,
		OnlineCount: h.presence.OnlineCount(),
	})
}

// releaseIdentity decrements the presence count of the bound identity and
// unbinds it from the connection.
func (h *Hub) releaseIdentity(client *Client) {
	change := h.presence.MarkDisconnected(client.userID)
	client.userID = ""
	h.publishPresence(change)
}

// publishPresence broadcasts and mirrors an online/offline transition.
func (h *Hub) publishPresence(change presence.Change) {
	if !change.Transitioned() {
		return
	}

	h.metrics.SetUsersOnline(h.presence.OnlineCount())
	h.toAll(protocol.EventUserStatusChange, protocol.UserStatusChange{
		UserID:    change.UserID,
		IsOnline:  change.WentOnline,
		Timestamp: protocol.NewTimestamp(change.At),
	})

	if h.sink == nil {
		return
	}
	rec := store.Record{UserID: change.UserID, Online: change.WentOnline}
	if change.WentOffline {
		rec.LastSeen = change.At
	}
	if !h.sink.Enqueue(rec) {
		h.metrics.MirrorDropped()
	}
}

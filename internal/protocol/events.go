// Package protocol defines the real-time event protocol spoken over each
// WebSocket connection: a closed set of inbound variants, one per client event,
// and the outbound payloads the coordinator emits.
package protocol

import (
	"encoding/json"
	"time"
)

// Client -> server event names.
const (
	EventAuthenticate     = "authenticate"
	EventGetOnlineUsers   = "get-online-users"
	EventJoinChatSession  = "join-chat-session"
	EventLeaveChatSession = "leave-chat-session"
	EventJoinCompanyChat  = "join-company-chat"
	EventLeaveCompanyChat = "leave-company-chat"
	EventTypingStart      = "typing-start"
	EventTypingStop       = "typing-stop"
)

// Server -> client event names.
const (
	EventAuthenticationSuccess = "authentication-success"
	EventAuthenticationError   = "authentication-error"
	EventUserStatusChange      = "user-status-change"
	EventOnlineUsersList       = "online-users-list"
	EventUserTyping            = "user-typing"
	EventNewMessage            = "new-message"
	EventChatNotification      = "chat-notification"
	EventError                 = "error"
)

// Frame is the envelope every message travels in, in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is implemented by every client -> server event. The set is closed:
// only the types declared in this package satisfy it.
type Inbound interface {
	// Name returns the wire event name.
	Name() string
	// RequiresAuth reports whether the event may only be handled for an
	// authenticated connection.
	RequiresAuth() bool

	inbound()
}

// Authenticate binds an identity to the connection.
type Authenticate struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// GetOnlineUsers asks for a presence snapshot.
type GetOnlineUsers struct{}

// JoinChatSession adds the connection to a chat-session room.
type JoinChatSession struct {
	ChatSessionID string `json:"chatSessionId"`
}

// LeaveChatSession removes the connection from a chat-session room.
type LeaveChatSession struct {
	ChatSessionID string `json:"chatSessionId"`
}

// JoinCompanyChat adds the connection to a company room.
type JoinCompanyChat struct {
	CompanyID string `json:"companyId"`
}

// LeaveCompanyChat removes the connection from a company room.
type LeaveCompanyChat struct {
	CompanyID string `json:"companyId"`
}

// TypingStart signals that a user started typing in a chat session.
type TypingStart struct {
	ChatSessionID string `json:"chatSessionId"`
	UserID        string `json:"userId"`
}

// TypingStop signals that a user stopped typing in a chat session.
type TypingStop struct {
	ChatSessionID string `json:"chatSessionId"`
	UserID        string `json:"userId"`
}

func (Authenticate) Name() string     { return EventAuthenticate }
func (GetOnlineUsers) Name() string   { return EventGetOnlineUsers }
func (JoinChatSession) Name() string  { return EventJoinChatSession }
func (LeaveChatSession) Name() string { return EventLeaveChatSession }
func (JoinCompanyChat) Name() string  { return EventJoinCompanyChat }
func (LeaveCompanyChat) Name() string { return EventLeaveCompanyChat }
func (TypingStart) Name() string      { return EventTypingStart }
func (TypingStop) Name() string       { return EventTypingStop }

func (Authenticate) RequiresAuth() bool     { return false }
func (GetOnlineUsers) RequiresAuth() bool   { return false }
func (JoinChatSession) RequiresAuth() bool  { return true }
func (LeaveChatSession) RequiresAuth() bool { return true }
func (JoinCompanyChat) RequiresAuth() bool  { return true }
func (LeaveCompanyChat) RequiresAuth() bool { return true }
func (TypingStart) RequiresAuth() bool      { return true }
func (TypingStop) RequiresAuth() bool       { return true }

func (Authenticate) inbound()     {}
func (GetOnlineUsers) inbound()   {}
func (JoinChatSession) inbound()  {}
func (LeaveChatSession) inbound() {}
func (JoinCompanyChat) inbound()  {}
func (LeaveCompanyChat) inbound() {}
func (TypingStart) inbound()      {}
func (TypingStop) inbound()       {}

// AuthenticationSuccess answers a successful authenticate.
type AuthenticationSuccess struct {
	UserID      string `json:"userId"`
	OnlineCount int    `json:"onlineCount"`
}

// AuthenticationError answers a failed or rejected authenticate.
type AuthenticationError struct {
	Message string `json:"message"`
}

// UserStatusChange announces a presence transition to every connection.
type UserStatusChange struct {
	UserID    string    `json:"userId"`
	IsOnline  bool      `json:"isOnline"`
	Timestamp Timestamp `json:"timestamp"`
}

// OnlineUser is one row of an online-users-list.
type OnlineUser struct {
	ID       string     `json:"_id"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *Timestamp `json:"lastSeen,omitempty"`
}

// OnlineUsersList answers get-online-users. Count is the number of online
// identities; Users lists every identity the registry knows about.
type OnlineUsersList struct {
	Users []OnlineUser `json:"users"`
	Count int          `json:"count"`
}

// UserTyping fans a typing transition out to the other members of a chat session.
type UserTyping struct {
	ChatSessionID string    `json:"chatSessionId"`
	UserID        string    `json:"userId"`
	IsTyping      bool      `json:"isTyping"`
	Timestamp     Timestamp `json:"timestamp"`
}

// Error rejects an inbound event without closing the connection.
type Error struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp is a time rendered as RFC 3339 UTC with millisecond precision.
type Timestamp time.Time

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp { return Timestamp(t) }

// Time returns the wrapped time.
func (ts Timestamp) Time() time.Time { return time.Time(ts) }

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(ts).UTC().Format(timestampLayout))
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*ts = Timestamp(t)
	return nil
}

// Package ingress feeds messages produced by external collaborators (the
// message-persistence and notification services) into room broadcasts.
//
// Every source carries the same JSON envelope:
//
//	{"event":"new-message","chatSessionId":"s1","payload":{...}}
//
// Exactly one of room, chatSessionId or companyId selects the target room.
package ingress

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/Tyrowin/presencehub/internal/protocol"
	"github.com/Tyrowin/presencehub/internal/rooms"
)

// ErrInvalidEnvelope is returned for envelopes that cannot be routed.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Publisher fans an event out to a room. The hub implements it.
type Publisher interface {
	PublishToRoom(room, event string, payload json.RawMessage) bool
}

// Envelope is the wire form of one ingress message.
type Envelope struct {
	Event         string          `json:"event"`
	Room          string          `json:"room,omitempty"`
	ChatSessionID string          `json:"chatSessionId,omitempty"`
	CompanyID     string          `json:"companyId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Delivery is a routed envelope.
type Delivery struct {
	Room    string
	Event   string
	Payload json.RawMessage
}

// ParseEnvelope decodes and validates raw.
func ParseEnvelope(raw []byte) (Delivery, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Delivery{}, errors.Wrapf(ErrInvalidEnvelope, "decode: %v", err)
	}

	switch env.Event {
	case protocol.EventNewMessage, protocol.EventChatNotification:
	default:
		return Delivery{}, errors.Wrapf(ErrInvalidEnvelope, "event %q is not deliverable", env.Event)
	}

	room, err := env.room()
	if err != nil {
		return Delivery{}, err
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return Delivery{}, errors.Wrap(ErrInvalidEnvelope, "payload is required")
	}
	return Delivery{Room: room, Event: env.Event, Payload: env.Payload}, nil
}

func (e Envelope) room() (string, error) {
	var (
		selected []string
		room     string
	)
	if id := strings.TrimSpace(e.Room); id != "" {
		selected = append(selected, "room")
		room = id
	}
	if id := strings.TrimSpace(e.ChatSessionID); id != "" {
		selected = append(selected, "chatSessionId")
		room = rooms.ChatSession(id)
	}
	if id := strings.TrimSpace(e.CompanyID); id != "" {
		selected = append(selected, "companyId")
		room = rooms.Company(id)
	}

	switch len(selected) {
	case 0:
		return "", errors.Wrap(ErrInvalidEnvelope, "no room selector")
	case 1:
		return room, nil
	default:
		return "", errors.Wrapf(ErrInvalidEnvelope, "conflicting room selectors %s", strings.Join(selected, ","))
	}
}

// Route parses raw and hands it to pub.
func Route(pub Publisher, raw []byte) (Delivery, error) {
	d, err := ParseEnvelope(raw)
	if err != nil {
		return d, err
	}
	if !pub.PublishToRoom(d.Room, d.Event, d.Payload) {
		return d, errors.New("hub is not accepting messages")
	}
	return d, nil
}

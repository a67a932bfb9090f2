// Package rooms tracks which connections are members of which rooms.
//
// Rooms are created lazily on first join and stay known once emptied.
// A Tracker is not safe for concurrent use; the hub serializes access.
package rooms

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	chatSessionPrefix = "chat-session:"
	companyPrefix     = "company:"
)

// Defaults applied when Options leaves a field unset.
const (
	DefaultMaxRoomsPerConnection = 64
	DefaultMaxRoomIDLength       = 128
)

var (
	// ErrTooManyRooms is returned when a join would exceed the per-connection limit.
	ErrTooManyRooms = errors.New("too many rooms")
	// ErrInvalidRoom is returned for empty or oversized room ids.
	ErrInvalidRoom = errors.New("invalid room id")
)

// ChatSession returns the room name for a chat session id.
func ChatSession(id string) string { return chatSessionPrefix + id }

// Company returns the room name for a company id.
func Company(id string) string { return companyPrefix + id }

// ChatSessionID strips the chat-session namespace from a room name.
func ChatSessionID(room string) string { return strings.TrimPrefix(room, chatSessionPrefix) }

// Options bounds what a single connection may do.
type Options struct {
	// MaxRoomsPerConnection caps memberships per connection. Zero or less disables the cap.
	MaxRoomsPerConnection int
	// MaxRoomIDLength caps the bare id length in runes. Zero or less disables the cap.
	MaxRoomIDLength int
}

// DefaultOptions returns the default bounds.
func DefaultOptions() Options {
	return Options{
		MaxRoomsPerConnection: DefaultMaxRoomsPerConnection,
		MaxRoomIDLength:       DefaultMaxRoomIDLength,
	}
}

type set map[string]struct{}

// Tracker keeps both directions of the connection/room relation.
type Tracker struct {
	opts    Options
	members map[string]set // room -> connection ids
	joined  map[string]set // connection id -> rooms
}

// NewTracker returns an empty tracker.
func NewTracker(opts Options) *Tracker {
	return &Tracker{
		opts:    opts,
		members: make(map[string]set),
		joined:  make(map[string]set),
	}
}

// CheckID validates a bare room id before it is namespaced.
func (t *Tracker) CheckID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.Wrap(ErrInvalidRoom, "empty id")
	}
	if limit := t.opts.MaxRoomIDLength; limit > 0 && utf8.RuneCountInString(id) > limit {
		return errors.Wrapf(ErrInvalidRoom, "id longer than %d characters", limit)
	}
	return nil
}

// Join adds connID to room. Joining a room twice is a no-op and reports
// added as false.
func (t *Tracker) Join(connID, room string) (added bool, err error) {
	rooms := t.joined[connID]
	if _, ok := rooms[room]; ok {
		return false, nil
	}
	if limit := t.opts.MaxRoomsPerConnection; limit > 0 && len(rooms) >= limit {
		return false, errors.Wrapf(ErrTooManyRooms, "limit is %d", limit)
	}

	if rooms == nil {
		rooms = make(set)
		t.joined[connID] = rooms
	}
	rooms[room] = struct{}{}

	m, ok := t.members[room]
	if !ok {
		m = make(set)
		t.members[room] = m
	}
	m[connID] = struct{}{}
	return true, nil
}

// Leave removes connID from room and reports whether it was a member.
func (t *Tracker) Leave(connID, room string) bool {
	rooms, ok := t.joined[connID]
	if !ok {
		return false
	}
	if _, ok := rooms[room]; !ok {
		return false
	}

	delete(rooms, room)
	if len(rooms) == 0 {
		delete(t.joined, connID)
	}
	delete(t.members[room], connID)
	return true
}

// LeaveAll removes connID from every room and returns those rooms, sorted.
func (t *Tracker) LeaveAll(connID string) []string {
	left := sortedKeys(t.joined[connID])
	for _, room := range left {
		delete(t.members[room], connID)
	}
	delete(t.joined, connID)
	return left
}

// MembersOf returns the connection ids in room, sorted.
func (t *Tracker) MembersOf(room string) []string {
	return sortedKeys(t.members[room])
}

// IsMember reports whether connID has joined room.
func (t *Tracker) IsMember(connID, room string) bool {
	_, ok := t.joined[connID][room]
	return ok
}

// RoomsOf returns the rooms connID has joined, sorted.
func (t *Tracker) RoomsOf(connID string) []string {
	return sortedKeys(t.joined[connID])
}

// Known reports whether room was ever joined.
func (t *Tracker) Known(room string) bool {
	_, ok := t.members[room]
	return ok
}

func sortedKeys(s set) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

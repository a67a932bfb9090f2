// Package typing holds ephemeral per-room typing indicators.
//
// An entry exists only while a user is typing; absence means not typing.
// Each entry remembers the connection that set it so a closing connection can
// clear exactly what it owns, and carries an expiry so a lost stop signal
// cannot leave an indicator stuck.
package typing

import (
	"sort"
	"time"
)

// Key identifies one typing indicator.
type Key struct {
	Room   string
	UserID string
}

// Entry is the state behind a Key.
type Entry struct {
	Owner string
	// Expires is zero when the coordinator has no TTL.
	Expires time.Time
}

// Coordinator is not safe for concurrent use; the hub serializes access.
type Coordinator struct {
	ttl     time.Duration
	entries map[Key]Entry
}

// NewCoordinator returns an empty coordinator. A ttl of zero or less keeps
// entries until they are stopped or their owner closes.
func NewCoordinator(ttl time.Duration) *Coordinator {
	if ttl < 0 {
		ttl = 0
	}
	return &Coordinator{
		ttl:     ttl,
		entries: make(map[Key]Entry),
	}
}

// TTL returns the configured entry lifetime.
func (c *Coordinator) TTL() time.Duration { return c.ttl }

// Start sets or refreshes the entry for (room, userID).
func (c *Coordinator) Start(room, userID, connID string, now time.Time) Entry {
	e := Entry{Owner: connID}
	if c.ttl > 0 {
		e.Expires = now.Add(c.ttl)
	}
	c.entries[Key{Room: room, UserID: userID}] = e
	return e
}

// Stop removes the entry and reports whether one existed.
func (c *Coordinator) Stop(room, userID string) bool {
	k := Key{Room: room, UserID: userID}
	if _, ok := c.entries[k]; !ok {
		return false
	}
	delete(c.entries, k)
	return true
}

// IsTyping reports whether an entry exists for (room, userID).
func (c *Coordinator) IsTyping(room, userID string) bool {
	_, ok := c.entries[Key{Room: room, UserID: userID}]
	return ok
}

// Lookup returns the entry for (room, userID).
func (c *Coordinator) Lookup(room, userID string) (Entry, bool) {
	e, ok := c.entries[Key{Room: room, UserID: userID}]
	return e, ok
}

// DropOwnedBy removes every entry set by connID.
func (c *Coordinator) DropOwnedBy(connID string) []Key {
	return c.removeWhere(func(_ Key, e Entry) bool { return e.Owner == connID })
}

// DropRoomOwnedBy removes the entries connID set in room.
func (c *Coordinator) DropRoomOwnedBy(connID, room string) []Key {
	return c.removeWhere(func(k Key, e Entry) bool { return e.Owner == connID && k.Room == room })
}

// Expired is an entry removed by Expire together with the connection that
// set it.
type Expired struct {
	Key
	Owner string
}

// Expire removes every entry whose expiry is not after now.
func (c *Coordinator) Expire(now time.Time) []Expired {
	if c.ttl == 0 {
		return nil
	}
	owners := make(map[Key]string)
	keys := c.removeWhere(func(k Key, e Entry) bool {
		if e.Expires.After(now) {
			return false
		}
		owners[k] = e.Owner
		return true
	})
	if len(keys) == 0 {
		return nil
	}
	out := make([]Expired, 0, len(keys))
	for _, k := range keys {
		out = append(out, Expired{Key: k, Owner: owners[k]})
	}
	return out
}

// Len returns the number of live entries.
func (c *Coordinator) Len() int { return len(c.entries) }

// removeWhere deletes matching entries and returns their keys ordered by
// room then user.
func (c *Coordinator) removeWhere(match func(Key, Entry) bool) []Key {
	var out []Key
	for k, e := range c.entries {
		if match(k, e) {
			out = append(out, k)
			delete(c.entries, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Room != out[j].Room {
			return out[i].Room < out[j].Room
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

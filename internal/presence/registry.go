// Package presence aggregates per-identity online state across every
// connection an identity has open.
//
// A Registry is not safe for concurrent use. The hub owns it and serializes
// every call through its event loop.
package presence

import (
	"sort"
	"time"
)

// Status is the externally visible presence of one identity.
type Status struct {
	UserID      string
	Connections int
	Online      bool
	// LastSeen is zero until the identity first goes offline.
	LastSeen time.Time
}

// Change is the result of a connect or disconnect.
type Change struct {
	UserID      string
	WentOnline  bool
	WentOffline bool
	At          time.Time
}

// Transitioned reports whether the online flag flipped.
func (c Change) Transitioned() bool { return c.WentOnline || c.WentOffline }

type entry struct {
	count    int
	lastSeen time.Time
}

// Registry maps identities to their open-connection count.
// Entries are created on first connect and never removed.
type Registry struct {
	entries map[string]*entry
	online  int
	now     func() time.Time
}

// NewRegistry returns an empty registry. now defaults to time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		entries: make(map[string]*entry),
		now:     now,
	}
}

// MarkConnected records one more open connection for userID.
func (r *Registry) MarkConnected(userID string) Change {
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{}
		r.entries[userID] = e
	}
	e.count++

	ch := Change{UserID: userID, At: r.now()}
	if e.count == 1 {
		r.online++
		ch.WentOnline = true
	}
	return ch
}

// MarkDisconnected records one fewer open connection for userID. The count
// never drops below zero and unknown identities are ignored.
func (r *Registry) MarkDisconnected(userID string) Change {
	ch := Change{UserID: userID, At: r.now()}
	e, ok := r.entries[userID]
	if !ok || e.count == 0 {
		return ch
	}

	e.count--
	if e.count == 0 {
		r.online--
		e.lastSeen = ch.At
		ch.WentOffline = true
	}
	return ch
}

// Lookup returns the status of userID and whether it was ever seen.
func (r *Registry) Lookup(userID string) (Status, bool) {
	e, ok := r.entries[userID]
	if !ok {
		return Status{UserID: userID}, false
	}
	return e.status(userID), true
}

// Connections returns the number of open connections bound to userID.
func (r *Registry) Connections(userID string) int {
	if e, ok := r.entries[userID]; ok {
		return e.count
	}
	return 0
}

// IsOnline reports whether userID has at least one open connection.
func (r *Registry) IsOnline(userID string) bool {
	return r.Connections(userID) > 0
}

// OnlineCount returns the number of identities currently online.
func (r *Registry) OnlineCount() int { return r.online }

// Len returns the number of identities ever seen.
func (r *Registry) Len() int { return len(r.entries) }

// Snapshot returns every known identity ordered by user id.
func (r *Registry) Snapshot() []Status {
	out := make([]Status, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, e.status(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (e *entry) status(userID string) Status {
	return Status{
		UserID:      userID,
		Connections: e.count,
		Online:      e.count > 0,
		LastSeen:    e.lastSeen,
	}
}

package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// TestMarkConnectedTransitions tests connect bookkeeping.
// It verifies that only the first connection of an identity reports a
// transition and that the online count tracks identities, not connections.
func TestMarkConnectedTransitions(t *testing.T) {
	r := NewRegistry(newClock().Now)

	ch := r.MarkConnected("u1")
	assert.True(t, ch.WentOnline)
	assert.True(t, ch.Transitioned())

	ch = r.MarkConnected("u1")
	assert.False(t, ch.Transitioned())

	r.MarkConnected("u2")

	assert.Equal(t, 2, r.Connections("u1"))
	assert.Equal(t, 2, r.OnlineCount())
	assert.Equal(t, 2, r.Len())
}

// TestMultipleConnectionsSameIdentity tests the multi-tab case.
// It verifies that an identity stays online until its last connection closes
// and that LastSeen is only stamped on that final close.
func TestMultipleConnectionsSameIdentity(t *testing.T) {
	clock := newClock()
	r := NewRegistry(clock.Now)

	r.MarkConnected("u1")
	r.MarkConnected("u1")

	clock.Advance(time.Minute)
	ch := r.MarkDisconnected("u1")
	assert.False(t, ch.WentOffline)

	st, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.True(t, st.Online)
	assert.True(t, st.LastSeen.IsZero())

	clock.Advance(time.Minute)
	ch = r.MarkDisconnected("u1")
	assert.True(t, ch.WentOffline)
	assert.Equal(t, clock.Now(), ch.At)

	st, ok = r.Lookup("u1")
	require.True(t, ok)
	assert.False(t, st.Online)
	assert.Equal(t, 0, st.Connections)
	assert.Equal(t, clock.Now(), st.LastSeen)
	assert.Equal(t, 0, r.OnlineCount())
}

// TestMarkDisconnectedFloorsAtZero tests that extra disconnects are harmless.
func TestMarkDisconnectedFloorsAtZero(t *testing.T) {
	r := NewRegistry(nil)

	ch := r.MarkDisconnected("ghost")
	assert.False(t, ch.Transitioned())
	_, ok := r.Lookup("ghost")
	assert.False(t, ok, "unknown identity must not be created by a disconnect")

	r.MarkConnected("u1")
	r.MarkDisconnected("u1")
	ch = r.MarkDisconnected("u1")
	assert.False(t, ch.Transitioned())
	assert.Equal(t, 0, r.Connections("u1"))
	assert.Equal(t, 0, r.OnlineCount())
}

// TestOnlineMatchesConnectionCount tests the online flag invariant over a
// mixed sequence of operations.
func TestOnlineMatchesConnectionCount(t *testing.T) {
	r := NewRegistry(nil)
	ops := []struct {
		user    string
		connect bool
	}{
		{"a", true}, {"b", true}, {"a", true}, {"a", false}, {"b", false},
		{"b", false}, {"c", true}, {"a", false}, {"a", false}, {"c", true},
	}

	for _, op := range ops {
		if op.connect {
			r.MarkConnected(op.user)
		} else {
			r.MarkDisconnected(op.user)
		}

		online := 0
		for _, st := range r.Snapshot() {
			assert.Equal(t, st.Connections > 0, st.Online, st.UserID)
			assert.GreaterOrEqual(t, st.Connections, 0)
			assert.Equal(t, st.Online, r.IsOnline(st.UserID))
			if st.Online {
				online++
			}
		}
		assert.Equal(t, online, r.OnlineCount())
	}
}

// TestSnapshotOrdering tests that snapshots are sorted and keep offline identities.
func TestSnapshotOrdering(t *testing.T) {
	r := NewRegistry(nil)
	r.MarkConnected("zed")
	r.MarkConnected("amy")
	r.MarkConnected("bob")
	r.MarkDisconnected("bob")

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "amy", snap[0].UserID)
	assert.Equal(t, "bob", snap[1].UserID)
	assert.False(t, snap[1].Online)
	assert.False(t, snap[1].LastSeen.IsZero())
	assert.Equal(t, "zed", snap[2].UserID)
}

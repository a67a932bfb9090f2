package rooms

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJoinLeave tests membership in both directions.
// It verifies that join is idempotent, leave removes the connection from the
// member list, and an emptied room stays known.
func TestJoinLeave(t *testing.T) {
	tr := NewTracker(DefaultOptions())
	room := ChatSession("s1")

	added, err := tr.Join("c1", room)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = tr.Join("c1", room)
	require.NoError(t, err)
	assert.False(t, added)

	_, err = tr.Join("c2", room)
	require.NoError(t, err)

	assert.Equal(t, []string{"c1", "c2"}, tr.MembersOf(room))
	assert.True(t, tr.IsMember("c1", room))

	assert.True(t, tr.Leave("c1", room))
	assert.False(t, tr.Leave("c1", room), "second leave is a no-op")
	assert.Equal(t, []string{"c2"}, tr.MembersOf(room))
	assert.Empty(t, tr.RoomsOf("c1"))

	tr.Leave("c2", room)
	assert.Empty(t, tr.MembersOf(room))
	assert.True(t, tr.Known(room))
	assert.False(t, tr.Known(ChatSession("never")))
}

// TestLeaveAll tests the close cascade helper.
// It verifies that every membership of one connection is removed while other
// connections keep theirs.
func TestLeaveAll(t *testing.T) {
	tr := NewTracker(DefaultOptions())
	for _, r := range []string{ChatSession("s1"), Company("c1"), ChatSession("s2")} {
		_, err := tr.Join("a", r)
		require.NoError(t, err)
	}
	_, err := tr.Join("b", ChatSession("s1"))
	require.NoError(t, err)

	left := tr.LeaveAll("a")
	assert.Equal(t, []string{"chat-session:s1", "chat-session:s2", "company:c1"}, left)
	assert.Empty(t, tr.RoomsOf("a"))
	assert.Equal(t, []string{"b"}, tr.MembersOf(ChatSession("s1")))
	assert.Empty(t, tr.MembersOf(Company("c1")))

	assert.Empty(t, tr.LeaveAll("unknown"))
}

// TestRoomLimit tests the per-connection membership cap.
func TestRoomLimit(t *testing.T) {
	tr := NewTracker(Options{MaxRoomsPerConnection: 2})

	_, err := tr.Join("c1", "r1")
	require.NoError(t, err)
	_, err = tr.Join("c1", "r2")
	require.NoError(t, err)

	_, err = tr.Join("c1", "r3")
	assert.True(t, errors.Is(err, ErrTooManyRooms))
	assert.False(t, tr.Known("r3"))

	added, err := tr.Join("c1", "r2")
	assert.NoError(t, err, "rejoining an existing room is not counted")
	assert.False(t, added)

	tr.Leave("c1", "r1")
	_, err = tr.Join("c1", "r3")
	assert.NoError(t, err)

	unlimited := NewTracker(Options{})
	for i := 0; i < 200; i++ {
		_, err := unlimited.Join("c1", strings.Repeat("r", i+1))
		require.NoError(t, err)
	}
}

// TestCheckID tests room id validation.
func TestCheckID(t *testing.T) {
	tr := NewTracker(Options{MaxRoomIDLength: 4})

	assert.NoError(t, tr.CheckID("abcd"))
	assert.NoError(t, tr.CheckID("ünïc"))
	assert.True(t, errors.Is(tr.CheckID(""), ErrInvalidRoom))
	assert.True(t, errors.Is(tr.CheckID(" \t"), ErrInvalidRoom))
	assert.True(t, errors.Is(tr.CheckID("abcde"), ErrInvalidRoom))
}

// TestNamespaces tests room naming helpers.
func TestNamespaces(t *testing.T) {
	assert.Equal(t, "chat-session:s1", ChatSession("s1"))
	assert.Equal(t, "company:c1", Company("c1"))
	assert.Equal(t, "s1", ChatSessionID(ChatSession("s1")))
	assert.NotEqual(t, ChatSession("x"), Company("x"))
}

package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatd-io/chatd/internal/v1/types"
	"github.com/chatd-io/chatd/internal/v1/wire"
)

type nopHandle struct{}

func (nopHandle) Send(*wire.Frame) error { return nil }
func (nopHandle) Close()                 {}

func TestRegister_AssignsGuestPlaceholder(t *testing.T) {
	r := New()

	sid1 := r.Register(nopHandle{})
	sid2 := r.Register(nopHandle{})

	s1, err := r.Lookup(sid1)
	require.NoError(t, err)
	s2, err := r.Lookup(sid2)
	require.NoError(t, err)

	assert.Equal(t, "Guest-1", s1.Username)
	assert.Equal(t, "Guest-2", s2.Username)
	assert.False(t, s1.Authenticated)
	assert.NotEqual(t, s1.UserID, s2.UserID)
}

func TestAuthenticate_ClaimsUsername(t *testing.T) {
	r := New()
	sid := r.Register(nopHandle{})

	assigned, hint, err := r.Authenticate(sid, "alice", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", assigned)
	assert.Empty(t, hint)

	s, err := r.Lookup(sid)
	require.NoError(t, err)
	assert.True(t, s.Authenticated)
	assert.Equal(t, types.DeviceID("dev-1"), s.DeviceID)
}

func TestAuthenticate_CollisionGetsSuffix(t *testing.T) {
	r := New()
	sid1 := r.Register(nopHandle{})
	sid2 := r.Register(nopHandle{})

	first, _, err := r.Authenticate(sid1, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", first)

	second, _, err := r.Authenticate(sid2, "alice", "")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, fmt.Sprintf("alice_%d", 2), second, "suffix starts at the live session count")
}

func TestAuthenticate_SuffixSkipsTakenNames(t *testing.T) {
	r := New()
	sid1 := r.Register(nopHandle{})
	sid2 := r.Register(nopHandle{})
	sid3 := r.Register(nopHandle{})

	_, _, err := r.Authenticate(sid1, "bob", "")
	require.NoError(t, err)
	_, _, err = r.Authenticate(sid2, "bob_3", "")
	require.NoError(t, err)

	third, _, err := r.Authenticate(sid3, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, "bob_4", third)
}

func TestAuthenticate_Twice(t *testing.T) {
	r := New()
	sid := r.Register(nopHandle{})

	_, _, err := r.Authenticate(sid, "alice", "")
	require.NoError(t, err)

	_, _, err = r.Authenticate(sid, "alice2", "")
	assert.ErrorIs(t, err, types.ErrBadRequest)
}

func TestAuthenticate_EmptyUsername(t *testing.T) {
	r := New()
	sid := r.Register(nopHandle{})

	_, _, err := r.Authenticate(sid, "", "")
	assert.ErrorIs(t, err, types.ErrBadRequest)
}

func TestAuthenticate_UnknownSession(t *testing.T) {
	r := New()
	_, _, err := r.Authenticate("nope", "alice", "")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestReconnectHint_ConsumedOnce(t *testing.T) {
	r := New()
	now := time.Now()
	r.ArchiveDisconnect("dev-1", "alice", "room-9", now)

	sid := r.Register(nopHandle{})
	_, hint, err := r.Authenticate(sid, "alice", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, types.RoomID("room-9"), hint)

	// A second session with the same device gets nothing: the record is spent.
	sid2 := r.Register(nopHandle{})
	_, hint2, err := r.Authenticate(sid2, "alice-b", "dev-1")
	require.NoError(t, err)
	assert.Empty(t, hint2)
}

func TestReconnectHint_ExpiresAfterWindow(t *testing.T) {
	r := New()
	r.ArchiveDisconnect("dev-1", "alice", "room-9", time.Now().Add(-recentWindow-time.Minute))

	sid := r.Register(nopHandle{})
	_, hint, err := r.Authenticate(sid, "alice", "dev-1")
	require.NoError(t, err)
	assert.Empty(t, hint)
}

func TestArchiveDisconnect_EmptyDeviceIgnored(t *testing.T) {
	r := New()
	r.ArchiveDisconnect("", "alice", "room-9", time.Now())

	sid := r.Register(nopHandle{})
	_, hint, err := r.Authenticate(sid, "alice", "")
	require.NoError(t, err)
	assert.Empty(t, hint)
}

func TestDrop_RemovesSession(t *testing.T) {
	r := New()
	sid := r.Register(nopHandle{})

	s, err := r.Drop(sid)
	require.NoError(t, err)
	assert.Equal(t, sid, s.SID)

	_, err = r.Lookup(sid)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = r.Drop(sid)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSweep_ReturnsOnlyIdleSessions(t *testing.T) {
	r := New()
	idle := r.Register(nopHandle{})
	active := r.Register(nopHandle{})

	// Backdate the idle session past the timeout.
	r.mu.Lock()
	r.sessions[idle].LastActivity = time.Now().Add(-10 * time.Minute)
	r.mu.Unlock()

	require.NoError(t, r.Touch(active))

	expired := r.Sweep(time.Now(), 5*time.Minute)
	require.Len(t, expired, 1)
	assert.Equal(t, idle, expired[0])
}

func TestCountAndUsernames(t *testing.T) {
	r := New()
	r.Register(nopHandle{})
	sid := r.Register(nopHandle{})
	_, _, err := r.Authenticate(sid, "carol", "")
	require.NoError(t, err)

	assert.Equal(t, 2, r.Count())
	assert.Contains(t, r.Usernames(), "carol")
	assert.Len(t, r.Handles(), 2)
}

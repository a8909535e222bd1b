// Package registry tracks live client sessions.
//
// The registry owns session records: identity, transport handle, and
// last-activity bookkeeping. Room membership is owned elsewhere; the registry
// only remembers a disconnected device's last room so a returning client can
// be offered a reconnect hint.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatd-io/chatd/internal/v1/metrics"
	"github.com/chatd-io/chatd/internal/v1/types"
)

// Session is one live client connection. The handle is borrowed from the
// transport layer; the registry never closes it.
type Session struct {
	SID           types.SessionID
	Handle        types.SessionHandle
	Username      string
	UserID        types.UserID
	DeviceID      types.DeviceID
	ConnectedAt   time.Time
	LastActivity  time.Time
	Authenticated bool
}

// DisconnectRecord remembers where a device was when it dropped, so a
// reconnecting client can be told its last room. No credentials are carried
// over; password-protected rooms must be re-entered explicitly.
type DisconnectRecord struct {
	Username string
	LastRoom types.RoomID
	LastSeen time.Time
}

// recentWindow bounds how long a disconnect record stays usable as a
// reconnect hint.
const recentWindow = 24 * time.Hour

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[types.SessionID]*Session
	recent   map[types.DeviceID]DisconnectRecord
	counter  int
}

func New() *Registry {
	return &Registry{
		sessions: make(map[types.SessionID]*Session),
		recent:   make(map[types.DeviceID]DisconnectRecord),
	}
}

// Register allocates a new session with a placeholder username and stores it.
func (r *Registry) Register(handle types.SessionHandle) types.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counter++
	now := time.Now()
	sid := types.SessionID(uuid.NewString())
	r.sessions[sid] = &Session{
		SID:          sid,
		Handle:       handle,
		Username:     fmt.Sprintf("Guest-%d", r.counter),
		UserID:       types.UserID(uuid.NewString()),
		ConnectedAt:  now,
		LastActivity: now,
	}
	metrics.IncSession()
	return sid
}

// Authenticate replaces the placeholder username exactly once. Colliding
// usernames are suffixed with the smallest unique "_<k>" where k starts at
// the live session count. When the device id matches a recently disconnected
// session, that session's last room is returned as a reconnect hint; the
// caller decides whether to surface it. No automatic rejoin happens here.
func (r *Registry) Authenticate(sid types.SessionID, username string, deviceID types.DeviceID) (string, types.RoomID, error) {
	if username == "" {
		return "", "", fmt.Errorf("username is required: %w", types.ErrBadRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sid]
	if !ok {
		return "", "", fmt.Errorf("no such session %q: %w", sid, types.ErrNotFound)
	}
	if s.Authenticated {
		return "", "", fmt.Errorf("session already authenticated: %w", types.ErrBadRequest)
	}

	assigned := username
	if r.usernameTakenLocked(assigned, sid) {
		k := len(r.sessions)
		for {
			assigned = fmt.Sprintf("%s_%d", username, k)
			if !r.usernameTakenLocked(assigned, sid) {
				break
			}
			k++
		}
	}

	s.Username = assigned
	s.DeviceID = deviceID
	s.Authenticated = true
	s.LastActivity = time.Now()

	var hint types.RoomID
	if deviceID != "" {
		if rec, ok := r.recent[deviceID]; ok {
			if time.Since(rec.LastSeen) < recentWindow {
				hint = rec.LastRoom
			}
			delete(r.recent, deviceID)
		}
	}
	return assigned, hint, nil
}

func (r *Registry) usernameTakenLocked(name string, self types.SessionID) bool {
	for sid, s := range r.sessions {
		if sid != self && s.Username == name {
			return true
		}
	}
	return false
}

// Touch records activity for the session.
func (r *Registry) Touch(sid types.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sid]
	if !ok {
		return fmt.Errorf("no such session %q: %w", sid, types.ErrNotFound)
	}
	s.LastActivity = time.Now()
	return nil
}

// Lookup returns a copy of the session record.
func (r *Registry) Lookup(sid types.SessionID) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sid]
	if !ok {
		return Session{}, fmt.Errorf("no such session %q: %w", sid, types.ErrNotFound)
	}
	return *s, nil
}

// Drop removes and returns the session record atomically.
func (r *Registry) Drop(sid types.SessionID) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sid]
	if !ok {
		return Session{}, fmt.Errorf("no such session %q: %w", sid, types.ErrNotFound)
	}
	delete(r.sessions, sid)
	metrics.DecSession()
	return *s, nil
}

// Sweep returns the ids of every session idle longer than timeout at the
// given instant. The caller runs the regular disconnect path for each.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) []types.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []types.SessionID
	cutoff := now.Add(-timeout)
	for sid, s := range r.sessions {
		if s.LastActivity.Before(cutoff) {
			expired = append(expired, sid)
		}
	}
	return expired
}

// ArchiveDisconnect records where a device was when its session ended.
func (r *Registry) ArchiveDisconnect(deviceID types.DeviceID, username string, lastRoom types.RoomID, now time.Time) {
	if deviceID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent[deviceID] = DisconnectRecord{
		Username: username,
		LastRoom: lastRoom,
		LastSeen: now,
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Usernames lists the usernames of every live session.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		names = append(names, s.Username)
	}
	return names
}

// Handles returns the transport handles of every live session, for
// server-wide broadcasts.
func (r *Registry) Handles() map[types.SessionID]types.SessionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[types.SessionID]types.SessionHandle, len(r.sessions))
	for sid, s := range r.sessions {
		out[sid] = s.Handle
	}
	return out
}

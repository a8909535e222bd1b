package rooms

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatd-io/chatd/internal/v1/logging"
	"github.com/chatd-io/chatd/internal/v1/metrics"
	"github.com/chatd-io/chatd/internal/v1/types"
)

// Join moves a session into the room after verifying it exists and the
// password admits the caller. Leaving the previous room and entering the new
// one happen under one critical section; concurrent readers never see the
// session in both rooms or in neither. The previous room id is returned so
// the caller can announce the departure.
func (s *Store) Join(sid types.SessionID, id types.RoomID, password string) (types.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.verifyPasswordLocked(id, password); err != nil {
		return "", err
	}

	prev, inRoom := s.sessionRoom[sid]
	if inRoom {
		if prev == id {
			return "", fmt.Errorf("already in room %q: %w", id, types.ErrConflict)
		}
		s.detachLocked(sid, prev)
	}

	s.sessionRoom[sid] = id
	s.occupants[id][sid] = struct{}{}
	metrics.RoomOccupants.WithLabelValues(string(id)).Set(float64(len(s.occupants[id])))
	return prev, nil
}

// Leave removes the session from whatever room it is in. Reports false when
// the session was not in any room.
func (s *Store) Leave(sid types.SessionID) (types.RoomID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessionRoom[sid]
	if !ok {
		return "", false
	}
	s.detachLocked(sid, id)
	return id, true
}

// detachLocked removes the session from a room it is known to be in. A
// missing occupant entry means the two membership indexes diverged, which the
// locking discipline makes impossible; treat it as corruption and abort.
func (s *Store) detachLocked(sid types.SessionID, id types.RoomID) {
	members, ok := s.occupants[id]
	if !ok {
		logging.Fatal(context.Background(), "Membership index corrupted: session maps to missing room",
			zap.String("session_id", string(sid)), zap.String("room_id", string(id)))
	}
	if _, ok := members[sid]; !ok {
		logging.Fatal(context.Background(), "Membership index corrupted: room does not list session",
			zap.String("session_id", string(sid)), zap.String("room_id", string(id)))
	}
	delete(members, sid)
	delete(s.sessionRoom, sid)
	metrics.RoomOccupants.WithLabelValues(string(id)).Set(float64(len(members)))
}

// RoomOf reports the room the session currently occupies.
func (s *Store) RoomOf(sid types.SessionID) (types.RoomID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessionRoom[sid]
	return id, ok
}

// Occupants snapshots the members of a room.
func (s *Store) Occupants(id types.RoomID) []types.SessionID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.occupants[id]
	out := make([]types.SessionID, 0, len(members))
	for sid := range members {
		out = append(out, sid)
	}
	return out
}

// OccupantCount reports how many sessions are in the room.
func (s *Store) OccupantCount(id types.RoomID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.occupants[id])
}

package rooms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatd-io/chatd/internal/v1/logging"
	"github.com/chatd-io/chatd/internal/v1/metrics"
	"github.com/chatd-io/chatd/internal/v1/types"
)

// Store is the concurrency-safe room catalog plus session/room membership.
type Store struct {
	mu sync.RWMutex

	rooms  map[types.RoomID]Room
	byName map[string]types.RoomID

	// Membership, both directions. Kept consistent under the same mutex as
	// the catalog so presence checks and moves are atomic.
	sessionRoom map[types.SessionID]types.RoomID
	occupants   map[types.RoomID]map[types.SessionID]struct{}

	requirePrivatePassword bool
	mirror                 Mirror

	generalID types.RoomID
}

// NewStore builds a store with the default "General" room seeded. mirror may
// be nil for pure in-memory operation.
func NewStore(requirePrivatePassword bool, mirror Mirror) *Store {
	s := &Store{
		rooms:                  make(map[types.RoomID]Room),
		byName:                 make(map[string]types.RoomID),
		sessionRoom:            make(map[types.SessionID]types.RoomID),
		occupants:              make(map[types.RoomID]map[types.SessionID]struct{}),
		requirePrivatePassword: requirePrivatePassword,
		mirror:                 mirror,
	}

	general := Room{
		ID:         types.RoomID(uuid.NewString()),
		Name:       types.GeneralRoomName,
		Visibility: VisibilityPublic,
		CreatedBy:  types.ServerPrincipal,
		CreatedAt:  time.Now(),
	}
	s.insertLocked(general)
	s.generalID = general.ID
	return s
}

// GeneralID returns the id of the undeletable default room.
func (s *Store) GeneralID() types.RoomID {
	return s.generalID
}

// insertLocked assumes s.mu is held (or the store is not yet shared).
func (s *Store) insertLocked(room Room) {
	s.rooms[room.ID] = room
	s.byName[room.Name] = room.ID
	s.occupants[room.ID] = make(map[types.SessionID]struct{})
	metrics.ActiveRooms.Inc()
}

// Create adds a new room. Duplicate names are rejected. A private room with
// an empty password is allowed unless the deployment requires passwords on
// private rooms; it then behaves like a public room with a private label.
func (s *Store) Create(name, visibility, password, creator string) (Room, error) {
	if name == "" {
		return Room{}, fmt.Errorf("room name is required: %w", types.ErrBadRequest)
	}
	if visibility != VisibilityPublic && visibility != VisibilityPrivate {
		return Room{}, fmt.Errorf("visibility must be %q or %q: %w", VisibilityPublic, VisibilityPrivate, types.ErrBadRequest)
	}
	if visibility == VisibilityPrivate && password == "" && s.requirePrivatePassword {
		return Room{}, fmt.Errorf("private rooms require a password: %w", types.ErrBadRequest)
	}

	room := Room{
		ID:         types.RoomID(uuid.NewString()),
		Name:       name,
		Visibility: visibility,
		CreatedBy:  creator,
		CreatedAt:  time.Now(),
	}
	if visibility == VisibilityPrivate {
		room.PasswordHash = HashPassword(password)
	}

	s.mu.Lock()
	if _, taken := s.byName[name]; taken {
		s.mu.Unlock()
		return Room{}, fmt.Errorf("room %q already exists: %w", name, types.ErrConflict)
	}
	s.insertLocked(room)
	s.mu.Unlock()

	s.mirrorSave(room)
	return room, nil
}

// Get returns the room record.
func (s *Store) Get(id types.RoomID) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return Room{}, fmt.Errorf("room %q: %w", id, types.ErrNotFound)
	}
	return room, nil
}

// Delete removes a room and detaches every member, returning the detached
// session ids so the caller can re-home them. Only the creator or the SERVER
// principal may delete; "General" is protected.
func (s *Store) Delete(id types.RoomID, requester string) ([]types.SessionID, error) {
	s.mu.Lock()

	room, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("room %q: %w", id, types.ErrNotFound)
	}
	if room.Name == types.GeneralRoomName {
		s.mu.Unlock()
		return nil, fmt.Errorf("room %q cannot be deleted: %w", room.Name, types.ErrProtected)
	}
	if requester != room.CreatedBy && requester != types.ServerPrincipal {
		s.mu.Unlock()
		return nil, fmt.Errorf("only the creator may delete room %q: %w", room.Name, types.ErrForbidden)
	}

	var detached []types.SessionID
	for sid := range s.occupants[id] {
		detached = append(detached, sid)
		delete(s.sessionRoom, sid)
	}
	delete(s.occupants, id)
	delete(s.rooms, id)
	delete(s.byName, room.Name)
	metrics.ActiveRooms.Dec()
	metrics.RoomOccupants.DeleteLabelValues(string(id))
	s.mu.Unlock()

	s.mirrorDelete(id)
	return detached, nil
}

// VerifyPassword succeeds when the room is public, has no password, or the
// candidate hashes to the stored digest.
func (s *Store) VerifyPassword(id types.RoomID, candidate string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifyPasswordLocked(id, candidate)
}

func (s *Store) verifyPasswordLocked(id types.RoomID, candidate string) error {
	room, ok := s.rooms[id]
	if !ok {
		return fmt.Errorf("room %q: %w", id, types.ErrNotFound)
	}
	if room.Visibility == VisibilityPublic || room.PasswordHash == "" {
		return nil
	}
	if !hashMatches(candidate, room.PasswordHash) {
		return fmt.Errorf("incorrect password for room %q: %w", room.Name, types.ErrForbidden)
	}
	return nil
}

// Summarize returns the external view of one room.
func (s *Store) Summarize(id types.RoomID) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return Summary{}, fmt.Errorf("room %q: %w", id, types.ErrNotFound)
	}
	return Summary{
		RoomID:            id,
		Name:              room.Name,
		Visibility:        room.Visibility,
		PasswordProtected: room.PasswordProtected(),
		CreatedBy:         room.CreatedBy,
		CreatedAt:         room.CreatedAt.UTC().Format(time.RFC3339),
		OccupantCount:     len(s.occupants[id]),
	}, nil
}

// ListPublic returns summaries of public rooms, name-ordered.
func (s *Store) ListPublic() []Summary {
	return s.list(func(r Room) bool { return r.Visibility == VisibilityPublic })
}

// ListAll returns summaries of every room, name-ordered.
func (s *Store) ListAll() []Summary {
	return s.list(func(Room) bool { return true })
}

func (s *Store) list(keep func(Room) bool) []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.rooms))
	for id, room := range s.rooms {
		if !keep(room) {
			continue
		}
		out = append(out, Summary{
			RoomID:            id,
			Name:              room.Name,
			Visibility:        room.Visibility,
			PasswordProtected: room.PasswordProtected(),
			CreatedBy:         room.CreatedBy,
			CreatedAt:         room.CreatedAt.UTC().Format(time.RFC3339),
			OccupantCount:     len(s.occupants[id]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CollectStats aggregates catalog counters for the stats surface.
func (s *Store) CollectStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{PerRoom: make(map[string]int, len(s.rooms))}
	for id, room := range s.rooms {
		st.TotalRooms++
		if room.Visibility == VisibilityPublic {
			st.PublicRooms++
		} else {
			st.PrivateRooms++
		}
		n := len(s.occupants[id])
		st.TotalInRooms += n
		st.PerRoom[room.Name] = n
	}
	return st
}

// Revive pulls a room the catalog does not know about from the mirror, as a
// join-time fallback. Returns the room whether it was revived or already
// present.
func (s *Store) Revive(ctx context.Context, id types.RoomID) (Room, error) {
	s.mu.RLock()
	room, ok := s.rooms[id]
	s.mu.RUnlock()
	if ok {
		return room, nil
	}
	if s.mirror == nil {
		return Room{}, fmt.Errorf("room %q: %w", id, types.ErrNotFound)
	}

	room, err := s.mirror.LoadRoom(ctx, id)
	if err != nil {
		return Room{}, fmt.Errorf("room %q not in mirror: %w", id, types.ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rooms[id]; ok {
		return existing, nil
	}
	if _, taken := s.byName[room.Name]; taken {
		return Room{}, fmt.Errorf("mirrored room name %q collides: %w", room.Name, types.ErrConflict)
	}
	s.insertLocked(room)
	logging.Info(ctx, "Room revived from mirror", zap.String("room_id", string(id)), zap.String("name", room.Name))
	return room, nil
}

// LoadFromMirror warm-starts the catalog from the mirror at boot. Rooms whose
// names collide with existing ones are skipped.
func (s *Store) LoadFromMirror(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}
	loaded, err := s.mirror.LoadRooms(ctx)
	if err != nil {
		return fmt.Errorf("load rooms from mirror: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, room := range loaded {
		if _, ok := s.rooms[room.ID]; ok {
			continue
		}
		if _, taken := s.byName[room.Name]; taken {
			continue
		}
		s.insertLocked(room)
		count++
	}
	logging.Info(ctx, "Loaded rooms from mirror", zap.Int("count", count))
	return nil
}

func (s *Store) mirrorSave(room Room) {
	if s.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.mirror.SaveRoom(ctx, room); err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn(ctx, "Failed to mirror room", zap.String("room_id", string(room.ID)), zap.Error(err))
	}
}

func (s *Store) mirrorDelete(id types.RoomID) {
	if s.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.mirror.DeleteRoom(ctx, id); err != nil {
		logging.Warn(ctx, "Failed to remove mirrored room", zap.String("room_id", string(id)), zap.Error(err))
	}
}

// Package rooms owns the room catalog and room membership.
//
// Both live behind a single mutex so the composite operations the dispatcher
// relies on stay atomic: a join verifies room existence, verifies the
// password, and moves the session between rooms with no intermediate state
// visible to concurrent readers; deleting a room detaches every member before
// any fan-out can observe the stale occupant list.
package rooms

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/chatd-io/chatd/internal/v1/types"
)

// Visibility of a room.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Room is a named multicast group with optional password admission control.
// PasswordHash is a SHA-256 hex digest; it is never exposed in summaries.
type Room struct {
	ID           types.RoomID
	Name         string
	Visibility   string
	PasswordHash string
	CreatedBy    string
	CreatedAt    time.Time
}

// PasswordProtected reports whether joining requires a password.
func (r Room) PasswordProtected() bool {
	return r.PasswordHash != ""
}

// Summary is the externally visible shape of a room. Passwords and hashes
// are never included.
type Summary struct {
	RoomID            types.RoomID `json:"roomId"`
	Name              string       `json:"name"`
	Visibility        string       `json:"visibility"`
	PasswordProtected bool         `json:"passwordProtected"`
	CreatedBy         string       `json:"createdBy"`
	CreatedAt         string       `json:"createdAt"`
	OccupantCount     int          `json:"occupantCount"`
}

// Stats aggregates catalog-wide counters for the stats surface.
type Stats struct {
	TotalRooms   int            `json:"totalRooms"`
	PublicRooms  int            `json:"publicRooms"`
	PrivateRooms int            `json:"privateRooms"`
	TotalInRooms int            `json:"totalClients"`
	PerRoom      map[string]int `json:"roomStats"`
}

// Mirror is the optional external key-value backing for room metadata.
// Implementations degrade gracefully; the in-memory catalog is authoritative.
// Messages are never mirrored.
type Mirror interface {
	SaveRoom(ctx context.Context, room Room) error
	DeleteRoom(ctx context.Context, id types.RoomID) error
	LoadRoom(ctx context.Context, id types.RoomID) (Room, error)
	LoadRooms(ctx context.Context) ([]Room, error)
}

// HashPassword returns the lowercase SHA-256 hex digest of the raw password,
// or "" for an empty password.
func HashPassword(password string) string {
	if password == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// hashMatches compares a candidate password against a stored hex digest.
// Constant-time comparison; timing does not matter here but it costs nothing.
func hashMatches(candidate, storedHex string) bool {
	candidateHex := HashPassword(candidate)
	if len(candidateHex) != len(storedHex) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidateHex), []byte(storedHex)) == 1
}

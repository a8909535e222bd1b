// Package history is the per-room message log.
//
// Records are append-only in room order. Edits keep every prior version;
// deletes tombstone the record in place so later appends keep their position
// and history replay stays stable.
package history

import (
	"fmt"
	"sync"

	"github.com/chatd-io/chatd/internal/v1/types"
	"github.com/chatd-io/chatd/internal/v1/wire"
)

// Tombstone replaces the content of a deleted message.
const Tombstone = "[deleted]"

// Snapshot is one prior version of a message.
type Snapshot struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Record is one message in a room's log. Timestamps use the wire layout.
type Record struct {
	MessageID      string       `json:"messageId"`
	RoomID         types.RoomID `json:"roomId"`
	AuthorUsername string       `json:"username"`
	AuthorUserID   types.UserID `json:"-"`
	Content        string       `json:"message"`
	Timestamp      string       `json:"timestamp"`
	IsSystem       bool         `json:"isSystem,omitempty"`
	Edited         bool         `json:"edited,omitempty"`
	EditedAt       string       `json:"editedAt,omitempty"`
	Deleted        bool         `json:"deleted,omitempty"`
	Versions       []Snapshot   `json:"-"`
}

// DeletionNotice carries what a delete removed, for the fan-out event.
type DeletionNotice struct {
	MessageID         string
	RoomID            types.RoomID
	OriginalTimestamp string
	DeletedContent    string
	DeleterUsername   string
	DeletedAt         string
}

// Log is safe for concurrent use.
type Log struct {
	mu     sync.RWMutex
	byRoom map[types.RoomID][]*Record
	byID   map[string]*Record
}

func NewLog() *Log {
	return &Log{
		byRoom: make(map[types.RoomID][]*Record),
		byID:   make(map[string]*Record),
	}
}

// Append adds a record to its room's log. The message id must be unique; a
// duplicate is a client retry and is rejected as a conflict.
func (l *Log) Append(rec Record) (*Record, error) {
	if rec.MessageID == "" || rec.RoomID == "" {
		return nil, fmt.Errorf("message id and room id are required: %w", types.ErrBadRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.byID[rec.MessageID]; dup {
		return nil, fmt.Errorf("message %q already logged: %w", rec.MessageID, types.ErrConflict)
	}
	stored := rec
	l.byID[rec.MessageID] = &stored
	l.byRoom[rec.RoomID] = append(l.byRoom[rec.RoomID], &stored)
	return &stored, nil
}

// Edit replaces a message's content, keeping the previous version. Only the
// author may edit; a deleted message can no longer be edited.
func (l *Log) Edit(messageID string, requester types.UserID, newContent string) (Record, error) {
	if newContent == "" {
		return Record{}, fmt.Errorf("replacement content is required: %w", types.ErrBadRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byID[messageID]
	if !ok {
		return Record{}, fmt.Errorf("message %q: %w", messageID, types.ErrNotFound)
	}
	if rec.Deleted {
		return Record{}, fmt.Errorf("message %q was deleted: %w", messageID, types.ErrGone)
	}
	if rec.AuthorUserID != requester {
		return Record{}, fmt.Errorf("only the author may edit message %q: %w", messageID, types.ErrForbidden)
	}

	prevStamp := rec.Timestamp
	if rec.Edited {
		prevStamp = rec.EditedAt
	}
	rec.Versions = append(rec.Versions, Snapshot{Content: rec.Content, Timestamp: prevStamp})
	rec.Content = newContent
	rec.Edited = true
	rec.EditedAt = wire.Now()
	return *rec, nil
}

// Delete tombstones a message in place. Only the author may delete. Deleting
// an already-deleted message is reported as gone with no state change.
func (l *Log) Delete(messageID string, requester types.UserID, requesterName string) (DeletionNotice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byID[messageID]
	if !ok {
		return DeletionNotice{}, fmt.Errorf("message %q: %w", messageID, types.ErrNotFound)
	}
	if rec.Deleted {
		return DeletionNotice{}, fmt.Errorf("message %q already deleted: %w", messageID, types.ErrGone)
	}
	if rec.AuthorUserID != requester {
		return DeletionNotice{}, fmt.Errorf("only the author may delete message %q: %w", messageID, types.ErrForbidden)
	}

	notice := DeletionNotice{
		MessageID:         messageID,
		RoomID:            rec.RoomID,
		OriginalTimestamp: rec.Timestamp,
		DeletedContent:    rec.Content,
		DeleterUsername:   requesterName,
		DeletedAt:         wire.Now(),
	}
	rec.Versions = append(rec.Versions, Snapshot{Content: rec.Content, Timestamp: rec.Timestamp})
	rec.Content = Tombstone
	rec.Deleted = true
	return notice, nil
}

// Tail returns up to limit of the most recent non-deleted records of a room,
// oldest first. limit <= 0 means no cap.
func (l *Log) Tail(id types.RoomID, limit int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := l.byRoom[id]
	if limit < 0 {
		limit = 0
	}
	out := make([]Record, 0, limit)
	// Walk backwards collecting live records, then reverse into room order.
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Deleted {
			continue
		}
		out = append(out, *all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// History returns every stored version of a message, oldest first, with the
// current content last.
func (l *Log) History(messageID string) ([]Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.byID[messageID]
	if !ok {
		return nil, fmt.Errorf("message %q: %w", messageID, types.ErrNotFound)
	}

	out := make([]Snapshot, 0, len(rec.Versions)+1)
	out = append(out, rec.Versions...)
	stamp := rec.Timestamp
	if rec.Edited {
		stamp = rec.EditedAt
	}
	out = append(out, Snapshot{Content: rec.Content, Timestamp: stamp})
	return out, nil
}

// Get returns a copy of the record, tombstoned or not.
func (l *Log) Get(messageID string) (Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.byID[messageID]
	if !ok {
		return Record{}, fmt.Errorf("message %q: %w", messageID, types.ErrNotFound)
	}
	return *rec, nil
}

// DropRoom discards a room's log after the room is deleted.
func (l *Log) DropRoom(id types.RoomID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rec := range l.byRoom[id] {
		delete(l.byID, rec.MessageID)
	}
	delete(l.byRoom, id)
}

// Count reports the number of records, including tombstones, in a room.
func (l *Log) Count(id types.RoomID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byRoom[id])
}

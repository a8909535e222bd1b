package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatd-io/chatd/internal/v1/types"
	"github.com/chatd-io/chatd/internal/v1/wire"
)

func record(id, room, author, content string) Record {
	return Record{
		MessageID:      id,
		RoomID:         types.RoomID(room),
		AuthorUsername: author,
		AuthorUserID:   types.UserID("uid-" + author),
		Content:        content,
		Timestamp:      wire.Now(),
	}
}

func TestAppend_RejectsDuplicates(t *testing.T) {
	l := NewLog()

	_, err := l.Append(record("m1", "r1", "alice", "hi"))
	require.NoError(t, err)

	_, err = l.Append(record("m1", "r1", "alice", "hi again"))
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestAppend_RequiresIDs(t *testing.T) {
	l := NewLog()
	_, err := l.Append(Record{RoomID: "r1", Content: "x"})
	assert.ErrorIs(t, err, types.ErrBadRequest)
}

func TestEdit_AuthorOnly(t *testing.T) {
	l := NewLog()
	_, err := l.Append(record("m1", "r1", "alice", "hi"))
	require.NoError(t, err)

	_, err = l.Edit("m1", "uid-bob", "hijacked")
	assert.ErrorIs(t, err, types.ErrForbidden)

	got, err := l.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Content, "a forbidden edit must not change the record")

	rec, err := l.Edit("m1", "uid-alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", rec.Content)
	assert.True(t, rec.Edited)
	assert.NotEmpty(t, rec.EditedAt)
}

func TestEdit_KeepsVersionHistory(t *testing.T) {
	l := NewLog()
	_, err := l.Append(record("m1", "r1", "alice", "v1"))
	require.NoError(t, err)

	_, err = l.Edit("m1", "uid-alice", "v2")
	require.NoError(t, err)
	_, err = l.Edit("m1", "uid-alice", "v3")
	require.NoError(t, err)

	versions, err := l.History("m1")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "v1", versions[0].Content)
	assert.Equal(t, "v2", versions[1].Content)
	assert.Equal(t, "v3", versions[2].Content)
}

func TestEdit_MissingAndEmpty(t *testing.T) {
	l := NewLog()
	_, err := l.Edit("nope", "uid-alice", "x")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = l.Append(record("m1", "r1", "alice", "hi"))
	require.NoError(t, err)
	_, err = l.Edit("m1", "uid-alice", "")
	assert.ErrorIs(t, err, types.ErrBadRequest)
}

func TestDelete_TombstonesInPlace(t *testing.T) {
	l := NewLog()
	_, err := l.Append(record("m1", "r1", "alice", "secret"))
	require.NoError(t, err)

	notice, err := l.Delete("m1", "uid-alice", "alice")
	require.NoError(t, err)
	assert.Equal(t, "secret", notice.DeletedContent)
	assert.Equal(t, "alice", notice.DeleterUsername)
	assert.NotEmpty(t, notice.DeletedAt)

	got, err := l.Get("m1")
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, Tombstone, got.Content)
	assert.Equal(t, 1, l.Count("r1"), "the record stays in the log")
}

func TestDelete_AuthorOnly(t *testing.T) {
	l := NewLog()
	_, err := l.Append(record("m1", "r1", "alice", "hi"))
	require.NoError(t, err)

	_, err = l.Delete("m1", "uid-bob", "bob")
	assert.ErrorIs(t, err, types.ErrForbidden)
}

func TestDelete_TwiceIsGone(t *testing.T) {
	l := NewLog()
	_, err := l.Append(record("m1", "r1", "alice", "hi"))
	require.NoError(t, err)

	_, err = l.Delete("m1", "uid-alice", "alice")
	require.NoError(t, err)

	_, err = l.Delete("m1", "uid-alice", "alice")
	assert.ErrorIs(t, err, types.ErrGone)

	got, err := l.Get("m1")
	require.NoError(t, err)
	require.Len(t, got.Versions, 1, "the second delete must not grow history")
}

func TestEdit_AfterDeleteIsGone(t *testing.T) {
	l := NewLog()
	_, err := l.Append(record("m1", "r1", "alice", "hi"))
	require.NoError(t, err)
	_, err = l.Delete("m1", "uid-alice", "alice")
	require.NoError(t, err)

	_, err = l.Edit("m1", "uid-alice", "resurrected")
	assert.ErrorIs(t, err, types.ErrGone)
}

func TestTail_FiltersTombstonesKeepsOrder(t *testing.T) {
	l := NewLog()
	for i := 1; i <= 5; i++ {
		_, err := l.Append(record(fmt.Sprintf("m%d", i), "r1", "alice", fmt.Sprintf("msg %d", i)))
		require.NoError(t, err)
	}
	_, err := l.Delete("m3", "uid-alice", "alice")
	require.NoError(t, err)

	tail := l.Tail("r1", 10)
	require.Len(t, tail, 4)
	for i, want := range []string{"m1", "m2", "m4", "m5"} {
		assert.Equal(t, want, tail[i].MessageID)
	}
}

func TestTail_LimitCountsLiveRecords(t *testing.T) {
	l := NewLog()
	for i := 1; i <= 6; i++ {
		_, err := l.Append(record(fmt.Sprintf("m%d", i), "r1", "alice", "x"))
		require.NoError(t, err)
	}
	_, err := l.Delete("m6", "uid-alice", "alice")
	require.NoError(t, err)

	tail := l.Tail("r1", 3)
	require.Len(t, tail, 3)
	// The tombstoned m6 does not eat a slot; the newest live records win.
	assert.Equal(t, "m3", tail[0].MessageID)
	assert.Equal(t, "m5", tail[2].MessageID)
}

func TestTail_NonPositiveLimitReturnsEverything(t *testing.T) {
	l := NewLog()
	for i := 1; i <= 4; i++ {
		_, err := l.Append(record(fmt.Sprintf("m%d", i), "r1", "alice", "x"))
		require.NoError(t, err)
	}

	assert.Len(t, l.Tail("r1", 0), 4)
	assert.Len(t, l.Tail("r1", -1), 4)
}

func TestTail_EmptyRoom(t *testing.T) {
	l := NewLog()
	assert.Empty(t, l.Tail("nowhere", 50))
}

func TestHistory_IncludesCurrentContent(t *testing.T) {
	l := NewLog()
	_, err := l.Append(record("m1", "r1", "alice", "only"))
	require.NoError(t, err)

	versions, err := l.History("m1")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "only", versions[0].Content)

	_, err = l.History("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDropRoom(t *testing.T) {
	l := NewLog()
	_, err := l.Append(record("m1", "r1", "alice", "hi"))
	require.NoError(t, err)
	_, err = l.Append(record("m2", "r2", "alice", "hi"))
	require.NoError(t, err)

	l.DropRoom("r1")

	assert.Equal(t, 0, l.Count("r1"))
	_, err = l.Get("m1")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = l.Get("m2")
	assert.NoError(t, err)
}

package sqlitestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxd/calengine/calendar"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared&_journal_mode=WAL")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleMetadata(id int) *calendar.ItemMetadata {
	tzids := []string{"Europe/Berlin"}
	return &calendar.ItemMetadata{
		ID:          id,
		FolderID:    10,
		UID:         "weekly@example.com",
		Type:        int(calendar.TypeAppointment),
		StartUnixMs: time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC).UnixMilli(),
		EndUnixMs:   time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC).UnixMilli(),
		TZIDs:       &tzids,
		Invites: []*calendar.Invite{
			{MailItemID: 100, UID: "weekly@example.com", SeqNo: 1, Name: "Weekly sync"},
		},
		Version: 2,
	}
}

func TestStore_PersistAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	meta := sampleMetadata(1)
	require.NoError(t, s.Persist(ctx, meta))

	got, err := s.Load(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, meta.UID, got.UID)
	assert.Equal(t, meta.FolderID, got.FolderID)
	assert.Equal(t, meta.StartUnixMs, got.StartUnixMs)
	require.Len(t, got.Invites, 1)
	assert.Equal(t, "Weekly sync", got.Invites[0].Name)

	// Persisting again replaces the row.
	meta.FolderID = 20
	require.NoError(t, s.Persist(ctx, meta))
	got, err = s.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 20, got.FolderID)
}

func TestStore_LoadMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)

	got, err := s.Load(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.LoadByUID(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_LoadByUID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, sampleMetadata(1)))

	got, err := s.LoadByUID(ctx, "weekly@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.ID)

	// Trashed items are invisible to UID lookup.
	require.NoError(t, s.MoveToTrash(ctx, 1))
	got, err = s.LoadByUID(ctx, "weekly@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_CalendarIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	meta := sampleMetadata(1)
	require.NoError(t, s.Persist(ctx, meta))

	item := &calendar.CalendarItem{
		ID:       1,
		FolderID: 10,
		UID:      meta.UID,
		Start:    time.UnixMilli(meta.StartUnixMs),
		End:      time.UnixMilli(meta.EndUnixMs),
	}
	require.NoError(t, s.PersistInCalendarTable(ctx, item))
	assert.Equal(t, 1, countIndexRows(t, s))

	item.FolderID = 20
	item.End = item.End.Add(time.Hour)
	require.NoError(t, s.UpdateInCalendarTable(ctx, item))

	var folderID int
	var endMs int64
	require.NoError(t, s.db.QueryRow(
		`SELECT folder_id, end_ms FROM calendar_items WHERE item_id = 1`).Scan(&folderID, &endMs))
	assert.Equal(t, 20, folderID)
	assert.Equal(t, item.End.UnixMilli(), endMs)

	require.NoError(t, s.RemoveFromCalendarTable(ctx, 1))
	assert.Equal(t, 0, countIndexRows(t, s))
}

func TestStore_IndexZeroesTimelessItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, sampleMetadata(1)))
	require.NoError(t, s.PersistInCalendarTable(ctx, &calendar.CalendarItem{ID: 1, FolderID: 10, UID: "weekly@example.com"}))

	var startMs, endMs int64
	require.NoError(t, s.db.QueryRow(
		`SELECT start_ms, end_ms FROM calendar_items WHERE item_id = 1`).Scan(&startMs, &endMs))
	assert.Zero(t, startMs)
	assert.Zero(t, endMs)
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	meta := sampleMetadata(1)
	require.NoError(t, s.Persist(ctx, meta))
	require.NoError(t, s.PersistInCalendarTable(ctx, &calendar.CalendarItem{ID: 1, UID: meta.UID, FolderID: 10}))

	require.NoError(t, s.Delete(ctx, 1))

	got, err := s.Load(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, countIndexRows(t, s))
}

func TestStore_MoveToTrashKeepsMetadata(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	meta := sampleMetadata(1)
	require.NoError(t, s.Persist(ctx, meta))
	require.NoError(t, s.PersistInCalendarTable(ctx, &calendar.CalendarItem{ID: 1, UID: meta.UID, FolderID: 10}))

	require.NoError(t, s.MoveToTrash(ctx, 1))

	// The index row is gone but the metadata survives for restoration.
	assert.Equal(t, 0, countIndexRows(t, s))
	got, err := s.Load(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, meta.UID, got.UID)
}

func TestStore_MigrationsAreIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.migrate())

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM _migrations`).Scan(&n))
	assert.Equal(t, len(migrations), n)
}

func countIndexRows(t *testing.T, s *Store) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM calendar_items`).Scan(&n))
	return n
}

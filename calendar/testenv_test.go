package calendar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/inboxd/calengine/calendar/recurrence"
)

// memStore is an in-memory MetadataStore recording every call.
type memStore struct {
	metadata     map[int]*ItemMetadata
	calendarRows map[int]bool
	trashed      map[int]bool
}

func newMemStore() *memStore {
	return &memStore{
		metadata:     make(map[int]*ItemMetadata),
		calendarRows: make(map[int]bool),
		trashed:      make(map[int]bool),
	}
}

func (s *memStore) Persist(_ context.Context, meta *ItemMetadata) error {
	s.metadata[meta.ID] = meta
	return nil
}

func (s *memStore) PersistInCalendarTable(_ context.Context, item *CalendarItem) error {
	s.calendarRows[item.ID] = true
	return nil
}

func (s *memStore) UpdateInCalendarTable(_ context.Context, item *CalendarItem) error {
	s.calendarRows[item.ID] = true
	return nil
}

func (s *memStore) RemoveFromCalendarTable(_ context.Context, itemID int) error {
	delete(s.calendarRows, itemID)
	return nil
}

func (s *memStore) Delete(_ context.Context, itemID int) error {
	delete(s.metadata, itemID)
	return nil
}

func (s *memStore) MoveToTrash(_ context.Context, itemID int) error {
	s.trashed[itemID] = true
	return nil
}

// memBlobStore keeps blobs in a map.
type memBlobStore struct {
	blobs map[string][]byte
	next  int
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (b *memBlobStore) Stage(_ context.Context, data []byte) (*StagedBlob, error) {
	b.next++
	return &StagedBlob{ID: fmt.Sprintf("staged-%d", b.next), Data: data}, nil
}

func (b *memBlobStore) Commit(_ context.Context, staged *StagedBlob) (*MailboxBlob, error) {
	sum := sha256.Sum256(staged.Data)
	blob := &MailboxBlob{
		ID:     staged.ID,
		Size:   int64(len(staged.Data)),
		Digest: hex.EncodeToString(sum[:]),
	}
	b.blobs[blob.ID] = staged.Data
	return blob, nil
}

func (b *memBlobStore) GetContent(_ context.Context, blob *MailboxBlob) ([]byte, error) {
	data, ok := b.blobs[blob.ID]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", blob.ID)
	}
	return data, nil
}

func (b *memBlobStore) Delete(_ context.Context, blob *MailboxBlob) error {
	delete(b.blobs, blob.ID)
	return nil
}

// MockPermissionChecker is a testify mock for the ACL collaborator.
type MockPermissionChecker struct {
	mock.Mock
}

func (m *MockPermissionChecker) CanAccess(ctx context.Context, rights Right, account string, asAdmin bool) (bool, error) {
	args := m.Called(ctx, rights, account, asAdmin)
	return args.Bool(0), args.Error(1)
}

// allowAll returns a permission checker granting everything.
func allowAll() *MockPermissionChecker {
	m := &MockPermissionChecker{}
	m.On("CanAccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	return m
}

// fixedClock pins the operation timestamp.
type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

// testFolder is a minimal Folder.
type testFolder struct {
	id         int
	denyRights Right
	moved      []int
}

func (f *testFolder) ID() int                  { return f.id }
func (f *testFolder) CanContain(ItemType) bool { return true }
func (f *testFolder) CanAccess(r Right) (bool, error) {
	return r&f.denyRights == 0, nil
}
func (f *testFolder) UpdateHighestModSeq() error { return nil }
func (f *testFolder) Move(itemID int) error {
	f.moved = append(f.moved, itemID)
	return nil
}

// recordingCallback counts lifecycle notifications.
type recordingCallback struct {
	created  int
	modified int
	deleted  int
}

func (c *recordingCallback) Created(*CalendarItem)  { c.created++ }
func (c *recordingCallback) Modified(*CalendarItem) { c.modified++ }
func (c *recordingCallback) Deleted(*CalendarItem)  { c.deleted++ }

// testEnv bundles an engine with its fakes.
type testEnv struct {
	engine   *Engine
	store    *memStore
	blobs    *memBlobStore
	perms    *MockPermissionChecker
	callback *recordingCallback
	clock    fixedClock
	owner    Account
}

func newTestEnv(cfg EngineConfig) *testEnv {
	if cfg.Owner.Address == "" {
		cfg.Owner = Account{Address: "owner@example.com"}
	}
	env := &testEnv{
		store:    newMemStore(),
		blobs:    newMemBlobStore(),
		perms:    allowAll(),
		callback: &recordingCallback{},
		clock:    fixedClock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
		owner:    cfg.Owner,
	}
	env.engine = NewEngine(cfg, env.store, env.blobs, env.perms, env.clock, env.callback, recurrence.NewEngineWithCache(nil), nil)
	return env
}

// weeklySeries builds a weekly 10-occurrence series invite starting Monday
// 2024-05-06 09:00 UTC.
func weeklySeries() *Invite {
	start := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	return &Invite{
		MailItemID: 100,
		Method:     MethodRequest,
		UID:        "weekly@example.com",
		SeqNo:      1,
		DTStamp:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Organizer:  &Organizer{Address: "alice@example.com"},
		Attendees: []Attendee{
			{Address: "owner@example.com", PartStat: PartStatNeedsAction},
			{Address: "bob@example.com", PartStat: PartStatNeedsAction},
		},
		Name:   "Weekly sync",
		Start:  start,
		End:    start.Add(time.Hour),
		Public: true,
		Recurrence: &recurrence.Recurrence{
			Rule: &recurrence.Rule{
				RRule:    "FREQ=WEEKLY;COUNT=10",
				DTStart:  start,
				Duration: time.Hour,
			},
			DTStart:  start,
			Duration: time.Hour,
		},
	}
}

// createWeeklyItem runs Create for the weekly series and returns the item.
func createWeeklyItem(env *testEnv) *CalendarItem {
	folder := &testFolder{id: 10}
	item, err := env.engine.Create(context.Background(), folder, weeklySeries(), CreateOptions{
		ItemID:  1,
		Account: env.owner,
	})
	if err != nil {
		panic(err)
	}
	return item
}

// nthOccurrence returns the recurrence id of the n-th weekly occurrence
// (zero-based).
func nthOccurrence(n int) time.Time {
	return time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC).AddDate(0, 0, 7*n)
}

package calendar

import (
	"context"
	"time"
)

// PermissionChecker evaluates access rights for an account against the
// mailbox that owns a calendar item. Implemented by the mailbox ACL layer.
type PermissionChecker interface {
	CanAccess(ctx context.Context, rights Right, account string, asAdmin bool) (bool, error)
}

// MetadataStore persists calendar item metadata. The engine calls it after
// every committed state change; how the rows are laid out is the store's
// business.
type MetadataStore interface {
	Persist(ctx context.Context, meta *ItemMetadata) error
	PersistInCalendarTable(ctx context.Context, item *CalendarItem) error
	UpdateInCalendarTable(ctx context.Context, item *CalendarItem) error
	RemoveFromCalendarTable(ctx context.Context, itemID int) error
	// Delete removes the item row entirely.
	Delete(ctx context.Context, itemID int) error
	// MoveToTrash retires the item without destroying it.
	MoveToTrash(ctx context.Context, itemID int) error
}

// StagedBlob is a blob written to staging but not yet committed.
type StagedBlob struct {
	ID   string
	Data []byte
}

// MailboxBlob is a committed blob reference.
type MailboxBlob struct {
	ID     string
	Size   int64
	Digest string
}

// BlobStore is the staging/commit blob protocol the engine stores MIME
// containers through.
type BlobStore interface {
	Stage(ctx context.Context, data []byte) (*StagedBlob, error)
	Commit(ctx context.Context, staged *StagedBlob) (*MailboxBlob, error)
	GetContent(ctx context.Context, blob *MailboxBlob) ([]byte, error)
	Delete(ctx context.Context, blob *MailboxBlob) error
}

// Folder is the narrow view of a mailbox folder the engine needs.
type Folder interface {
	ID() int
	CanContain(t ItemType) bool
	CanAccess(r Right) (bool, error)
	UpdateHighestModSeq() error
	Move(itemID int) error
}

// OpClock supplies the mailbox operation timestamp. One logical operation
// sees a single consistent instant rather than repeated wall-clock reads.
type OpClock interface {
	Now() time.Time
}

// Callback receives item lifecycle notifications. The engine holds exactly
// one callback, supplied at construction; there is no registry.
type Callback interface {
	Created(item *CalendarItem)
	Modified(item *CalendarItem)
	Deleted(item *CalendarItem)
}

// NopCallback is a Callback that ignores every notification.
type NopCallback struct{}

func (NopCallback) Created(*CalendarItem)  {}
func (NopCallback) Modified(*CalendarItem) {}
func (NopCallback) Deleted(*CalendarItem)  {}

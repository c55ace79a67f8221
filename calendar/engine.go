package calendar

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/inboxd/calengine/calendar/recurrence"
)

// EngineConfig carries the behavior toggles of the calendar engine.
type EngineConfig struct {
	// Owner is the account owning the mailbox; it is exempt from the
	// private-content right on its own items.
	Owner Account
	// ExchangeCompat makes a series revision that alters the recurrence
	// discard all exception invites, matching Exchange behavior. When off,
	// a small series start shift carries exception ids along instead.
	ExchangeCompat bool
	// SynthesizeDeclineExceptions lets a single-instance DECLINE reply
	// materialize a local-only pseudo-exception, so the decline is not
	// swallowed by a series-level accept.
	SynthesizeDeclineExceptions bool
}

// Engine mutates calendar items: it reconciles inbound invite, cancel and
// reply messages against the stored state and drives persistence, blob
// synchronization and alarm recomputation through its collaborators.
//
// Every mutating method assumes the caller holds the mailbox write lock;
// the engine does no locking of its own.
type Engine struct {
	cfg      EngineConfig
	store    MetadataStore
	blobs    BlobStore
	perms    PermissionChecker
	clock    OpClock
	callback Callback
	rec      *recurrence.Engine
	logger   *slog.Logger
}

// NewEngine wires an engine to its collaborators. callback and logger may
// be nil; recEng may be nil to get a default recurrence engine.
func NewEngine(cfg EngineConfig, store MetadataStore, blobs BlobStore, perms PermissionChecker, clock OpClock, callback Callback, recEng *recurrence.Engine, logger *slog.Logger) *Engine {
	if callback == nil {
		callback = NopCallback{}
	}
	if recEng == nil {
		recEng = recurrence.NewEngine()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		blobs:    blobs,
		perms:    perms,
		clock:    clock,
		callback: callback,
		rec:      recEng,
		logger:   logger,
	}
}

// RecurrenceEngine exposes the engine's recurrence expander for read paths.
func (e *Engine) RecurrenceEngine() *recurrence.Engine {
	return e.rec
}

// CreateOptions parameterizes Create.
type CreateOptions struct {
	// ItemID is the mail item id allocated by the mailbox for this item.
	ItemID  int
	Account Account
	AsAdmin bool
	// Message, when present, becomes the first body part of the item's
	// MIME digest blob.
	Message *ParsedMessage
	// DefaultPartStat seeds the owner's participation status when the
	// invite does not carry one.
	DefaultPartStat ParticipationStatus
}

// Create builds a new calendar item from its first invite, verifies the
// series expands to at least one instance, persists metadata, stores the
// MIME blob and computes the initial alarm schedule.
func (e *Engine) Create(ctx context.Context, folder Folder, inv *Invite, opts CreateOptions) (*CalendarItem, error) {
	if !folder.CanContain(inv.Type) {
		return nil, forbidden("folder cannot contain " + inv.Type.String())
	}
	if ok, err := folder.CanAccess(RightInsert); err != nil {
		return nil, failure("checking folder insert right", err)
	} else if !ok {
		return nil, permDenied("cannot insert into folder")
	}
	if !inv.Public && !e.privateAccessExempt(opts.Account) {
		if ok, err := e.perms.CanAccess(ctx, RightPrivate, opts.Account.Address, opts.AsAdmin); err != nil {
			return nil, failure("checking private right", err)
		} else if !ok {
			return nil, permDenied("cannot create private calendar item")
		}
	}

	item := &CalendarItem{
		ID:       opts.ItemID,
		FolderID: folder.ID(),
		UID:      inv.UID,
		Type:     inv.Type,
		Invites:  []*Invite{inv},
		Replies:  NewReplyList(),
	}
	item.rebuildTimeZoneMap()
	item.recomputeFlags()

	if ok, err := item.updateRecurrence(e.rec); err != nil {
		return nil, failure("computing recurrence", err)
	} else if !ok {
		return nil, forbidden("first invite is not a series component")
	}

	instances, err := item.ExpandInstances(e.rec, recurrence.MinTime, recurrence.MaxTime)
	if err != nil {
		return nil, failure("expanding instances", err)
	}
	if len(instances) == 0 {
		return nil, forbidden("calendar item has no instances")
	}

	e.applyDefaultPartStat(inv, opts.DefaultPartStat)

	if err := e.store.Persist(ctx, e.encodeMetadata(item)); err != nil {
		return nil, failure("persisting item metadata", err)
	}
	if err := e.store.PersistInCalendarTable(ctx, item); err != nil {
		return nil, failure("registering item in calendar table", err)
	}

	if opts.Message != nil {
		if err := e.createBlob(ctx, item, map[int]*ParsedMessage{inv.MailItemID: opts.Message}); err != nil {
			return nil, err
		}
	}

	if err := e.RecomputeNextAlarm(ctx, item, NextAlarmRequest{Mode: NextAlarmFromNow}); err != nil {
		e.logger.Warn("initial alarm computation failed", "uid", item.UID, "error", err)
	}

	if err := folder.UpdateHighestModSeq(); err != nil {
		e.logger.Warn("updating folder mod sequence failed", "folder", folder.ID(), "error", err)
	}

	e.callback.Created(item)
	return item, nil
}

// applyDefaultPartStat seeds the owner's participation status on a freshly
// ingested invite.
func (e *Engine) applyDefaultPartStat(inv *Invite, def ParticipationStatus) {
	if def == "" {
		def = PartStatNeedsAction
	}
	if inv.PartStat == "" {
		inv.PartStat = def
	}
	if at := inv.AttendeeByAddress(e.cfg.Owner.Address); at != nil && at.PartStat == "" {
		at.PartStat = def
	}
}

// privateAccessExempt reports whether account may touch private content
// without the PRIVATE right: the owner always can, and so can calendar
// resource accounts.
func (e *Engine) privateAccessExempt(account Account) bool {
	return account.Matches(e.cfg.Owner.Address) || account.Resource
}

// deleteItem removes the item, to Trash for cancellations, destructively
// otherwise, and fires the Deleted callback.
func (e *Engine) deleteItem(ctx context.Context, item *CalendarItem, toTrash bool) error {
	if item.Blob != nil {
		if err := e.blobs.Delete(ctx, item.Blob); err != nil {
			e.logger.Warn("deleting item blob failed", "uid", item.UID, "error", err)
		}
		item.Blob = nil
	}
	if err := e.store.RemoveFromCalendarTable(ctx, item.ID); err != nil {
		return failure("removing item from calendar table", err)
	}
	var err error
	if toTrash {
		err = e.store.MoveToTrash(ctx, item.ID)
	} else {
		err = e.store.Delete(ctx, item.ID)
	}
	if err != nil {
		return failure("deleting calendar item", err)
	}
	e.callback.Deleted(item)
	return nil
}

// persistItem writes metadata and refreshes the calendar index row.
func (e *Engine) persistItem(ctx context.Context, item *CalendarItem) error {
	if err := e.store.Persist(ctx, e.encodeMetadata(item)); err != nil {
		return failure("persisting item metadata", err)
	}
	if err := e.store.UpdateInCalendarTable(ctx, item); err != nil {
		return failure("updating calendar table", err)
	}
	return nil
}

// now returns the mailbox operation timestamp.
func (e *Engine) now() time.Time {
	return e.clock.Now()
}

package calendar

import (
	"context"
	"time"

	"github.com/inboxd/calengine/calendar/recurrence"
)

// ProcessOptions parameterizes invite ingestion.
type ProcessOptions struct {
	Account Account
	AsAdmin bool
	// Sender is the address the message arrived from; replies are
	// filtered down to this attendee when known.
	Sender string
	// PreserveAlarms keeps the locally configured alarms instead of the
	// ones carried by the incoming invite.
	PreserveAlarms bool
	// TargetFolder, when set, moves the item after a successful merge.
	TargetFolder Folder
	// Message is the MIME body backing the incoming invite, stored as a
	// part of the item's digest blob.
	Message *ParsedMessage
}

// ProcessNewInvite applies one inbound iCalendar message to the item,
// dispatching on its method. The boolean reports whether any state changed;
// false with a nil error is the normal outcome for out-of-order or
// duplicate deliveries.
func (e *Engine) ProcessNewInvite(ctx context.Context, item *CalendarItem, inv *Invite, opts ProcessOptions) (bool, error) {
	switch inv.Method {
	case MethodRequest, MethodCancel, MethodPublish, "":
		return e.processRequestOrCancel(ctx, item, inv, opts)
	case MethodReply, MethodCounter:
		return e.processReply(ctx, item, inv, opts)
	case MethodDeclineCounter:
		// Accepted silently; declining a counter-proposal changes nothing
		// locally.
		return false, nil
	default:
		e.logger.Info("ignoring invite with unsupported method", "method", inv.Method, "uid", inv.UID)
		return false, nil
	}
}

// mergeState accumulates the outcome of one reconciliation pass instead of
// threading flags through the loop.
type mergeState struct {
	replaced     bool
	replacedOld  *Invite
	ridShift     time.Duration
	discardExc   bool
	seriesChange bool
	blobSnaps    []int // invite ids whose blob part snaps back to the series body
}

// processRequestOrCancel runs the reconciliation algorithm for REQUEST,
// CANCEL and PUBLISH messages. Caller holds the mailbox write lock.
func (e *Engine) processRequestOrCancel(ctx context.Context, item *CalendarItem, inv *Invite, opts ProcessOptions) (bool, error) {
	// Permission gate before any mutation.
	rights := RightWrite
	if inv.Cancel {
		rights |= RightDelete
	}
	if (!inv.Public || !item.IsPublic()) && !e.privateAccessExempt(opts.Account) {
		rights |= RightPrivate
	}
	if ok, err := e.perms.CanAccess(ctx, rights, opts.Account.Address, opts.AsAdmin); err != nil {
		return false, failure("checking access rights", err)
	} else if !ok {
		return false, permDenied("cannot modify calendar item")
	}

	series := item.SeriesInvite()

	if series != nil && !inv.Cancel {
		if err := checkOrganizerChange(series, inv, opts.Account); err != nil {
			return false, err
		}
	}

	if inv.Cancel {
		if handled, changed, err := e.maybeCancelAll(ctx, item, inv, series); handled {
			return changed, err
		}
	}

	st := &mergeState{}
	matching := item.InviteForRecurID(inv.RecurID)

	// Series time or recurrence change: decide whether exceptions are
	// discarded (Exchange compatibility) or shifted along with the series
	// start (legacy behavior, within a frequency-dependent tolerance).
	if inv.RecurID == nil && !inv.Cancel && series != nil {
		changes := DiffInvites(series, inv)
		st.seriesChange = changes.TimeChanged || changes.RecurrenceChanged
		if changes.RecurrenceChanged && e.cfg.ExchangeCompat {
			st.discardExc = true
		}
		if !e.cfg.ExchangeCompat && changes.TimeChanged && !series.Start.IsZero() && !inv.Start.IsZero() {
			delta := inv.Start.Sub(series.Start)
			if delta != 0 && withinShiftTolerance(delta, seriesFrequency(inv, series)) {
				st.ridShift = delta
			}
		}
	}

	// Exception pruning inputs: a new UNTIL bound, and the instance set of
	// a changed rule over a padded window around the existing exceptions.
	var newUntil time.Time
	haveUntil := false
	if inv.RecurID == nil && !inv.Cancel && inv.Recurrence != nil && inv.Recurrence.Rule != nil {
		newUntil, haveUntil = inv.Recurrence.Rule.Until()
	}
	occursInNewRule, err := e.newRulePredicate(item, inv, series, st)
	if err != nil {
		return false, failure("expanding changed recurrence rule", err)
	}

	// Main merge loop. Build the keep list; never mutate the invite list
	// while walking it.
	kept := make([]*Invite, 0, len(item.Invites)+1)
	for _, cur := range item.Invites {
		if cur.RecurID != nil {
			if st.discardExc {
				continue
			}
			rid := cur.RecurID.DateTime.Add(st.ridShift)
			if haveUntil && rid.After(newUntil) {
				continue
			}
			if occursInNewRule != nil && !occursInNewRule(rid) {
				continue
			}
		}

		if cur.MatchesRecurID(inv.RecurID) {
			cmp := inv.CompareVersion(cur)
			if cmp < 0 {
				e.logger.Debug("rejecting outdated invite", "incoming", inv.describe(), "stored", cur.describe())
				return false, nil
			}
			if cmp == 0 && cur.Cancel == inv.Cancel {
				// Identical revision redelivered; nothing to do.
				return false, nil
			}
			if !inv.Cancel && !inv.IsOrganizedBy(opts.Account) {
				// An attendee editing their own copy keeps their recorded
				// participation.
				inv.PartStat = cur.PartStat
				inv.RSVP = cur.RSVP
			}
			st.replaced = true
			st.replacedOld = cur
			continue
		}

		kept = append(kept, e.propagateSeriesChanges(cur, inv, series, st))
	}
	// Alarm inheritance: keep the locally configured alarms. Deferred past
	// the merge loop so a rejected invite is handed back unmodified.
	if opts.PreserveAlarms {
		src := matching
		if src == nil {
			src = series
		}
		if src != nil {
			inv.Alarms = cloneAlarms(src.Alarms)
		}
	}

	kept = removeNils(kept)
	kept = append(kept, inv)

	oldInvites := item.Invites
	item.Invites = kept
	item.rebuildTimeZoneMap()
	item.recomputeFlags()

	// No surviving request invite means the item is gone.
	if len(item.nonCancelInvites()) == 0 {
		if err := e.deleteItem(ctx, item, inv.Cancel); err != nil {
			return true, err
		}
		return true, nil
	}

	if ok, err := item.updateRecurrence(e.rec); err != nil {
		return true, failure("recomputing recurrence", err)
	} else if !ok {
		e.logger.Warn("calendar item lost its series invite; deleting", "uid", item.UID)
		if err := e.deleteItem(ctx, item, false); err != nil {
			return true, err
		}
		return true, nil
	}

	// Reply ledger maintenance across the replaced revision.
	if st.replaced && st.replacedOld != nil && !inv.Cancel {
		changes := DiffInvites(st.replacedOld, inv)
		if changes.ReplyInvalidating() {
			item.Replies.RemoveObsoleteEntries(inv.RecurID, inv.SeqNo, inv.DTStamp)
		} else if inv.SeqNo > st.replacedOld.SeqNo {
			item.Replies.UpgradeEntriesToNewSeq(inv.RecurID, inv.SeqNo)
		}
	}

	e.applyDefaultPartStat(inv, "")

	if opts.TargetFolder != nil && opts.TargetFolder.ID() != item.FolderID {
		if err := opts.TargetFolder.Move(item.ID); err != nil {
			return true, failure("moving item to folder", err)
		}
		item.FolderID = opts.TargetFolder.ID()
	}

	// Defensive invariant: a mergeable item that expands to nothing is
	// deleted rather than left inconsistent.
	instances, err := item.ExpandInstances(e.rec, recurrence.MinTime, recurrence.MaxTime)
	if err != nil {
		return true, failure("expanding instances", err)
	}
	if len(instances) == 0 {
		e.logger.Warn("calendar item expands to zero instances; deleting", "uid", item.UID)
		if err := e.deleteItem(ctx, item, false); err != nil {
			return true, err
		}
		return true, nil
	}

	if item.Blob != nil || opts.Message != nil {
		update := blobUpdate{
			newInviteID:  inv.MailItemID,
			newMessage:   opts.Message,
			removedIDs:   removedInviteIDs(oldInvites, item.Invites),
			snapToSeries: st.blobSnaps,
		}
		if err := e.modifyBlob(ctx, item, update); err != nil {
			// A blob failure does not abort the merge; metadata remains
			// authoritative.
			e.logger.Error("updating item blob failed", "uid", item.UID, "error", err)
		}
	}
	if err := e.persistItem(ctx, item); err != nil {
		return true, err
	}

	if err := e.RecomputeNextAlarm(ctx, item, NextAlarmRequest{Mode: NextAlarmKeepCurrent}); err != nil {
		e.logger.Warn("alarm recomputation failed", "uid", item.UID, "error", err)
	}

	e.callback.Modified(item)
	return true, nil
}

// maybeCancelAll decides whether a CANCEL wipes out the whole series. It
// returns handled=true when the cancel was fully dealt with here, either by
// deleting the item or by ignoring an outdated message.
func (e *Engine) maybeCancelAll(ctx context.Context, item *CalendarItem, inv *Invite, series *Invite) (handled, changed bool, err error) {
	if inv.RecurID == nil {
		// Whole-series cancel, unless it is behind the stored series.
		if series != nil && inv.CompareVersion(series) < 0 {
			e.logger.Debug("ignoring outdated series cancel", "incoming", inv.describe())
			return true, false, nil
		}
		err := e.deleteItem(ctx, item, true)
		return true, err == nil, err
	}

	matching := item.InviteForRecurID(inv.RecurID)
	if matching != nil && inv.CompareVersion(matching) < 0 {
		e.logger.Debug("ignoring outdated instance cancel", "incoming", inv.describe())
		return true, false, nil
	}

	nonCancel := item.nonCancelInvites()
	if len(nonCancel) != 1 {
		return false, false, nil
	}
	only := nonCancel[0]

	if only.MatchesRecurID(inv.RecurID) {
		// Cancelling the last surviving exception.
		err := e.deleteItem(ctx, item, true)
		return true, err == nil, err
	}
	if only.RecurID == nil {
		// Cancelling one instance of the series invite: whole-series only
		// if no other instance would survive.
		rec := item.Recurrence
		if rec == nil {
			rec = only.SeriesRecurrence()
		}
		rec = rec.Clone()
		rec.AddCancelledID(inv.RecurID.DateTime)
		occs, err := e.rec.Expand(rec, recurrence.MinTime, recurrence.MaxTime)
		if err != nil {
			return true, false, failure("expanding series for cancel check", err)
		}
		if len(occs) == 0 {
			err := e.deleteItem(ctx, item, true)
			return true, err == nil, err
		}
	}
	return false, false, nil
}

// propagateSeriesChanges applies to a non-matching stored invite the
// changes a series revision implies: recurrence-id shifts, organizer
// renames, and snapping local-only exceptions back to the series body.
// Returns nil when the invite should be dropped from the keep list.
func (e *Engine) propagateSeriesChanges(cur, inv, series *Invite, st *mergeState) *Invite {
	if cur.RecurID == nil || inv.RecurID != nil || inv.Cancel {
		return cur
	}

	if st.seriesChange && cur.LocalOnly && !cur.Cancel {
		// The series body changed under a local-only exception; the
		// exception rejoins the series and its blob part is rewritten.
		st.blobSnaps = append(st.blobSnaps, cur.MailItemID)
		return nil
	}

	renamed := series != nil && series.Organizer != nil && inv.Organizer != nil &&
		!series.Organizer.SameAddress(inv.Organizer) &&
		cur.Organizer.SameAddress(series.Organizer)

	if st.ridShift == 0 && !renamed {
		return cur
	}
	next := cur.Clone()
	if st.ridShift != 0 {
		next.RecurID = next.RecurID.Shift(st.ridShift)
		if !next.Start.IsZero() {
			next.Start = next.Start.Add(st.ridShift)
		}
		if !next.End.IsZero() {
			next.End = next.End.Add(st.ridShift)
		}
	}
	if renamed {
		org := *inv.Organizer
		next.Organizer = &org
	}
	return next
}

// newRulePredicate builds the "does this recurrence id still exist" check
// used to prune exceptions after an RRULE change. The new rule is expanded
// over the existing exception range padded by ±25 hours, enough to absorb
// any timezone-induced drift.
func (e *Engine) newRulePredicate(item *CalendarItem, inv, series *Invite, st *mergeState) (func(time.Time) bool, error) {
	if inv.RecurID != nil || inv.Cancel || series == nil || st.discardExc {
		return nil, nil
	}
	if !recurrenceRuleChanged(series, inv) || inv.Recurrence == nil || inv.Recurrence.Rule == nil {
		return nil, nil
	}

	var lo, hi time.Time
	for _, cur := range item.Invites {
		if cur.RecurID == nil {
			continue
		}
		rid := cur.RecurID.DateTime.Add(st.ridShift)
		if lo.IsZero() || rid.Before(lo) {
			lo = rid
		}
		if hi.IsZero() || rid.After(hi) {
			hi = rid
		}
	}
	if lo.IsZero() {
		return nil, nil
	}

	const pad = 25 * time.Hour
	ruleOnly := &recurrence.Recurrence{
		Rule:     inv.Recurrence.Rule,
		DTStart:  inv.Recurrence.DTStart,
		Duration: inv.Recurrence.Duration,
		RDates:   inv.Recurrence.RDates,
	}
	occs, err := e.rec.Expand(ruleOnly, lo.Add(-pad), hi.Add(pad))
	if err != nil {
		return nil, err
	}
	valid := make(map[time.Time]struct{}, len(occs))
	for _, occ := range occs {
		valid[occ.UTC()] = struct{}{}
	}
	return func(rid time.Time) bool {
		_, ok := valid[rid.UTC()]
		return ok
	}, nil
}

// checkOrganizerChange enforces the organizer-integrity rules: an invite
// may not silently add, drop or swap the series organizer unless the
// acting account is itself stepping into or out of the role.
func checkOrganizerChange(series, inv *Invite, account Account) error {
	oldOrg, newOrg := series.Organizer, inv.Organizer
	sameComponent := inv.RecurID == nil

	bad := func(v OrganizerViolation) error {
		e := &BadOrganizerError{Violation: v}
		if oldOrg != nil {
			e.Existing = oldOrg.Address
		}
		if newOrg != nil {
			e.Incoming = newOrg.Address
		}
		return e
	}

	switch {
	case oldOrg == nil && newOrg == nil:
		return nil
	case oldOrg == nil:
		if account.Matches(newOrg.Address) {
			return nil
		}
		if sameComponent {
			return bad(OrganizerAddNotAllowed)
		}
		return bad(OrganizerMismatch)
	case newOrg == nil:
		// Exceptions may omit the organizer; they inherit the series one.
		if !sameComponent {
			return nil
		}
		if account.Matches(oldOrg.Address) {
			return nil
		}
		return bad(OrganizerDeleteNotAllowed)
	case !oldOrg.SameAddress(newOrg):
		if account.Matches(oldOrg.Address) || account.Matches(newOrg.Address) {
			return nil
		}
		if sameComponent {
			return bad(OrganizerChangeNotAllowed)
		}
		return bad(OrganizerMismatch)
	}
	return nil
}

// withinShiftTolerance reports whether a series start delta is small enough
// to shift exception recurrence ids along instead of discarding them.
func withinShiftTolerance(delta time.Duration, freq recurrence.Frequency) bool {
	if delta < 0 {
		delta = -delta
	}
	switch freq {
	case recurrence.FreqDaily:
		return delta <= 24*time.Hour
	case recurrence.FreqWeekly, recurrence.FreqMonthly, recurrence.FreqYearly:
		return delta <= 7*24*time.Hour
	default:
		// Sub-daily rules never tolerate a shift.
		return false
	}
}

// seriesFrequency picks the frequency governing the shift tolerance,
// preferring the incoming rule.
func seriesFrequency(inv, series *Invite) recurrence.Frequency {
	if inv.Recurrence != nil && inv.Recurrence.Rule != nil {
		return inv.Recurrence.Rule.Frequency()
	}
	if series.Recurrence != nil && series.Recurrence.Rule != nil {
		return series.Recurrence.Rule.Frequency()
	}
	return ""
}

func cloneAlarms(alarms []*Alarm) []*Alarm {
	if alarms == nil {
		return nil
	}
	out := make([]*Alarm, len(alarms))
	for i, a := range alarms {
		cp := *a
		out[i] = &cp
	}
	return out
}

func removeNils(invites []*Invite) []*Invite {
	kept := invites[:0]
	for _, inv := range invites {
		if inv != nil {
			kept = append(kept, inv)
		}
	}
	return kept
}

// removedInviteIDs lists the mail item ids present before the merge but
// absent after it, used to drop the corresponding blob parts.
func removedInviteIDs(before, after []*Invite) []int {
	remaining := make(map[int]struct{}, len(after))
	for _, inv := range after {
		remaining[inv.MailItemID] = struct{}{}
	}
	var removed []int
	seen := make(map[int]struct{})
	for _, inv := range before {
		if _, ok := remaining[inv.MailItemID]; ok {
			continue
		}
		if _, dup := seen[inv.MailItemID]; dup {
			continue
		}
		seen[inv.MailItemID] = struct{}{}
		removed = append(removed, inv.MailItemID)
	}
	return removed
}

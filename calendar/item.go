package calendar

import (
	"time"

	"github.com/inboxd/calengine/calendar/recurrence"
)

// CalendarItem is one calendar series, scoped by UID. It owns its invite
// list, reply ledger and alarm state; all mutation goes through the Engine
// while the caller holds the mailbox write lock.
type CalendarItem struct {
	ID       int
	FolderID int
	UID      string
	Type     ItemType

	// Start and End are derived from the invites by updateRecurrence and
	// bound the whole series in UTC.
	Start time.Time
	End   time.Time

	TZMap      *TimeZoneMap
	Invites    []*Invite
	Recurrence *recurrence.Recurrence
	Replies    *ReplyList
	AlarmData  *AlarmData

	Blob *MailboxBlob // nil when the item has no MIME body

	Draft         bool
	HasAttachment bool
	HighPriority  bool
	LowPriority   bool
}

// SeriesInvite returns the default (series) invite: the one non-cancel
// invite without a recurrence id. Nil when none exists, which is a
// tolerated transient error state.
func (item *CalendarItem) SeriesInvite() *Invite {
	for _, inv := range item.Invites {
		if inv.RecurID == nil && !inv.Cancel {
			return inv
		}
	}
	return nil
}

// InviteForRecurID finds the non-cancel invite covering rid (nil = series).
func (item *CalendarItem) InviteForRecurID(rid *RecurID) *Invite {
	for _, inv := range item.Invites {
		if !inv.Cancel && inv.MatchesRecurID(rid) {
			return inv
		}
	}
	return nil
}

// nonCancelInvites returns the surviving request invites.
func (item *CalendarItem) nonCancelInvites() []*Invite {
	var out []*Invite
	for _, inv := range item.Invites {
		if !inv.Cancel {
			out = append(out, inv)
		}
	}
	return out
}

// HasExceptions reports whether the series has any overridden or cancelled
// instances.
func (item *CalendarItem) HasExceptions() bool {
	if item.Recurrence != nil && item.Recurrence.HasExceptions() {
		return true
	}
	for _, inv := range item.Invites {
		if inv.RecurID != nil {
			return true
		}
	}
	return false
}

// IsPublic reports whether every surviving invite is public. A single
// private component makes the whole item private-gated.
func (item *CalendarItem) IsPublic() bool {
	for _, inv := range item.Invites {
		if !inv.Cancel && !inv.Public {
			return false
		}
	}
	return true
}

// recomputeFlags rebuilds the item-level flags from the surviving
// non-cancel invites.
func (item *CalendarItem) recomputeFlags() {
	item.Draft = false
	item.HasAttachment = false
	item.HighPriority = false
	item.LowPriority = false
	for _, inv := range item.Invites {
		if inv.Cancel {
			continue
		}
		item.Draft = item.Draft || inv.Draft
		item.HasAttachment = item.HasAttachment || inv.HasAttachment
		if inv.Priority > 0 {
			item.HighPriority = true
		}
		if inv.Priority < 0 {
			item.LowPriority = true
		}
	}
}

// rebuildTimeZoneMap collects the TZIDs referenced by every invite.
func (item *CalendarItem) rebuildTimeZoneMap() {
	m := NewTimeZoneMap()
	for _, inv := range item.Invites {
		m.Add(inv.TZID)
	}
	item.TZMap = m
}

// updateRecurrence rebuilds the item's recurrence from the series invite,
// folding every exception and cancel component in as a carve-out, and
// recomputes the item-level start and end. Returns false when no series
// invite exists, in which case the caller must delete the item.
func (item *CalendarItem) updateRecurrence(eng *recurrence.Engine) (bool, error) {
	series := item.SeriesInvite()
	if series == nil {
		return false, nil
	}

	rec := series.SeriesRecurrence()
	for _, inv := range item.Invites {
		if inv.RecurID == nil {
			continue
		}
		if inv.Cancel {
			rec.AddCancelledID(inv.RecurID.DateTime)
		} else {
			rec.AddExceptionID(inv.RecurID.DateTime)
		}
	}
	item.Recurrence = rec

	// Start: the earliest surviving occurrence, series or exception.
	start := time.Time{}
	occs, err := eng.Expand(rec, recurrence.MinTime, recurrence.MaxTime)
	if err != nil {
		return false, err
	}
	if len(occs) > 0 {
		start = occs[0]
	}
	end, err := rec.EndTime(eng)
	if err != nil {
		return false, err
	}
	for _, inv := range item.Invites {
		if inv.Cancel || inv.RecurID == nil || inv.Start.IsZero() {
			continue
		}
		if start.IsZero() || inv.Start.Before(start) {
			start = inv.Start
		}
		if invEnd := inv.EffectiveEnd(); invEnd.After(end) {
			end = invEnd
		}
	}
	item.Start = start
	item.End = end
	return true, nil
}

// ExpandInstances projects the item onto concrete instances overlapping
// [rangeStart, rangeEnd), sorted by the Instance ordering. Exception
// components produce their own instances; the series invite is expanded
// through the recurrence engine with overridden and cancelled occurrences
// already carved out.
func (item *CalendarItem) ExpandInstances(eng *recurrence.Engine, rangeStart, rangeEnd time.Time) ([]Instance, error) {
	var out []Instance

	tzOffset := func(t time.Time, tzid string) int {
		if t.IsZero() || item.TZMap == nil {
			return 0
		}
		_, off := t.In(item.TZMap.Location(tzid)).Zone()
		return off
	}

	for _, inv := range item.Invites {
		if inv.Cancel || inv.RecurID == nil {
			continue
		}
		inst := Instance{
			ItemID:        item.ID,
			Start:         inv.Start,
			End:           inv.EffectiveEnd(),
			AllDay:        inv.AllDay,
			StartTZOffset: tzOffset(inv.Start, inv.TZID),
			EndTZOffset:   tzOffset(inv.EffectiveEnd(), inv.TZID),
			Exception:     true,
			RecurID:       inv.RecurID,
			InviteID:      inv.MailItemID,
			ComponentNum:  inv.ComponentNum,
		}
		if inst.overlaps(rangeStart, rangeEnd) {
			out = append(out, inst)
		}
	}

	series := item.SeriesInvite()
	if series != nil {
		rec := item.Recurrence
		if rec == nil {
			rec = series.SeriesRecurrence()
		}
		dur := series.EffectiveDuration()
		if series.Start.IsZero() {
			// Timeless component (a task with no start). One instance.
			inst := Instance{
				ItemID:       item.ID,
				AllDay:       series.AllDay,
				InviteID:     series.MailItemID,
				ComponentNum: series.ComponentNum,
			}
			out = append(out, inst)
		} else {
			occs, err := eng.Expand(rec, rangeStart, rangeEnd)
			if err != nil {
				return nil, err
			}
			for _, occ := range occs {
				end := occ.Add(dur)
				out = append(out, Instance{
					ItemID:        item.ID,
					Start:         occ,
					End:           end,
					AllDay:        series.AllDay,
					StartTZOffset: tzOffset(occ, series.TZID),
					EndTZOffset:   tzOffset(end, series.TZID),
					RecurID:       &RecurID{DateTime: occ},
					InviteID:      series.MailItemID,
					ComponentNum:  series.ComponentNum,
				})
			}
		}
	}

	SortInstances(out)
	return out, nil
}

// inviteForInstance maps an instance back to its originating invite.
func (item *CalendarItem) inviteForInstance(inst Instance) *Invite {
	for _, inv := range item.Invites {
		if inv.MailItemID == inst.InviteID && inv.ComponentNum == inst.ComponentNum {
			return inv
		}
	}
	return nil
}

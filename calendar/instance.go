package calendar

import (
	"sort"
	"time"
)

// Instance is one concrete occurrence of a calendar item, computed during
// expansion and never persisted. A zero Start or End means "no time" (tasks
// may have neither).
type Instance struct {
	ItemID int

	Start time.Time
	End   time.Time

	AllDay bool
	// StartTZOffset and EndTZOffset are the UTC offsets (seconds east) of
	// the endpoints in their original timezones, used to break ordering
	// ties between all-day instances at the same instant.
	StartTZOffset int
	EndTZOffset   int

	// Exception is true when the instance comes from an exception
	// component rather than series expansion.
	Exception bool

	// RecurID is the occurrence's recurrence id. For a moved exception this
	// differs from Start, so reply lookups must go through it.
	RecurID *RecurID

	// InviteID and ComponentNum point back at the originating invite.
	InviteID     int
	ComponentNum int
}

// Compare orders instances: by item id, then start, then end, then invite
// identity. A missing time sorts before any time; at equal all-day
// instants, the endpoint further east (larger UTC offset) sorts first.
func (in Instance) Compare(other Instance) int {
	if in.ItemID != other.ItemID {
		if in.ItemID < other.ItemID {
			return -1
		}
		return 1
	}
	if c := compareEndpoint(in.Start, in.StartTZOffset, other.Start, other.StartTZOffset, in.AllDay && other.AllDay); c != 0 {
		return c
	}
	if c := compareEndpoint(in.End, in.EndTZOffset, other.End, other.EndTZOffset, in.AllDay && other.AllDay); c != 0 {
		return c
	}
	if in.InviteID != other.InviteID {
		if in.InviteID < other.InviteID {
			return -1
		}
		return 1
	}
	if in.ComponentNum != other.ComponentNum {
		if in.ComponentNum < other.ComponentNum {
			return -1
		}
		return 1
	}
	return 0
}

func compareEndpoint(a time.Time, aOff int, b time.Time, bOff int, bothAllDay bool) int {
	switch {
	case a.IsZero() && b.IsZero():
		return 0
	case a.IsZero():
		return -1
	case b.IsZero():
		return 1
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	if bothAllDay && aOff != bOff {
		// Larger offset means the local day started earlier in absolute
		// terms, so it sorts first.
		if aOff > bOff {
			return -1
		}
		return 1
	}
	return 0
}

// SortInstances sorts instances by the Compare ordering.
func SortInstances(instances []Instance) {
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Compare(instances[j]) < 0
	})
}

// overlaps reports whether the instance intersects [rangeStart, rangeEnd).
// Timeless instances overlap every range.
func (in Instance) overlaps(rangeStart, rangeEnd time.Time) bool {
	if in.Start.IsZero() {
		return true
	}
	end := in.End
	if end.IsZero() {
		end = in.Start
	}
	return in.Start.Before(rangeEnd) && !end.Before(rangeStart)
}

package calendar

import (
	"fmt"
	"time"

	"github.com/inboxd/calengine/calendar/recurrence"
)

// RecurID identifies one instance of a recurring series: the RECURRENCE-ID
// value, normalized to a UTC instant, plus the optional RANGE modifier.
type RecurID struct {
	DateTime time.Time `json:"dt"`
	Range    string    `json:"range,omitempty"` // "" or "THISANDFUTURE"
}

// Equal compares two recurrence ids, treating nil as "series".
func (r *RecurID) Equal(other *RecurID) bool {
	if r == nil || other == nil {
		return r == nil && other == nil
	}
	return r.DateTime.Equal(other.DateTime) && r.Range == other.Range
}

// Shift returns a copy displaced by d. Used when a series start moves and
// exception ids are carried along with it.
func (r *RecurID) Shift(d time.Duration) *RecurID {
	if r == nil {
		return nil
	}
	return &RecurID{DateTime: r.DateTime.Add(d), Range: r.Range}
}

func (r *RecurID) String() string {
	if r == nil {
		return "<series>"
	}
	s := r.DateTime.UTC().Format("20060102T150405Z")
	if r.Range != "" {
		s += ";RANGE=" + r.Range
	}
	return s
}

// Invite is one iCalendar component revision (VEVENT or VTODO) belonging to
// a calendar item. The item owns its invites; an invite never refers back to
// the item, operations needing series context take it as a parameter.
type Invite struct {
	// MailItemID and ComponentNum identify the invite for blob part
	// correlation and alarm bookkeeping.
	MailItemID   int `json:"mailItemId"`
	ComponentNum int `json:"compNum"`

	Method  Method   `json:"method"`
	UID     string   `json:"uid"`
	Type    ItemType `json:"type"`
	RecurID *RecurID `json:"recurId,omitempty"` // nil = the series component

	SeqNo   int       `json:"seq"`
	DTStamp time.Time `json:"dtStamp"`
	// LastFullSeqNo is the sequence of the last revision that changed more
	// than reply-irrelevant detail. Replies are gated on it when the local
	// account organizes the meeting.
	LastFullSeqNo int `json:"lastFullSeq,omitempty"`

	Organizer *Organizer `json:"organizer,omitempty"`
	Attendees []Attendee `json:"attendees,omitempty"`

	Name     string `json:"name,omitempty"`
	Location string `json:"location,omitempty"`
	Comment  string `json:"comment,omitempty"`

	Start    time.Time     `json:"start,omitempty"`
	End      time.Time     `json:"end,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	AllDay   bool          `json:"allDay,omitempty"`
	TZID     string        `json:"tzid,omitempty"`

	// Recurrence is set only on the series component.
	Recurrence *recurrence.Recurrence `json:"recurrence,omitempty"`

	Cancel bool `json:"cancel,omitempty"`
	Public bool `json:"public,omitempty"`
	// LocalOnly marks exceptions that exist only in this mailbox, such as a
	// synthesized single-instance decline.
	LocalOnly bool `json:"localOnly,omitempty"`

	Alarms []*Alarm `json:"alarms,omitempty"`

	Draft         bool `json:"draft,omitempty"`
	HasAttachment bool `json:"hasAttachment,omitempty"`
	Priority      int  `json:"priority,omitempty"` // <0 low, 0 normal, >0 high

	// PartStat and RSVP record the mailbox owner's own participation for
	// this component.
	PartStat ParticipationStatus `json:"partstat,omitempty"`
	RSVP     bool                `json:"rsvp,omitempty"`
}

// MatchesRecurID reports whether the invite covers the given recurrence id
// (nil meaning the series component).
func (inv *Invite) MatchesRecurID(rid *RecurID) bool {
	return inv.RecurID.Equal(rid)
}

// EffectiveEnd returns the end instant of the invite's own occurrence,
// deriving it from the duration when no explicit end is set.
func (inv *Invite) EffectiveEnd() time.Time {
	if !inv.End.IsZero() {
		return inv.End
	}
	if inv.Start.IsZero() {
		return time.Time{}
	}
	return inv.Start.Add(inv.EffectiveDuration())
}

// EffectiveDuration is the occurrence duration: the explicit DURATION, the
// DTEND-DTSTART span, a day for all-day components, zero otherwise.
func (inv *Invite) EffectiveDuration() time.Duration {
	if inv.Duration != 0 {
		return inv.Duration
	}
	if !inv.End.IsZero() && !inv.Start.IsZero() {
		return inv.End.Sub(inv.Start)
	}
	if inv.AllDay {
		return 24 * time.Hour
	}
	return 0
}

// AttendeeByAddress looks up the attendee record matching addr. The
// returned pointer aliases the invite's slice so callers can update it.
func (inv *Invite) AttendeeByAddress(addr string) *Attendee {
	for i := range inv.Attendees {
		if addressesEqual(inv.Attendees[i].Address, addr) {
			return &inv.Attendees[i]
		}
	}
	return nil
}

// IsOrganizedBy reports whether account is the organizer of this component.
func (inv *Invite) IsOrganizedBy(account Account) bool {
	return inv.Organizer != nil && account.Matches(inv.Organizer.Address)
}

// CompareVersion orders this invite against another revision of the same
// component by (sequence, dtstamp).
func (inv *Invite) CompareVersion(other *Invite) int {
	return compareVersions(inv.SeqNo, inv.DTStamp, other.SeqNo, other.DTStamp)
}

// SeriesRecurrence builds the recurrence definition rooted at this invite,
// which must be the series component. Returns a single-occurrence
// recurrence when the invite carries no rule.
func (inv *Invite) SeriesRecurrence() *recurrence.Recurrence {
	if inv.Recurrence != nil {
		return inv.Recurrence.Clone()
	}
	return &recurrence.Recurrence{
		DTStart:  inv.Start,
		Duration: inv.EffectiveDuration(),
	}
}

// Clone returns a deep copy of the invite.
func (inv *Invite) Clone() *Invite {
	out := *inv
	if inv.RecurID != nil {
		rid := *inv.RecurID
		out.RecurID = &rid
	}
	if inv.Organizer != nil {
		org := *inv.Organizer
		out.Organizer = &org
	}
	out.Attendees = append([]Attendee(nil), inv.Attendees...)
	out.Recurrence = inv.Recurrence.Clone()
	if inv.Alarms != nil {
		out.Alarms = make([]*Alarm, len(inv.Alarms))
		for i, a := range inv.Alarms {
			cp := *a
			out.Alarms[i] = &cp
		}
	}
	return &out
}

func (inv *Invite) describe() string {
	return fmt.Sprintf("uid=%s recurId=%s seq=%d method=%s", inv.UID, inv.RecurID, inv.SeqNo, inv.Method)
}

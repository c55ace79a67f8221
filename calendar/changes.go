package calendar

import "strings"

// InviteChanges is the field-level diff between two revisions of the same
// component. The engine uses it to decide whether recorded attendee replies
// stay valid across a revision: moving the meeting invalidates them,
// renaming the room does not.
type InviteChanges struct {
	SubjectChanged    bool
	LocationChanged   bool
	TimeChanged       bool
	RecurrenceChanged bool
}

// DiffInvites computes the changes from old to new.
func DiffInvites(oldInv, newInv *Invite) InviteChanges {
	ch := InviteChanges{
		SubjectChanged:  oldInv.Name != newInv.Name,
		LocationChanged: oldInv.Location != newInv.Location,
	}
	if !oldInv.Start.Equal(newInv.Start) || !oldInv.EffectiveEnd().Equal(newInv.EffectiveEnd()) {
		ch.TimeChanged = true
	}
	ch.RecurrenceChanged = recurrenceRuleChanged(oldInv, newInv)
	return ch
}

// ReplyInvalidating reports whether the change set is significant enough
// to void previously recorded replies.
func (ch InviteChanges) ReplyInvalidating() bool {
	return ch.TimeChanged || ch.RecurrenceChanged
}

// Any reports whether anything at all changed.
func (ch InviteChanges) Any() bool {
	return ch.SubjectChanged || ch.LocationChanged || ch.TimeChanged || ch.RecurrenceChanged
}

// recurrenceRuleChanged compares the RRULEs of two series revisions.
func recurrenceRuleChanged(oldInv, newInv *Invite) bool {
	oldRule, newRule := "", ""
	if oldInv.Recurrence != nil && oldInv.Recurrence.Rule != nil {
		oldRule = oldInv.Recurrence.Rule.RRule
	}
	if newInv.Recurrence != nil && newInv.Recurrence.Rule != nil {
		newRule = newInv.Recurrence.Rule.RRule
	}
	return !strings.EqualFold(oldRule, newRule)
}

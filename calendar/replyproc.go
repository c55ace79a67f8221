package calendar

import (
	"context"
)

// processReply applies a REPLY or COUNTER message: records the sender's
// participation in the reply ledger and, when needed, reflects it into the
// local invite for the instance concerned.
func (e *Engine) processReply(ctx context.Context, item *CalendarItem, inv *Invite, opts ProcessOptions) (bool, error) {
	attendees := replyAttendees(inv, opts)
	if len(attendees) == 0 {
		e.logger.Debug("reply carries no attendee matching the sender", "uid", inv.UID, "sender", opts.Sender)
		return false, nil
	}

	// Sequence gate against the matching local component.
	local := item.InviteForRecurID(inv.RecurID)
	if local == nil && inv.RecurID != nil {
		// A reply for an instance without its own exception is gated
		// against the series.
		local = item.SeriesInvite()
	}
	if local != nil {
		required := local.SeqNo
		if local.IsOrganizedBy(e.cfg.Owner) {
			// As organizer we accept replies to any revision since the
			// last substantive one.
			required = local.LastFullSeqNo
		}
		if inv.SeqNo < required {
			e.logger.Debug("rejecting outdated reply", "incoming", inv.describe(), "required_seq", required)
			return false, nil
		}
	}

	anyNew := false
	for _, at := range attendees {
		if item.Replies.MaybeStoreNewReply(inv, at) {
			anyNew = true
		}
	}
	if !anyNew {
		return false, nil
	}

	// Reflect the response into the exception invite for that instance,
	// when one exists locally.
	if inv.RecurID != nil {
		if exc := item.InviteForRecurID(inv.RecurID); exc != nil {
			for _, at := range attendees {
				if rec := exc.AttendeeByAddress(at.Address); rec != nil {
					rec.PartStat = at.PartStat
				}
			}
		} else if e.cfg.SynthesizeDeclineExceptions && allDeclined(attendees) {
			e.synthesizeDeclineException(item, inv, attendees)
		}
	}

	if err := e.persistItem(ctx, item); err != nil {
		return true, err
	}
	e.callback.Modified(item)
	return true, nil
}

// replyAttendees narrows the attendee list of a reply to the actual sender
// when the sender address is known; a reply speaks only for whoever sent it.
func replyAttendees(inv *Invite, opts ProcessOptions) []Attendee {
	if opts.Sender == "" {
		return inv.Attendees
	}
	var out []Attendee
	for _, at := range inv.Attendees {
		if addressesEqual(at.Address, opts.Sender) || opts.Account.Matches(at.Address) {
			out = append(out, at)
		}
	}
	return out
}

// synthesizeDeclineException materializes a local-only pseudo-exception so
// a single-instance decline is not swallowed by the series-level
// participation status.
func (e *Engine) synthesizeDeclineException(item *CalendarItem, reply *Invite, attendees []Attendee) {
	series := item.SeriesInvite()
	if series == nil {
		return
	}
	exc := series.Clone()
	exc.RecurID = &RecurID{DateTime: reply.RecurID.DateTime, Range: reply.RecurID.Range}
	exc.Recurrence = nil
	exc.LocalOnly = true
	exc.SeqNo = reply.SeqNo
	exc.DTStamp = reply.DTStamp
	exc.MailItemID = series.MailItemID
	exc.ComponentNum = nextComponentNum(item)
	if !series.Start.IsZero() {
		dur := series.EffectiveDuration()
		exc.Start = reply.RecurID.DateTime
		exc.End = exc.Start.Add(dur)
	}
	for _, at := range attendees {
		if rec := exc.AttendeeByAddress(at.Address); rec != nil {
			rec.PartStat = at.PartStat
		}
	}
	item.Invites = append(item.Invites, exc)
	if ok, err := item.updateRecurrence(e.rec); err != nil || !ok {
		e.logger.Warn("recurrence recomputation after synthesized exception failed", "uid", item.UID, "error", err)
	}
}

func nextComponentNum(item *CalendarItem) int {
	next := 0
	for _, inv := range item.Invites {
		if inv.ComponentNum >= next {
			next = inv.ComponentNum + 1
		}
	}
	return next
}

func allDeclined(attendees []Attendee) bool {
	for _, at := range attendees {
		if at.PartStat != PartStatDeclined {
			return false
		}
	}
	return len(attendees) > 0
}

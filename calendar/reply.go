package calendar

import "time"

// ReplyInfo is one attendee's recorded response for the series (nil
// RecurID) or a single instance.
type ReplyInfo struct {
	Attendee Attendee  `json:"attendee"`
	SeqNo    int       `json:"seq"`
	DTStamp  time.Time `json:"dtStamp"`
	RecurID  *RecurID  `json:"recurId,omitempty"`
}

// ReplyList is the ledger of attendee responses for one calendar item. It
// holds at most one entry per (attendee address, recurrence id) pair and
// only ever moves forward: an older reply never displaces a newer one.
type ReplyList struct {
	Replies []ReplyInfo `json:"replies,omitempty"`
}

// NewReplyList creates an empty ledger.
func NewReplyList() *ReplyList {
	return &ReplyList{}
}

func (rl *ReplyList) find(addr string, rid *RecurID) int {
	for i := range rl.Replies {
		if addressesEqual(rl.Replies[i].Attendee.Address, addr) && rl.Replies[i].RecurID.Equal(rid) {
			return i
		}
	}
	return -1
}

// MaybeStoreNewReply records at's response carried by inv. Returns true and
// replaces the stored entry only when the incoming (sequence, dtstamp) is
// strictly newer than what is on file; otherwise the ledger is unchanged.
func (rl *ReplyList) MaybeStoreNewReply(inv *Invite, at Attendee) bool {
	entry := ReplyInfo{
		Attendee: at,
		SeqNo:    inv.SeqNo,
		DTStamp:  inv.DTStamp,
		RecurID:  inv.RecurID,
	}
	idx := rl.find(at.Address, inv.RecurID)
	if idx < 0 {
		rl.Replies = append(rl.Replies, entry)
		return true
	}
	existing := &rl.Replies[idx]
	if compareVersions(inv.SeqNo, inv.DTStamp, existing.SeqNo, existing.DTStamp) <= 0 {
		return false
	}
	*existing = entry
	return true
}

// RemoveObsoleteEntries purges entries for rid with a sequence behind seq.
// A series-level update (nil rid) additionally purges every instance-level
// entry: a new series revision invalidates per-instance replies.
func (rl *ReplyList) RemoveObsoleteEntries(rid *RecurID, seq int, dtStamp time.Time) {
	kept := rl.Replies[:0:0]
	for _, r := range rl.Replies {
		drop := false
		if r.RecurID.Equal(rid) {
			drop = compareVersions(r.SeqNo, r.DTStamp, seq, dtStamp) < 0
		} else if rid == nil && r.RecurID != nil {
			drop = true
		}
		if !drop {
			kept = append(kept, r)
		}
	}
	rl.Replies = kept
}

// UpgradeEntriesToNewSeq bumps entries for rid to seq. Used when a series
// revision changes nothing that would invalidate recorded replies, so the
// responses stay valid under the new sequence number.
func (rl *ReplyList) UpgradeEntriesToNewSeq(rid *RecurID, seq int) {
	for i := range rl.Replies {
		r := &rl.Replies[i]
		if r.SeqNo >= seq {
			continue
		}
		if r.RecurID.Equal(rid) || rid == nil {
			r.SeqNo = seq
		}
	}
}

// EffectiveAttendee resolves the participation record for account on inv,
// optionally narrowed to one instance. Resolution order: an entry matching
// the instance's recurrence id, then the series-level entry (for
// non-recurring invites, series requests, or local-only instances that
// inherit the series reply), then the attendee block embedded in the
// invite itself.
func (rl *ReplyList) EffectiveAttendee(account Account, inv *Invite, inst *Instance) *Attendee {
	addr := account.Address

	var rid *RecurID
	if inst != nil && inst.Exception {
		// A moved exception's start is not its recurrence id; the instance
		// carries the real one.
		rid = inst.RecurID
	} else if inv.RecurID != nil {
		rid = inv.RecurID
	}

	if rid != nil {
		if idx := rl.find(addr, rid); idx >= 0 {
			r := &rl.Replies[idx]
			if compareVersions(r.SeqNo, r.DTStamp, inv.SeqNo, inv.DTStamp) >= 0 {
				return &r.Attendee
			}
		}
	}

	seriesApplies := inv.Recurrence == nil && inv.RecurID == nil || // non-recurring
		rid == nil || // the request concerns the series itself
		inv.LocalOnly // local-only instances inherit the series reply
	if seriesApplies {
		if idx := rl.find(addr, nil); idx >= 0 {
			return &rl.Replies[idx].Attendee
		}
	}

	return inv.AttendeeByAddress(addr)
}

// EffectivePartStat is EffectiveAttendee reduced to the PARTSTAT value,
// defaulting to NEEDS-ACTION when no record exists.
func (rl *ReplyList) EffectivePartStat(account Account, inv *Invite, inst *Instance) ParticipationStatus {
	at := rl.EffectiveAttendee(account, inv, inst)
	if at == nil || at.PartStat == "" {
		return PartStatNeedsAction
	}
	return at.PartStat
}

// ReplyInfoForComponent gathers the replies applicable to one component:
// series-level entries plus, when recurIDZ is given, entries for that
// instance. Each attendee appears once; an instance entry wins over a
// series entry, and among equally specific entries the later dtstamp wins.
func (rl *ReplyList) ReplyInfoForComponent(inv *Invite, recurIDZ *RecurID) []ReplyInfo {
	type slot struct {
		info     ReplyInfo
		instance bool
	}
	byAddr := make(map[string]slot)
	order := make([]string, 0, len(rl.Replies))

	for _, r := range rl.Replies {
		var isInstance bool
		switch {
		case r.RecurID == nil:
			isInstance = false
		case recurIDZ != nil && r.RecurID.Equal(recurIDZ):
			isInstance = true
		default:
			continue
		}
		addr := normalizeAddress(r.Attendee.Address)
		cur, seen := byAddr[addr]
		if !seen {
			byAddr[addr] = slot{r, isInstance}
			order = append(order, addr)
			continue
		}
		switch {
		case isInstance && !cur.instance:
			byAddr[addr] = slot{r, true}
		case isInstance == cur.instance && r.DTStamp.After(cur.info.DTStamp):
			byAddr[addr] = slot{r, isInstance}
		}
	}

	out := make([]ReplyInfo, 0, len(order))
	for _, addr := range order {
		out = append(out, byAddr[addr].info)
	}
	return out
}

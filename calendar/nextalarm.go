package calendar

import (
	"context"
	"time"

	"github.com/samber/mo"
)

// recurrenceExpansionLimit bounds how far ahead the alarm search expands
// instances: a year past the reference instant, or the item's own end if
// that comes first.
func recurrenceExpansionLimit(atOrAfter, itemEnd time.Time) time.Time {
	limit := atOrAfter.AddDate(1, 0, 0)
	if !itemEnd.IsZero() && itemEnd.Before(limit) {
		return itemEnd
	}
	return limit
}

// RecomputeNextAlarm recomputes the item's next alarm trigger. The request
// mode picks the reference instant: the currently scheduled trigger, the
// operation timestamp, the active snooze pair, or an explicit instant.
func (e *Engine) RecomputeNextAlarm(ctx context.Context, item *CalendarItem, req NextAlarmRequest) error {
	var atOrAfter time.Time
	snooze := mo.None[time.Time]()
	now := e.now()

	switch req.Mode {
	case NextAlarmKeepCurrent:
		if item.AlarmData != nil {
			atOrAfter = item.AlarmData.NextAt
			snooze = item.AlarmData.SnoozeUntil
		} else {
			atOrAfter = now
		}
	case NextAlarmFromNow:
		atOrAfter = now
	case NextAlarmContinueSnooze:
		if item.AlarmData != nil {
			atOrAfter = item.AlarmData.NextAt
			snooze = item.AlarmData.SnoozeUntil
		} else {
			atOrAfter = now
		}
	case NextAlarmExplicit:
		atOrAfter = req.At
	}
	if atOrAfter.IsZero() {
		atOrAfter = now
	}

	before, after, err := e.alarmCandidates(item, atOrAfter)
	if err != nil {
		return err
	}

	// If nothing fires at the previously recorded instant, the alarm
	// definition changed under us; restart the search from now.
	if req.Mode == NextAlarmKeepCurrent && item.AlarmData != nil {
		if before == nil || !before.NextAt.Equal(atOrAfter) {
			atOrAfter = now
			snooze = mo.None[time.Time]()
			before, after, err = e.alarmCandidates(item, atOrAfter)
			if err != nil {
				return err
			}
		}
	}

	item.AlarmData = chooseNextAlarm(atOrAfter, snooze, before, after)
	return nil
}

// DismissAlarm advances the alarm schedule strictly past dismissedAt.
func (e *Engine) DismissAlarm(ctx context.Context, item *CalendarItem, dismissedAt time.Time) error {
	return e.RecomputeNextAlarm(ctx, item, NextAlarmRequest{Mode: NextAlarmExplicit, At: dismissedAt.Add(time.Millisecond)})
}

// SnoozeAlarm records a snooze for the current alarm. The snooze never
// precedes the base trigger.
func (e *Engine) SnoozeAlarm(ctx context.Context, item *CalendarItem, until time.Time) error {
	if item.AlarmData == nil {
		return nil
	}
	item.AlarmData = item.AlarmData.WithSnooze(until)
	return nil
}

// alarmCandidates scans instance alarms and returns the latest candidate
// triggering at-or-before atOrAfter and the earliest one strictly after it.
// Appointments skip instances that already started (reminding about a
// meeting in progress is noise); tasks do not, since an overdue-task
// reminder stays meaningful, and tasks additionally fall back to
// absolute-trigger alarms scanned over all non-cancelled invites.
func (e *Engine) alarmCandidates(item *CalendarItem, atOrAfter time.Time) (before, after *AlarmData, err error) {
	limit := recurrenceExpansionLimit(atOrAfter, item.End)
	instances, err := item.ExpandInstances(e.rec, atOrAfter, limit)
	if err != nil {
		return nil, nil, err
	}

	consider := func(cand *AlarmData) {
		switch {
		case cand.NextAt.After(atOrAfter):
			if after == nil || cand.NextAt.Before(after.NextAt) {
				after = cand
			}
		default:
			if before == nil || cand.NextAt.After(before.NextAt) {
				before = cand
			}
		}
	}

	foundRelative := false
	for _, inst := range instances {
		if item.Type == TypeAppointment && !inst.Start.IsZero() && !inst.Start.After(atOrAfter) {
			continue
		}
		inv := item.inviteForInstance(inst)
		if inv == nil {
			continue
		}
		for _, alarm := range inv.Alarms {
			trigger := alarm.TriggerTime(inst.Start, inst.End)
			if trigger.IsZero() {
				continue
			}
			if !alarm.Absolute() {
				foundRelative = true
			}
			consider(&AlarmData{
				NextAt:            trigger,
				NextInstanceStart: inst.Start,
				InviteID:          inv.MailItemID,
				ComponentNum:      inv.ComponentNum,
				Alarm:             alarm,
			})
		}
	}

	if item.Type == TypeTask && !foundRelative {
		for _, inv := range item.Invites {
			if inv.Cancel {
				continue
			}
			for _, alarm := range inv.Alarms {
				if !alarm.Absolute() {
					continue
				}
				consider(&AlarmData{
					NextAt:            alarm.TriggerAbsolute,
					NextInstanceStart: inv.Start,
					InviteID:          inv.MailItemID,
					ComponentNum:      inv.ComponentNum,
					Alarm:             alarm,
				})
			}
		}
	}

	return before, after, nil
}

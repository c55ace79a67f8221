package calendar

import (
	"time"

	"github.com/samber/mo"
)

// AlarmAction is the VALARM ACTION value.
type AlarmAction string

const (
	AlarmDisplay AlarmAction = "DISPLAY"
	AlarmEmail   AlarmAction = "EMAIL"
)

// Alarm is one VALARM definition attached to an invite.
type Alarm struct {
	Action AlarmAction `json:"action"`
	// TriggerAbsolute is the fixed trigger instant; zero means the trigger
	// is relative.
	TriggerAbsolute time.Time `json:"triggerAbs,omitempty"`
	// TriggerRelative offsets the related endpoint, negative meaning
	// before it.
	TriggerRelative time.Duration `json:"triggerRel,omitempty"`
	RelatedToEnd    bool          `json:"relatedToEnd,omitempty"`
	Description     string        `json:"description,omitempty"`
}

// Absolute reports whether the alarm has a fixed trigger instant.
func (a *Alarm) Absolute() bool {
	return !a.TriggerAbsolute.IsZero()
}

// TriggerTime computes when the alarm fires for an instance with the given
// endpoints. Returns the zero time when the trigger cannot be computed
// (relative trigger on a timeless instance).
func (a *Alarm) TriggerTime(instStart, instEnd time.Time) time.Time {
	if a.Absolute() {
		return a.TriggerAbsolute
	}
	base := instStart
	if a.RelatedToEnd {
		base = instEnd
	}
	if base.IsZero() {
		return time.Time{}
	}
	return base.Add(a.TriggerRelative)
}

// AlarmData is the computed next-trigger state for a calendar item.
// SnoozeUntil, when present, overrides NextAt as the instant the user will
// actually be alerted; it is never before NextAt.
type AlarmData struct {
	NextAt            time.Time            `json:"nextAt"`
	SnoozeUntil       mo.Option[time.Time] `json:"snoozeUntil"`
	NextInstanceStart time.Time            `json:"nextInstStart,omitempty"`
	InviteID          int                  `json:"invId"`
	ComponentNum      int                  `json:"compNum"`
	Alarm             *Alarm               `json:"alarm,omitempty"`
}

// EffectiveAt is the instant the user will be alerted: the snooze time if
// set, the base trigger otherwise.
func (d *AlarmData) EffectiveAt() time.Time {
	if s, ok := d.SnoozeUntil.Get(); ok {
		return s
	}
	return d.NextAt
}

// WithSnooze returns a copy carrying the given snooze, clamped so it never
// precedes the base trigger.
func (d *AlarmData) WithSnooze(until time.Time) *AlarmData {
	out := *d
	if until.Before(out.NextAt) {
		until = out.NextAt
	}
	out.SnoozeUntil = mo.Some(until)
	return &out
}

// chooseNextAlarm selects the item's next alarm given the candidate firing
// at-or-before atOrAfter and the nearest candidate strictly after it.
//
// alarmBefore survives only when its trigger coincides with atOrAfter and
// the snooze (if any) has not been overtaken by alarmAfter; that is the one
// case the snooze is retained. In every other case alarmAfter wins and the
// snooze is discarded, which covers dismissing a snooze that slept past the
// next scheduled alarm.
func chooseNextAlarm(atOrAfter time.Time, snoozeUntil mo.Option[time.Time], alarmBefore, alarmAfter *AlarmData) *AlarmData {
	if alarmBefore != nil && alarmBefore.NextAt.Equal(atOrAfter) {
		snooze, hasSnooze := snoozeUntil.Get()
		if !hasSnooze {
			out := *alarmBefore
			out.SnoozeUntil = mo.None[time.Time]()
			return &out
		}
		if alarmAfter == nil || snooze.Before(alarmAfter.NextAt) {
			return alarmBefore.WithSnooze(snooze)
		}
	}
	if alarmAfter == nil {
		return nil
	}
	out := *alarmAfter
	out.SnoozeUntil = mo.None[time.Time]()
	return &out
}

// NextAlarmMode selects how the recomputation picks its reference instant.
type NextAlarmMode int

const (
	// NextAlarmKeepCurrent re-evaluates from the currently scheduled
	// trigger, preserving an active snooze.
	NextAlarmKeepCurrent NextAlarmMode = iota
	// NextAlarmFromNow schedules the earliest alarm from the operation
	// timestamp, dropping any snooze.
	NextAlarmFromNow
	// NextAlarmContinueSnooze keeps the current trigger and snooze as the
	// reference pair.
	NextAlarmContinueSnooze
	// NextAlarmExplicit uses a caller-supplied instant.
	NextAlarmExplicit
)

// NextAlarmRequest parameterizes alarm recomputation.
type NextAlarmRequest struct {
	Mode NextAlarmMode
	// At is the reference instant for NextAlarmExplicit.
	At time.Time
}

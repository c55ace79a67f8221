package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency is the FREQ part of an RRULE.
type Frequency string

const (
	FreqSecondly Frequency = "SECONDLY"
	FreqMinutely Frequency = "MINUTELY"
	FreqHourly   Frequency = "HOURLY"
	FreqDaily    Frequency = "DAILY"
	FreqWeekly   Frequency = "WEEKLY"
	FreqMonthly  Frequency = "MONTHLY"
	FreqYearly   Frequency = "YEARLY"
)

// SubDaily reports whether the frequency repeats more often than once a day.
func (f Frequency) SubDaily() bool {
	switch f {
	case FreqSecondly, FreqMinutely, FreqHourly:
		return true
	}
	return false
}

// Rule is a single RRULE anchored at a DTSTART, with the effective duration
// of each occurrence.
type Rule struct {
	RRule    string // without the "RRULE:" prefix
	DTStart  time.Time
	Duration time.Duration
}

// Frequency extracts the FREQ part of the rule. Empty string if absent.
func (r *Rule) Frequency() Frequency {
	for _, part := range strings.Split(r.RRule, ";") {
		if name, val, ok := strings.Cut(part, "="); ok && strings.EqualFold(name, "FREQ") {
			return Frequency(strings.ToUpper(val))
		}
	}
	return ""
}

// Until returns the UNTIL bound of the rule, if one is set.
func (r *Rule) Until() (time.Time, bool) {
	for _, part := range strings.Split(r.RRule, ";") {
		name, val, ok := strings.Cut(part, "=")
		if !ok || !strings.EqualFold(name, "UNTIL") {
			continue
		}
		if t, err := time.Parse("20060102T150405Z", val); err == nil {
			return t, true
		}
		if t, err := time.Parse("20060102", val); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// Count returns the COUNT bound of the rule, if one is set.
func (r *Rule) Count() (int, bool) {
	for _, part := range strings.Split(r.RRule, ";") {
		if name, val, ok := strings.Cut(part, "="); ok && strings.EqualFold(name, "COUNT") {
			if n, err := strconv.Atoi(val); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// Bounded reports whether the rule terminates (UNTIL or COUNT present).
func (r *Rule) Bounded() bool {
	if _, ok := r.Until(); ok {
		return true
	}
	_, ok := r.Count()
	return ok
}

// Recurrence is the full recurrence definition of one calendar series: the
// rule (if any) plus every kind of carve-out. Exception and cancellation ids
// name occurrences that are overridden or removed by separate invite
// components; EXDATEs remove occurrences with no replacement.
type Recurrence struct {
	Rule         *Rule       // nil for a non-repeating series
	DTStart      time.Time   // series start, also first occurrence when Rule is nil
	Duration     time.Duration
	RDates       []time.Time
	ExDates      []time.Time
	CancelledIDs []time.Time // recurrence ids removed by CANCEL components
	ExceptionIDs []time.Time // recurrence ids overridden by exception components
}

// Clone returns a deep copy, so callers can fold in new carve-outs without
// touching the source.
func (r *Recurrence) Clone() *Recurrence {
	if r == nil {
		return nil
	}
	out := &Recurrence{
		DTStart:  r.DTStart,
		Duration: r.Duration,
	}
	if r.Rule != nil {
		rule := *r.Rule
		out.Rule = &rule
	}
	out.RDates = append([]time.Time(nil), r.RDates...)
	out.ExDates = append([]time.Time(nil), r.ExDates...)
	out.CancelledIDs = append([]time.Time(nil), r.CancelledIDs...)
	out.ExceptionIDs = append([]time.Time(nil), r.ExceptionIDs...)
	return out
}

// AddCancelledID records an occurrence removed by a CANCEL component.
func (r *Recurrence) AddCancelledID(id time.Time) {
	r.CancelledIDs = append(r.CancelledIDs, id)
}

// AddExceptionID records an occurrence overridden by an exception component.
func (r *Recurrence) AddExceptionID(id time.Time) {
	r.ExceptionIDs = append(r.ExceptionIDs, id)
}

// HasExceptions reports whether any occurrence is overridden or cancelled.
func (r *Recurrence) HasExceptions() bool {
	return len(r.CancelledIDs) > 0 || len(r.ExceptionIDs) > 0
}

// EndTime computes the effective end of the whole series: the end of the last
// occurrence for a bounded rule, the far-future sentinel for an unbounded one.
func (r *Recurrence) EndTime(eng *Engine) (time.Time, error) {
	if r.Rule == nil {
		last := r.DTStart
		for _, rd := range r.RDates {
			if rd.After(last) {
				last = rd
			}
		}
		return last.Add(r.Duration), nil
	}
	if !r.Rule.Bounded() {
		return MaxTime, nil
	}
	var bound time.Time
	if until, ok := r.Rule.Until(); ok {
		bound = until.Add(24 * time.Hour)
	} else {
		bound = MaxTime
	}
	occs, err := eng.Expand(r, MinTime, bound)
	if err != nil {
		return time.Time{}, fmt.Errorf("computing series end: %w", err)
	}
	if len(occs) == 0 {
		return r.DTStart.Add(r.Duration), nil
	}
	return occs[len(occs)-1].Add(r.Duration), nil
}

// Sentinels for "expand everything" windows. rrule-go is happy with these as
// long as the rule itself is bounded.
var (
	MinTime = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	MaxTime = time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
)

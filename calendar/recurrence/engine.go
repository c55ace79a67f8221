package recurrence

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

// Engine expands recurrence definitions into concrete occurrence times.
// Expansion results are cached because the calendar engine re-expands the
// same series many times per reconciliation pass.
type Engine struct {
	cache *Cache
}

// NewEngine creates an engine with the default cache configuration.
func NewEngine() *Engine {
	return &Engine{cache: NewCache(DefaultCacheConfig)}
}

// NewEngineWithCache creates an engine backed by a caller-owned cache.
// A nil cache disables caching.
func NewEngineWithCache(cache *Cache) *Engine {
	return &Engine{cache: cache}
}

// Close releases the engine's cache resources.
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

// Expand returns the occurrence start times of rec within [rangeStart,
// rangeEnd), sorted ascending. Occurrences carved out by EXDATE, a CANCEL
// component, or an exception component are omitted; RDATEs are folded in.
func (e *Engine) Expand(rec *Recurrence, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	if rec == nil {
		return nil, nil
	}

	if e.cache != nil {
		if cached, ok := e.cache.Get(rec, rangeStart, rangeEnd); ok {
			return cached, nil
		}
	}

	var occurrences []time.Time
	if rec.Rule != nil {
		expanded, err := expandRule(rec.Rule, rangeStart, rangeEnd)
		if err != nil {
			return nil, err
		}
		occurrences = expanded
	} else if !rec.DTStart.Before(rangeStart) && rec.DTStart.Before(rangeEnd) {
		occurrences = []time.Time{rec.DTStart}
	}

	for _, rd := range rec.RDates {
		if !rd.Before(rangeStart) && rd.Before(rangeEnd) && !containsTime(occurrences, rd) {
			occurrences = append(occurrences, rd)
		}
	}

	kept := occurrences[:0:0]
	for _, occ := range occurrences {
		if isExcluded(occ, rec.ExDates) || containsID(occ, rec.CancelledIDs) || containsID(occ, rec.ExceptionIDs) {
			continue
		}
		kept = append(kept, occ)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Before(kept[j]) })

	if e.cache != nil {
		e.cache.Set(rec, rangeStart, rangeEnd, kept)
	}
	return kept, nil
}

// OccursAt reports whether rec produces an occurrence exactly at t. The
// check expands a narrow window around t rather than the whole series.
func (e *Engine) OccursAt(rec *Recurrence, t time.Time) (bool, error) {
	occs, err := e.Expand(rec, t.Add(-time.Second), t.Add(time.Second))
	if err != nil {
		return false, err
	}
	for _, occ := range occs {
		if occ.Equal(t) {
			return true, nil
		}
	}
	return false, nil
}

// HasOccurrenceInRange checks whether the series produces at least one
// occurrence in the range, limiting the expansion window for very large
// ranges before falling back to a full expansion.
func (e *Engine) HasOccurrenceInRange(rec *Recurrence, rangeStart, rangeEnd time.Time) (bool, error) {
	limited := rangeEnd
	if rangeEnd.Sub(rangeStart) > 90*24*time.Hour {
		limited = rangeStart.Add(90 * 24 * time.Hour)
	}
	occs, err := e.Expand(rec, rangeStart, limited)
	if err != nil {
		return false, err
	}
	if len(occs) > 0 {
		return true, nil
	}
	if limited.Before(rangeEnd) {
		occs, err = e.Expand(rec, limited, rangeEnd)
		if err != nil {
			return false, err
		}
		return len(occs) > 0, nil
	}
	return false, nil
}

// expandRule expands a single RRULE within [rangeStart, rangeEnd).
func expandRule(rule *Rule, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	dtstart := rule.DTStart.UTC().Format("20060102T150405Z")
	full := fmt.Sprintf("DTSTART:%s\nRRULE:%s", dtstart, rule.RRule)

	set, err := rrule.StrToRRuleSet(full)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE %q: %w", rule.RRule, err)
	}
	// Between is inclusive of start, so step back to make the end exclusive.
	return set.Between(rangeStart, rangeEnd.Add(-time.Second), true), nil
}

// isExcluded checks t against an EXDATE list, handling both exact matches
// and date-only exclusions stored as midnight UTC.
func isExcluded(t time.Time, exdates []time.Time) bool {
	for _, ex := range exdates {
		if t.Equal(ex) {
			return true
		}
		if ex.Hour() == 0 && ex.Minute() == 0 && ex.Second() == 0 && ex.Location() == time.UTC {
			atMidnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			if atMidnight.Equal(ex) {
				return true
			}
		}
	}
	return false
}

func containsID(t time.Time, ids []time.Time) bool {
	for _, id := range ids {
		if t.Equal(id) {
			return true
		}
	}
	return false
}

func containsTime(ts []time.Time, t time.Time) bool {
	for _, c := range ts {
		if c.Equal(t) {
			return true
		}
	}
	return false
}

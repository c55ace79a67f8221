package calendar

import (
	"sort"
	"time"
)

// TimeZoneMap is the minimal set of timezones referenced by an item's
// invites and replies. TZIDs are IANA names; lookups fall back to UTC for
// unknown ids so a bad TZID degrades rather than fails.
type TimeZoneMap struct {
	tzids map[string]struct{}
}

// NewTimeZoneMap creates an empty timezone map.
func NewTimeZoneMap() *TimeZoneMap {
	return &TimeZoneMap{tzids: make(map[string]struct{})}
}

// NewTimeZoneMapFromIDs creates a map holding the given TZIDs.
func NewTimeZoneMapFromIDs(ids []string) *TimeZoneMap {
	m := NewTimeZoneMap()
	for _, id := range ids {
		m.Add(id)
	}
	return m
}

// Add records a TZID. Empty ids are ignored.
func (m *TimeZoneMap) Add(tzid string) {
	if tzid == "" {
		return
	}
	m.tzids[tzid] = struct{}{}
}

// Merge folds another map's TZIDs into this one.
func (m *TimeZoneMap) Merge(other *TimeZoneMap) {
	if other == nil {
		return
	}
	for id := range other.tzids {
		m.tzids[id] = struct{}{}
	}
}

// Contains reports whether the map holds tzid.
func (m *TimeZoneMap) Contains(tzid string) bool {
	_, ok := m.tzids[tzid]
	return ok
}

// TZIDs returns the recorded ids in sorted order.
func (m *TimeZoneMap) TZIDs() []string {
	out := make([]string, 0, len(m.tzids))
	for id := range m.tzids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Location resolves a TZID to a *time.Location, falling back to UTC.
func (m *TimeZoneMap) Location(tzid string) *time.Location {
	if tzid == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return time.UTC
	}
	return loc
}

package calendar

import (
	"strings"
	"time"
)

// ItemType distinguishes the two kinds of calendar items.
type ItemType int

const (
	TypeAppointment ItemType = iota
	TypeTask
)

func (t ItemType) String() string {
	if t == TypeTask {
		return "task"
	}
	return "appointment"
}

// Method is an iTIP method (the METHOD property of an iCalendar message).
type Method string

const (
	MethodRequest        Method = "REQUEST"
	MethodCancel         Method = "CANCEL"
	MethodPublish        Method = "PUBLISH"
	MethodReply          Method = "REPLY"
	MethodCounter        Method = "COUNTER"
	MethodRefresh        Method = "REFRESH"
	MethodDeclineCounter Method = "DECLINECOUNTER"
)

// ParticipationStatus is an attendee PARTSTAT value.
type ParticipationStatus string

const (
	PartStatNeedsAction ParticipationStatus = "NEEDS-ACTION"
	PartStatAccepted    ParticipationStatus = "ACCEPTED"
	PartStatDeclined    ParticipationStatus = "DECLINED"
	PartStatTentative   ParticipationStatus = "TENTATIVE"
	PartStatDelegated   ParticipationStatus = "DELEGATED"
)

// Right is a bitmask of mailbox access rights checked by the engine.
type Right uint32

const (
	RightRead Right = 1 << iota
	RightWrite
	RightInsert
	RightDelete
	// RightPrivate gates access to items marked non-public.
	RightPrivate
)

// Account identifies the acting account for permission and identity checks.
type Account struct {
	Address string
	Aliases []string
	// Resource is true for calendar resource accounts (rooms, equipment),
	// which are exempt from the private-content right.
	Resource bool
}

// Matches reports whether addr names this account, either by primary
// address or one of its aliases.
func (a Account) Matches(addr string) bool {
	addr = normalizeAddress(addr)
	if addr == "" {
		return false
	}
	if normalizeAddress(a.Address) == addr {
		return true
	}
	for _, alias := range a.Aliases {
		if normalizeAddress(alias) == addr {
			return true
		}
	}
	return false
}

// normalizeAddress strips any mailto: prefix and lowercases the address.
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(strings.ToLower(addr), "mailto:")
	return addr
}

// addressesEqual compares two addresses after normalization.
func addressesEqual(a, b string) bool {
	na, nb := normalizeAddress(a), normalizeAddress(b)
	return na != "" && na == nb
}

// timeFromUnixMs converts a millisecond timestamp to a UTC instant.
func timeFromUnixMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// compareVersions orders two invite revisions by sequence number, breaking
// ties with DTSTAMP. Returns <0, 0, >0 in the usual way.
func compareVersions(seqA int, dtA time.Time, seqB int, dtB time.Time) int {
	if seqA != seqB {
		if seqA < seqB {
			return -1
		}
		return 1
	}
	if dtA.Before(dtB) {
		return -1
	}
	if dtA.After(dtB) {
		return 1
	}
	return 0
}

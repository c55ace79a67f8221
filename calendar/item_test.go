package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxd/calengine/calendar/recurrence"
)

func TestCalendarItem_UpdateRecurrence(t *testing.T) {
	eng := recurrence.NewEngineWithCache(nil)
	series := weeklySeries()
	occ := nthOccurrence(2)

	item := &CalendarItem{
		ID:  1,
		UID: series.UID,
		Invites: []*Invite{
			series,
			{
				MailItemID: 101,
				UID:        series.UID,
				SeqNo:      1,
				RecurID:    &RecurID{DateTime: occ},
				Start:      occ.Add(3 * time.Hour),
				End:        occ.Add(4 * time.Hour),
			},
			{
				MailItemID: 102,
				UID:        series.UID,
				SeqNo:      2,
				RecurID:    &RecurID{DateTime: nthOccurrence(4)},
				Cancel:     true,
			},
		},
		Replies: NewReplyList(),
	}
	item.rebuildTimeZoneMap()

	ok, err := item.updateRecurrence(eng)
	require.NoError(t, err)
	require.True(t, ok)

	require.NotNil(t, item.Recurrence)
	assert.Equal(t, []time.Time{occ}, item.Recurrence.ExceptionIDs)
	assert.Equal(t, []time.Time{nthOccurrence(4)}, item.Recurrence.CancelledIDs)

	// Start is the earliest surviving occurrence, end covers the latest
	// endpoint including the moved exception.
	assert.True(t, item.Start.Equal(nthOccurrence(0)))
	assert.True(t, item.End.Equal(nthOccurrence(9).Add(time.Hour)))
}

func TestCalendarItem_UpdateRecurrenceWithoutSeries(t *testing.T) {
	eng := recurrence.NewEngineWithCache(nil)
	item := &CalendarItem{
		ID: 1,
		Invites: []*Invite{
			{MailItemID: 101, RecurID: &RecurID{DateTime: nthOccurrence(1)}},
		},
		Replies: NewReplyList(),
	}
	ok, err := item.updateRecurrence(eng)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCalendarItem_ExpandInstances(t *testing.T) {
	eng := recurrence.NewEngineWithCache(nil)
	series := weeklySeries()
	occ := nthOccurrence(2)
	moved := occ.Add(3 * time.Hour)

	item := &CalendarItem{
		ID:  1,
		UID: series.UID,
		Invites: []*Invite{
			series,
			{
				MailItemID: 101,
				UID:        series.UID,
				RecurID:    &RecurID{DateTime: occ},
				Start:      moved,
				End:        moved.Add(time.Hour),
			},
		},
		Replies: NewReplyList(),
	}
	item.rebuildTimeZoneMap()
	ok, err := item.updateRecurrence(eng)
	require.NoError(t, err)
	require.True(t, ok)

	instances, err := item.ExpandInstances(eng, recurrence.MinTime, recurrence.MaxTime)
	require.NoError(t, err)
	require.Len(t, instances, 10)

	var exception *Instance
	for i := range instances {
		if instances[i].Exception {
			exception = &instances[i]
		}
	}
	require.NotNil(t, exception)
	assert.True(t, exception.Start.Equal(moved))
	assert.Equal(t, 101, exception.InviteID)

	// The original occurrence slot is carved out of the series expansion.
	for _, inst := range instances {
		if !inst.Exception {
			assert.False(t, inst.Start.Equal(occ))
		}
	}

	// A narrow window returns only the overlapping instances.
	narrow, err := item.ExpandInstances(eng, occ, occ.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, narrow, 1)
	assert.True(t, narrow[0].Exception)
}

func TestCalendarItem_IsPublicAndFlags(t *testing.T) {
	item := &CalendarItem{
		Invites: []*Invite{
			{Public: true, Priority: 1},
			{Public: false, Draft: true},
			{Public: false, Cancel: true}, // cancelled components do not count
		},
	}
	assert.False(t, item.IsPublic())

	item.recomputeFlags()
	assert.True(t, item.HighPriority)
	assert.True(t, item.Draft)
	assert.False(t, item.LowPriority)

	item.Invites[1].Public = true
	assert.True(t, item.IsPublic())
}

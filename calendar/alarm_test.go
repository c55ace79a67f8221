package calendar

import (
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlarm_TriggerTime(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	tests := []struct {
		name     string
		alarm    Alarm
		expected time.Time
	}{
		{
			name:     "absolute trigger",
			alarm:    Alarm{Action: AlarmDisplay, TriggerAbsolute: start.Add(-time.Hour)},
			expected: start.Add(-time.Hour),
		},
		{
			name:     "relative to start",
			alarm:    Alarm{Action: AlarmDisplay, TriggerRelative: -15 * time.Minute},
			expected: start.Add(-15 * time.Minute),
		},
		{
			name:     "relative to end",
			alarm:    Alarm{Action: AlarmEmail, TriggerRelative: -5 * time.Minute, RelatedToEnd: true},
			expected: end.Add(-5 * time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.alarm.TriggerTime(start, end)
			assert.True(t, got.Equal(tt.expected), "got %v want %v", got, tt.expected)
		})
	}

	t.Run("relative trigger on a timeless instance", func(t *testing.T) {
		a := Alarm{Action: AlarmDisplay, TriggerRelative: -time.Minute}
		assert.True(t, a.TriggerTime(time.Time{}, time.Time{}).IsZero())
	})
}

func TestAlarmData_WithSnooze(t *testing.T) {
	base := time.Date(2024, 6, 1, 9, 45, 0, 0, time.UTC)
	d := &AlarmData{NextAt: base}

	snoozed := d.WithSnooze(base.Add(10 * time.Minute))
	got, ok := snoozed.SnoozeUntil.Get()
	require.True(t, ok)
	assert.True(t, got.Equal(base.Add(10*time.Minute)))
	assert.True(t, snoozed.EffectiveAt().Equal(base.Add(10*time.Minute)))

	// A snooze before the base trigger is clamped to it.
	clamped := d.WithSnooze(base.Add(-time.Hour))
	got, ok = clamped.SnoozeUntil.Get()
	require.True(t, ok)
	assert.True(t, got.Equal(base))
}

func TestChooseNextAlarm(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 9, 45, 0, 0, time.UTC)
	next := t0.Add(24 * time.Hour)
	before := &AlarmData{NextAt: t0, InviteID: 1}
	after := &AlarmData{NextAt: next, InviteID: 1}

	t.Run("current alarm still defined, no snooze", func(t *testing.T) {
		got := chooseNextAlarm(t0, mo.None[time.Time](), before, after)
		require.NotNil(t, got)
		assert.True(t, got.NextAt.Equal(t0))
		assert.True(t, got.SnoozeUntil.IsAbsent())
	})

	t.Run("snooze before the next alarm is retained", func(t *testing.T) {
		snooze := t0.Add(30 * time.Minute)
		got := chooseNextAlarm(t0, mo.Some(snooze), before, after)
		require.NotNil(t, got)
		assert.True(t, got.NextAt.Equal(t0))
		s, ok := got.SnoozeUntil.Get()
		require.True(t, ok)
		assert.True(t, s.Equal(snooze))
	})

	t.Run("snooze past the next alarm is dropped", func(t *testing.T) {
		snooze := next.Add(time.Hour)
		got := chooseNextAlarm(t0, mo.Some(snooze), before, after)
		require.NotNil(t, got)
		assert.True(t, got.NextAt.Equal(next))
		assert.True(t, got.SnoozeUntil.IsAbsent())
	})

	t.Run("current alarm no longer defined falls forward", func(t *testing.T) {
		got := chooseNextAlarm(t0, mo.None[time.Time](), nil, after)
		require.NotNil(t, got)
		assert.True(t, got.NextAt.Equal(next))
	})

	t.Run("nothing left", func(t *testing.T) {
		assert.Nil(t, chooseNextAlarm(t0, mo.None[time.Time](), nil, nil))
	})
}

package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rfc822Part(body string) []byte {
	return []byte("Content-Type: text/calendar\r\n\r\n" + body)
}

func TestDigestRoundTrip(t *testing.T) {
	parts := []digestPart{
		{inviteID: 100, body: rfc822Part("series")},
		{inviteID: 101, body: rfc822Part("exception")},
	}
	data, err := encodeDigest(parts)
	require.NoError(t, err)

	got, err := parseDigest(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 100, got[0].inviteID)
	assert.Equal(t, parts[0].body, got[0].body)
	assert.Equal(t, 101, got[1].inviteID)
	assert.Equal(t, parts[1].body, got[1].body)
}

func TestModifyBlob_AppendAndRemove(t *testing.T) {
	env := newTestEnv(EngineConfig{})
	item := createWeeklyItem(env)
	ctx := context.Background()

	require.NoError(t, env.engine.createBlob(ctx, item, map[int]*ParsedMessage{
		100: {Raw: rfc822Part("series")},
	}))
	require.NotNil(t, item.Blob)

	// Append the exception's message.
	require.NoError(t, env.engine.modifyBlob(ctx, item, blobUpdate{
		newInviteID: 101,
		newMessage:  &ParsedMessage{Raw: rfc822Part("exception")},
	}))
	data, err := env.blobs.GetContent(ctx, item.Blob)
	require.NoError(t, err)
	parts, err := parseDigest(data)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	// Redelivery for the same invite replaces its part in place.
	require.NoError(t, env.engine.modifyBlob(ctx, item, blobUpdate{
		newInviteID: 101,
		newMessage:  &ParsedMessage{Raw: rfc822Part("exception v2")},
	}))
	data, err = env.blobs.GetContent(ctx, item.Blob)
	require.NoError(t, err)
	parts, err = parseDigest(data)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, rfc822Part("exception v2"), parts[1].body)

	// Removing every part deletes the blob.
	require.NoError(t, env.engine.modifyBlob(ctx, item, blobUpdate{
		removedIDs: []int{100, 101},
	}))
	assert.Nil(t, item.Blob)
}

func TestModifyBlob_SnapToSeries(t *testing.T) {
	env := newTestEnv(EngineConfig{})
	item := createWeeklyItem(env)
	ctx := context.Background()

	require.NoError(t, env.engine.createBlob(ctx, item, map[int]*ParsedMessage{
		100: {Raw: rfc822Part("BEGIN:VCALENDAR\r\nEND:VCALENDAR")},
	}))

	require.NoError(t, env.engine.modifyBlob(ctx, item, blobUpdate{
		snapToSeries: []int{100},
	}))

	data, err := env.blobs.GetContent(ctx, item.Blob)
	require.NoError(t, err)
	parts, err := parseDigest(data)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	// The calendar body now carries the series component.
	assert.Contains(t, string(parts[0].body), "weekly@example.com")
	assert.Contains(t, string(parts[0].body), "FREQ=WEEKLY;COUNT=10")
}

func TestTimeZoneMap(t *testing.T) {
	m := NewTimeZoneMap()
	m.Add("Europe/Berlin")
	m.Add("America/New_York")
	m.Add("") // ignored
	m.Add("Europe/Berlin")

	assert.Equal(t, []string{"America/New_York", "Europe/Berlin"}, m.TZIDs())
	assert.True(t, m.Contains("Europe/Berlin"))
	assert.False(t, m.Contains("Asia/Tokyo"))

	loc := m.Location("Europe/Berlin")
	require.NotNil(t, loc)
	winter := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC).In(loc)
	_, off := winter.Zone()
	assert.Equal(t, 3600, off)

	// Unknown zones fall back to UTC.
	assert.Equal(t, time.UTC, m.Location("Nowhere/Invalid"))
}

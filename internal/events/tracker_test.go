package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"visitlens/internal/events"
	"visitlens/internal/heatmap"
	"visitlens/internal/sessions"
	"visitlens/internal/testsupport"
	"visitlens/internal/visits"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var trackNow = time.Date(2024, 8, 20, 14, 0, 0, 0, time.UTC)

func newTracker(db *gorm.DB, sampleRate float64) *events.Tracker {
	return events.NewTracker(db, testsupport.GetLogger(), events.TrackerConfig{
		IdentitySalt: "salt",
		Heatmap:      heatmap.Config{Enabled: true, SampleRate: sampleRate},
		Random:       func() float64 { return 0.5 },
		Now:          func() time.Time { return trackNow },
	}, nil)
}

func ptr[T any](v T) *T { return &v }

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestTrackFirstBatch(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	tracker := newTracker(db, 1.0)

	in := events.TrackInput{
		UserAgent:     chromeUA,
		ClientAddress: "203.0.113.10",
		Events: []events.RawEvent{
			{EventType: "page_view", PagePath: "/"},
			{EventType: "page_view", PagePath: "/villages/sintra"},
			{EventType: "page_view", PagePath: "/"},
			{EventType: "click", PagePath: "/", ClickX: ptr(137.0), ClickY: ptr(420.0), ViewportWidth: ptr(1280)},
			{EventType: "click", PagePath: "/", ClickX: ptr(140.0), ClickY: ptr(430.0), ViewportWidth: ptr(1280), ElementID: "hero"},
		},
	}

	result, err := tracker.Track(context.Background(), in)
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, 5, result.EventsTracked)
	assert.Equal(t, 2, result.UniqueVisits)
	assert.Equal(t, 2, result.HeatmapClicks)

	s, err := sessions.Find(db, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 3, s.PageCount)
	assert.Equal(t, "desktop", s.Device)
	assert.Equal(t, "chrome", s.Browser)

	assert.Equal(t, int64(5), countRows(t, db, &events.Event{}))
	assert.Equal(t, int64(2), countRows(t, db, &visits.UniqueVisit{}))

	t.Run("unique visits carry session attributes", func(t *testing.T) {
		var rows []visits.UniqueVisit
		require.NoError(t, db.Order("id").Find(&rows).Error)
		require.Len(t, rows, 2)
		for _, v := range rows {
			assert.Equal(t, result.SessionID, v.SessionID)
			assert.Equal(t, "chrome", v.Browser)
			assert.Equal(t, "direct", v.ReferrerCategory)
			assert.Equal(t, "desktop", v.Device)
		}
	})

	buckets, err := heatmap.Buckets(db, "/", trackNow)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 2, buckets[0].ClickCount)
	assert.Equal(t, 100, buckets[0].BucketX)
	assert.Equal(t, 400, buckets[0].BucketY)

	t.Run("raw address is never stored", func(t *testing.T) {
		var leaked int64
		db.Model(&events.Event{}).Where("identity_hash = ?", "203.0.113.10").Count(&leaked)
		assert.Zero(t, leaked)
		assert.NotEqual(t, "203.0.113.10", s.IdentityHash)
	})

	t.Run("second batch reuses the session", func(t *testing.T) {
		next, err := tracker.Track(context.Background(), events.TrackInput{
			UserAgent:     chromeUA,
			ClientAddress: "203.0.113.10",
			Events: []events.RawEvent{
				{EventType: "page_view", PagePath: "/", SessionID: result.SessionID},
				{EventType: "page_view", PagePath: "/marketplace", SessionID: result.SessionID},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, result.SessionID, next.SessionID)
		assert.Equal(t, 1, next.UniqueVisits, "'/' was already visited today")

		s, err := sessions.Find(db, result.SessionID)
		require.NoError(t, err)
		assert.Equal(t, 5, s.PageCount)
		assert.Equal(t, int64(1), countRows(t, db, &sessions.Session{}))
		assert.Equal(t, int64(3), countRows(t, db, &visits.UniqueVisit{}))
	})
}

func TestTrackRejectsWithoutSideEffects(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	tracker := newTracker(db, 1.0)

	oversized := make([]events.RawEvent, events.MaxBatchSize+1)
	for i := range oversized {
		oversized[i] = events.RawEvent{EventType: "page_view", PagePath: "/"}
	}

	tests := []struct {
		name   string
		events []events.RawEvent
		err    error
	}{
		{"empty batch", nil, events.ErrEmptyBatch},
		{"oversized batch", oversized, events.ErrBatchTooLarge},
		{"event without type", []events.RawEvent{{EventType: "page_view"}, {PagePath: "/x"}}, events.ErrInvalidEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tracker.Track(context.Background(), events.TrackInput{Events: tt.events, ClientAddress: "198.51.100.1"})
			assert.ErrorIs(t, err, tt.err)

			assert.Zero(t, countRows(t, db, &events.Event{}))
			assert.Zero(t, countRows(t, db, &sessions.Session{}))
			assert.Zero(t, countRows(t, db, &visits.UniqueVisit{}))
			assert.Zero(t, countRows(t, db, &heatmap.Bucket{}))
		})
	}
}

func TestTrackHeatmapSampling(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	// Random source always draws 0.5, so a 0.1 rate admits nothing.
	tracker := newTracker(db, 0.1)

	result, err := tracker.Track(context.Background(), events.TrackInput{
		ClientAddress: "198.51.100.2",
		Events: []events.RawEvent{
			{EventType: "click", PagePath: "/", ClickX: ptr(10.0), ClickY: ptr(10.0)},
			{EventType: "click", PagePath: "/"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.EventsTracked, "sampled-out clicks are still recorded as events")
	assert.Zero(t, result.HeatmapClicks)
	assert.Zero(t, countRows(t, db, &heatmap.Bucket{}))
}

func TestTrackUTMAppliesToWholeBatch(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	tracker := newTracker(db, 0)

	_, err := tracker.Track(context.Background(), events.TrackInput{
		ClientAddress: "198.51.100.3",
		Events: []events.RawEvent{
			{EventType: "page_view", PagePath: "/?utm_source=instagram&utm_medium=social"},
			{EventType: "page_view", PagePath: "/tours?utm_source=ignored"},
		},
	})
	require.NoError(t, err)

	var stored []events.Event
	require.NoError(t, db.Order("id").Find(&stored).Error)
	require.Len(t, stored, 2)
	for _, e := range stored {
		assert.Equal(t, "instagram", e.UTMSource)
		assert.Equal(t, "social", e.UTMMedium)
	}
	assert.Equal(t, "/tours", stored[1].PagePath)
}

func TestTrackSameIdentityAcrossSessions(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	tracker := newTracker(db, 0)

	for i := 0; i < 3; i++ {
		_, err := tracker.Track(context.Background(), events.TrackInput{
			ClientAddress: "198.51.100.4",
			Events:        []events.RawEvent{{EventType: "page_view", PagePath: "/villages/evora"}},
		})
		require.NoError(t, err)
	}

	assert.Equal(t, int64(3), countRows(t, db, &sessions.Session{}), "each batch without a token starts a session")
	assert.Equal(t, int64(1), countRows(t, db, &visits.UniqueVisit{}))
}

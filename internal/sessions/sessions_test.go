package sessions_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitlens/internal/sessions"
	"visitlens/internal/testsupport"
)

func TestUpsert(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	touch := sessions.Touch{
		SessionID:        "sess-1",
		IdentityHash:     "hash-1",
		UserAgent:        "Mozilla/5.0",
		Device:           "desktop",
		Browser:          "chrome",
		ReferrerCategory: "google",
		PageViews:        2,
		At:               start,
	}
	require.NoError(t, sessions.Upsert(db, touch))

	s, err := sessions.Find(db, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.PageCount)
	assert.True(t, s.StartedAt.Equal(start))

	t.Run("second batch advances activity and counts", func(t *testing.T) {
		later := touch
		later.PageViews = 3
		later.At = start.Add(5 * time.Minute)
		later.ReferrerCategory = "direct"
		require.NoError(t, sessions.Upsert(db, later))

		s, err := sessions.Find(db, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, 5, s.PageCount)
		assert.True(t, s.StartedAt.Equal(start), "started_at is set once")
		assert.True(t, s.LastActivityAt.Equal(start.Add(5*time.Minute)))
		assert.Equal(t, "google", s.ReferrerCategory, "first-touch attributes are kept")
	})

	t.Run("batch without page views keeps the count", func(t *testing.T) {
		clickOnly := touch
		clickOnly.PageViews = 0
		clickOnly.At = start.Add(10 * time.Minute)
		require.NoError(t, sessions.Upsert(db, clickOnly))

		s, err := sessions.Find(db, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, 5, s.PageCount)
	})

	t.Run("requires a session id", func(t *testing.T) {
		assert.Error(t, sessions.Upsert(db, sessions.Touch{}))
	})

	t.Run("count started", func(t *testing.T) {
		n, err := sessions.CountStarted(db, start.Add(-time.Hour), start.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestNewToken(t *testing.T) {
	a, b := sessions.NewToken(), sessions.NewToken()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}

package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBatch(t *testing.T) {
	assert.ErrorIs(t, ValidateBatch(nil), ErrEmptyBatch)
	assert.NoError(t, ValidateBatch(make([]RawEvent, 1)))
	assert.NoError(t, ValidateBatch(make([]RawEvent, MaxBatchSize)))
	assert.ErrorIs(t, ValidateBatch(make([]RawEvent, MaxBatchSize+1)), ErrBatchTooLarge)
}

func TestNormalize(t *testing.T) {
	raw := []RawEvent{
		{EventType: "page_view", PagePath: "/villages/obidos?utm_source=fb&utm_campaign=spring", Referrer: "https://m.facebook.com/"},
		{EventType: "page_view", PagePath: "/marketplace?utm_source=newsletter"},
		{EventType: "click", PagePath: "/marketplace", Metadata: map[string]any{"label": "cta"}},
	}
	ua := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Version/17.0 Mobile/15E148 Safari/604.1"

	batch, err := Normalize(raw, ua)
	require.NoError(t, err)

	assert.Equal(t, "mobile", batch.Device)
	assert.Equal(t, "safari", batch.Browser)
	assert.Equal(t, "facebook", batch.ReferrerCategory)
	assert.Equal(t, UTM{Source: "fb", Campaign: "spring"}, batch.UTM, "UTM comes from the first event only")
	assert.Equal(t, 2, batch.PageViews())

	require.Len(t, batch.Events, 3)
	assert.Equal(t, "/villages/obidos", batch.Events[0].Path)
	assert.Equal(t, "/marketplace", batch.Events[1].Path)
	assert.JSONEq(t, `{"label":"cta"}`, batch.Events[2].MetadataJSON)

	t.Run("falls back to the event user agent", func(t *testing.T) {
		b, err := Normalize([]RawEvent{{EventType: "page_view", UserAgent: "Mozilla/5.0 Firefox/120.0"}}, "")
		require.NoError(t, err)
		assert.Equal(t, "firefox", b.Browser)
		assert.Equal(t, "direct", b.ReferrerCategory)
	})

	t.Run("empty event type rejects the batch", func(t *testing.T) {
		_, err := Normalize([]RawEvent{{EventType: "page_view"}, {EventType: "  "}}, ua)
		assert.True(t, errors.Is(err, ErrInvalidEvent))
	})
}

func TestCleanPath(t *testing.T) {
	tests := map[string]string{
		"":                                  "/",
		"/":                                 "/",
		"/booking/42?step=2":                "/booking/42",
		"/faq#visas":                        "/faq",
		"https://visit.example.com/tours?x": "/tours",
		"https://visit.example.com":         "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanPath(in), "CleanPath(%q)", in)
	}
}

func TestParseUTM(t *testing.T) {
	utm := ParseUTM("/land?utm_source=google&utm_medium=cpc&utm_campaign=summer&utm_term=beach&utm_content=ad1")
	assert.Equal(t, UTM{Source: "google", Medium: "cpc", Campaign: "summer", Term: "beach", Content: "ad1"}, utm)
	assert.Equal(t, UTM{}, ParseUTM("/plain"))
}

func TestRawEventToken(t *testing.T) {
	tests := []struct {
		name  string
		event RawEvent
		want  string
	}{
		{"session_token", RawEvent{SessionToken: "tok-1"}, "tok-1"},
		{"legacy session_id", RawEvent{SessionID: "sid-1"}, "sid-1"},
		{"token wins over id", RawEvent{SessionToken: "tok-1", SessionID: "sid-1"}, "tok-1"},
		{"blank token falls back", RawEvent{SessionToken: "  ", SessionID: "sid-1"}, "sid-1"},
		{"neither", RawEvent{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.Token())
		})
	}
}

package reports_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitlens/internal/events"
	"visitlens/internal/funnels"
	"visitlens/internal/reports"
	"visitlens/internal/testsupport"
	"visitlens/internal/timeframe"
	"visitlens/internal/visits"
)

func TestBuildDatasets(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	day := time.Date(2024, 11, 4, 10, 0, 0, 0, time.UTC)
	rng := timeframe.Range{Start: timeframe.Day(day), End: timeframe.Day(day).AddDate(0, 0, 1)}

	t.Run("summary has one row per day", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		conv := testsupport.PageView("s1", "id-1", "/thanks", day)
		conv.EventType = string(events.EventTypeConversion)
		testsupport.InsertEvents(t, db,
			testsupport.PageView("s1", "id-1", "/", day),
			testsupport.PageView("s2", "id-2", "/", day),
			conv,
		)
		testsupport.InsertVisits(t, db, "/", day, "id-1", "id-2")

		ds, err := reports.Build(db, reports.Query{Type: reports.TypeSummary, Range: rng})
		require.NoError(t, err)

		assert.Equal(t, "visitlens-summary-2024-11-04-to-2024-11-05", ds.Name)
		assert.Equal(t, []string{"date", "unique_visitors", "sessions", "page_views", "conversions", "clicks"}, ds.Columns)
		require.Len(t, ds.Rows, 2)
		assert.Equal(t, []string{"2024-11-04", "2", "2", "2", "1", "0"}, ds.Rows[0])
		assert.Equal(t, []string{"2024-11-05", "0", "0", "0", "0", "0"}, ds.Rows[1])
	})

	t.Run("detailed lists raw events in order", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		testsupport.InsertEvents(t, db,
			testsupport.PageView("s1", "id-1", "/b", day.Add(time.Minute)),
			testsupport.PageView("s1", "id-1", "/a", day),
		)

		ds, err := reports.Build(db, reports.Query{Type: reports.TypeDetailed, Range: rng})
		require.NoError(t, err)
		require.Equal(t, 2, ds.Len())
		assert.Equal(t, "/a", ds.Records()[0]["page_path"])
		assert.Equal(t, "2024-11-04T10:00:00Z", ds.Records()[0]["created_at"])
		assert.Equal(t, "/b", ds.Records()[1]["page_path"])
	})

	t.Run("geo resolves country names", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		for _, v := range []visits.Visit{
			{IdentityHash: "a", PageSlug: "/", Country: "pt", At: day},
			{IdentityHash: "b", PageSlug: "/", Country: "pt", At: day},
			{IdentityHash: "a", PageSlug: "/pricing", Country: "pt", At: day},
			{IdentityHash: "c", PageSlug: "/", Country: "", At: day},
		} {
			_, err := visits.Record(db, v)
			require.NoError(t, err)
		}

		ds, err := reports.Build(db, reports.Query{Type: reports.TypeGeo, Range: rng})
		require.NoError(t, err)
		require.Len(t, ds.Rows, 2)
		assert.Equal(t, []string{"pt", "Portugal", "2"}, ds.Rows[0])
		assert.Equal(t, []string{"unknown", "UNKNOWN", "1"}, ds.Rows[1])
	})

	t.Run("funnel flattens step results", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		require.NoError(t, db.Create(&funnels.Result{
			FunnelID:       3,
			ResultDate:     "2024-11-04",
			Status:         funnels.StatusCompleted,
			TotalSessions:  10,
			ConversionRate: 20,
			StepResults: []funnels.StepResult{
				{Name: "Landing", Pattern: "/", Count: 10},
				{Name: "Signup", Pattern: "/signup", Count: 2, DropOff: 8},
			},
		}).Error)

		ds, err := reports.Build(db, reports.Query{Type: reports.TypeFunnel, Range: rng, FunnelID: 3})
		require.NoError(t, err)
		require.Len(t, ds.Rows, 2)
		assert.Equal(t, []string{"2024-11-04", "3", "Signup", "/signup", "2", "8", "10", "20.00"}, ds.Rows[1])
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := reports.Build(db, reports.Query{Type: "cohort", Range: rng})
		assert.ErrorIs(t, err, reports.ErrUnknownType)
	})
}

func TestDatasetEncoding(t *testing.T) {
	ds := &reports.Dataset{
		Name:    "visitlens-geo-2024-11-01-to-2024-11-07",
		Columns: []string{"country_code", "country_name", "visitors"},
		Rows:    [][]string{{"pt", "Portugal", "2"}, {"us", "United States", "1"}},
	}

	t.Run("csv", func(t *testing.T) {
		body, contentType, err := ds.Encode(reports.FormatCSV)
		require.NoError(t, err)
		assert.Equal(t, "text/csv", contentType)
		lines := strings.Split(strings.TrimSpace(string(body)), "\n")
		assert.Equal(t, []string{"country_code,country_name,visitors", "pt,Portugal,2", "us,United States,1"}, lines)
		assert.Equal(t, "visitlens-geo-2024-11-01-to-2024-11-07.csv", ds.Filename(reports.FormatCSV))
	})

	t.Run("json", func(t *testing.T) {
		body, contentType, err := ds.Encode(reports.FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, "application/json", contentType)
		var got []map[string]string
		require.NoError(t, json.Unmarshal(body, &got))
		require.Len(t, got, 2)
		assert.Equal(t, "United States", got[1]["country_name"])
	})

	t.Run("unknown format", func(t *testing.T) {
		_, _, err := ds.Encode("xml")
		assert.Error(t, err)
	})
}

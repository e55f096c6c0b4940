package timeframe_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitlens/internal/timeframe"
)

var fixedNow = time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)

func TestNamed(t *testing.T) {
	testCases := []struct {
		label timeframe.RangeLabel
		start string
		end   string
	}{
		{timeframe.RangeLabelToday, "2024-03-15", "2024-03-15"},
		{timeframe.RangeLabelYesterday, "2024-03-14", "2024-03-14"},
		{timeframe.RangeLabelLast7Days, "2024-03-09", "2024-03-15"},
		{timeframe.RangeLabelLast30Days, "2024-02-15", "2024-03-15"},
		{timeframe.RangeLabelThisMonth, "2024-03-01", "2024-03-15"},
		{timeframe.RangeLabelLastMonth, "2024-02-01", "2024-02-29"},
	}

	for _, tc := range testCases {
		t.Run(string(tc.label), func(t *testing.T) {
			r, err := timeframe.Named(tc.label, fixedNow)
			require.NoError(t, err)
			assert.Equal(t, tc.start, r.StartDate())
			assert.Equal(t, tc.end, r.EndDate())
		})
	}

	t.Run("unknown label", func(t *testing.T) {
		_, err := timeframe.Named("fortnight", fixedNow)
		assert.Error(t, err)
	})
}

func TestParseRange(t *testing.T) {
	t.Run("defaults to trailing window", func(t *testing.T) {
		r, err := timeframe.ParseRange("", "", fixedNow, 7)
		require.NoError(t, err)
		assert.Equal(t, "2024-03-09", r.StartDate())
		assert.Equal(t, "2024-03-15", r.EndDate())
		assert.Equal(t, 7, r.Days())
	})

	t.Run("explicit dates", func(t *testing.T) {
		r, err := timeframe.ParseRange("2024-01-01", "2024-01-31", fixedNow, 7)
		require.NoError(t, err)
		assert.Equal(t, 31, r.Days())
		assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), r.Until())
	})

	t.Run("rejects inverted range", func(t *testing.T) {
		_, err := timeframe.ParseRange("2024-02-01", "2024-01-01", fixedNow, 7)
		assert.Error(t, err)
	})

	t.Run("rejects malformed date", func(t *testing.T) {
		_, err := timeframe.ParseRange("01/02/2024", "", fixedNow, 7)
		assert.Error(t, err)
	})
}

func TestShift(t *testing.T) {
	today := timeframe.SingleDay(fixedNow)

	day, err := today.Shift(timeframe.PreviousDay)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-14", day.StartDate())

	week, err := today.Shift(timeframe.PreviousWeek)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-08", week.StartDate())

	month, err := today.Shift(timeframe.PreviousMonth)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-15", month.StartDate())

	_, err = today.Shift("previous_century")
	assert.Error(t, err)
}

func TestDates(t *testing.T) {
	r, err := timeframe.NewRange(time.Date(2024, 2, 28, 15, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-28", "2024-02-29", "2024-03-01"}, r.Dates())
}

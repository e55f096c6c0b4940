package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"
	"gorm.io/gorm"

	"visitlens/internal/analytics"
	"visitlens/internal/heatmap"
	"visitlens/internal/timeframe"
)

const summaryCacheTTL = 60 * time.Second

// SummaryCache memoizes summaries per (start, end, page, today).
type SummaryCache struct {
	cache *cache.Cache[string, *analytics.Summary]
	now   func() time.Time
}

// NewSummaryCache builds a summary cache reading from db.
func NewSummaryCache(db *gorm.DB, logger *slog.Logger, now func() time.Time) *SummaryCache {
	if now == nil {
		now = time.Now
	}
	fetch := func(key string) (*analytics.Summary, error) {
		p, err := decodeSummaryKey(key)
		if err != nil {
			return nil, err
		}
		return analytics.GetSummary(context.Background(), db, logger, p)
	}
	return &SummaryCache{
		cache: cache.NewCache[string, *analytics.Summary](logger, summaryCacheTTL, fetch),
		now:   now,
	}
}

// Get returns the cached summary for the range.
func (s *SummaryCache) Get(r timeframe.Range, pageSlug string) (*analytics.Summary, error) {
	return s.cache.Get(summaryKey(r, pageSlug, s.now()))
}

// Clear drops every cached summary.
func (s *SummaryCache) Clear() {
	s.cache.Clear()
}

func summaryKey(r timeframe.Range, pageSlug string, now time.Time) string {
	return strings.Join([]string{r.StartDate(), r.EndDate(), timeframe.DateString(now), pageSlug}, "|")
}

func decodeSummaryKey(key string) (analytics.SummaryParams, error) {
	parts := strings.SplitN(key, "|", 4)
	if len(parts) != 4 {
		return analytics.SummaryParams{}, fmt.Errorf("malformed summary key %q", key)
	}
	r, err := timeframe.ParseRange(parts[0], parts[1], time.Now(), 1)
	if err != nil {
		return analytics.SummaryParams{}, err
	}
	today, err := timeframe.ParseDate(parts[2], time.Now())
	if err != nil {
		return analytics.SummaryParams{}, err
	}
	return analytics.SummaryParams{Range: r, Today: timeframe.SingleDay(today), PageSlug: parts[3]}, nil
}

// AnalyticsSummaryAction answers the summary query for start/end/page_slug.
func AnalyticsSummaryAction(summaries *SummaryCache) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		r, err := timeframe.ParseRange(ctx.Query("start"), ctx.Query("end"), summaries.now(), 7)
		if err != nil {
			return badRequest(ctx, err.Error())
		}

		summary, err := summaries.Get(r, strings.TrimSpace(ctx.Query("page_slug")))
		if err != nil {
			return serverError(ctx, "summary", err)
		}
		return ctx.JSON(summary)
	}
}

// AnalyticsHeatmapAction lists heatmap buckets for a page and day.
func AnalyticsHeatmapAction(ctx *cartridge.Context) error {
	pageSlug := strings.TrimSpace(ctx.Query("page_slug"))
	if pageSlug == "" {
		return badRequest(ctx, "page_slug is required")
	}

	day, err := timeframe.ParseDate(ctx.Query("date"), time.Now())
	if err != nil {
		return badRequest(ctx, err.Error())
	}

	buckets, err := heatmap.Buckets(ctx.DB(), pageSlug, day)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return serverError(ctx, "heatmap", err)
	}
	if buckets == nil {
		buckets = []heatmap.Bucket{}
	}

	return ctx.JSON(map[string]any{
		"page_slug": pageSlug,
		"date":      timeframe.DateString(day),
		"buckets":   buckets,
	})
}

// Package analytics answers read-side questions over the ingestion tables:
// the dashboard summary and single metric values used by alerts and reports.
package analytics

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"visitlens/internal/events"
	"visitlens/internal/pkg/async"
	"visitlens/internal/timeframe"
	"visitlens/internal/visits"
)

// MetricCountResult represents a generic key-count pair for query results
type MetricCountResult struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// SummaryParams selects the window and optional page for a summary.
type SummaryParams struct {
	Range    timeframe.Range
	Today    timeframe.Range
	PageSlug string
	Limit    int
}

// Summary is the dashboard aggregate for a date range.
type Summary struct {
	StartDate           string              `json:"start_date"`
	EndDate             string              `json:"end_date"`
	PageSlug            string              `json:"page_slug,omitempty"`
	UniqueVisitors      int64               `json:"unique_visitors"`
	UniqueVisitorsToday int64               `json:"unique_visitors_today"`
	Sessions            int64               `json:"sessions"`
	PageViews           int64               `json:"page_views"`
	Conversions         int64               `json:"conversions"`
	Devices             []MetricCountResult `json:"devices"`
	TopPages            []MetricCountResult `json:"top_pages"`
	TopReferrers        []MetricCountResult `json:"top_referrers"`
}

const defaultTopLimit = 10

// GetSummary runs the summary sub-queries concurrently.
func GetSummary(ctx context.Context, db *gorm.DB, logger *slog.Logger, p SummaryParams) (*Summary, error) {
	if p.Limit <= 0 {
		p.Limit = defaultTopLimit
	}

	count := func(name string, fn func() (int64, error)) async.Task {
		return async.Task{Name: name, Execute: func() (interface{}, error) {
			n, err := fn()
			if err != nil {
				logger.Error("Error fetching summary metric", slog.String("metric", name), slog.Any("error", err))
			}
			return n, err
		}}
	}
	top := func(name string, fn func() ([]MetricCountResult, error)) async.Task {
		return async.Task{Name: name, Execute: func() (interface{}, error) {
			rows, err := fn()
			if err != nil {
				logger.Error("Error fetching summary breakdown", slog.String("metric", name), slog.Any("error", err))
			}
			return rows, err
		}}
	}

	tasks := []async.Task{
		count("uniqueVisitors", func() (int64, error) { return visits.CountVisitors(db, p.Range, p.PageSlug) }),
		count("uniqueVisitorsToday", func() (int64, error) { return visits.CountVisitors(db, p.Today, p.PageSlug) }),
		count("sessions", func() (int64, error) { return MetricValue(db, MetricSessions, p.Range, p.PageSlug) }),
		count("pageViews", func() (int64, error) { return MetricValue(db, MetricPageViews, p.Range, p.PageSlug) }),
		count("conversions", func() (int64, error) { return MetricValue(db, MetricConversions, p.Range, p.PageSlug) }),
		top("devices", func() ([]MetricCountResult, error) { return DeviceBreakdown(db, p.Range, p.PageSlug) }),
		top("topPages", func() ([]MetricCountResult, error) { return TopPages(db, p.Range, p.Limit) }),
		top("topReferrers", func() ([]MetricCountResult, error) { return TopReferrers(db, p.Range, p.PageSlug, p.Limit) }),
	}

	results := async.NewPool(len(tasks)).Execute(ctx, tasks)
	if len(results) < len(tasks) {
		return nil, fmt.Errorf("summary cancelled: %w", ctx.Err())
	}
	for name, result := range results {
		if result.Err != nil {
			return nil, fmt.Errorf("error fetching %s: %w", name, result.Err)
		}
	}

	return &Summary{
		StartDate:           p.Range.StartDate(),
		EndDate:             p.Range.EndDate(),
		PageSlug:            p.PageSlug,
		UniqueVisitors:      results["uniqueVisitors"].Data.(int64),
		UniqueVisitorsToday: results["uniqueVisitorsToday"].Data.(int64),
		Sessions:            results["sessions"].Data.(int64),
		PageViews:           results["pageViews"].Data.(int64),
		Conversions:         results["conversions"].Data.(int64),
		Devices:             ensureNonNil(results["devices"].Data.([]MetricCountResult)),
		TopPages:            ensureNonNil(results["topPages"].Data.([]MetricCountResult)),
		TopReferrers:        ensureNonNil(results["topReferrers"].Data.([]MetricCountResult)),
	}, nil
}

// DeviceBreakdown counts unique visitors per device category.
func DeviceBreakdown(db *gorm.DB, r timeframe.Range, pageSlug string) ([]MetricCountResult, error) {
	var rows []MetricCountResult
	q := db.Model(&visits.UniqueVisit{}).
		Select("device AS name, COUNT(DISTINCT identity_hash) AS count").
		Where("visit_date >= ? AND visit_date <= ?", r.StartDate(), r.EndDate())
	if pageSlug != "" {
		q = q.Where("page_slug = ?", pageSlug)
	}
	err := q.Group("device").Order("count DESC, name ASC").Scan(&rows).Error
	return rows, err
}

// TopPages ranks pages by page views.
func TopPages(db *gorm.DB, r timeframe.Range, limit int) ([]MetricCountResult, error) {
	var rows []MetricCountResult
	err := pageViews(db, r).
		Select("page_path AS name, COUNT(*) AS count").
		Group("page_path").
		Order("count DESC, name ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// TopReferrers ranks referrer categories by page views.
func TopReferrers(db *gorm.DB, r timeframe.Range, pageSlug string, limit int) ([]MetricCountResult, error) {
	var rows []MetricCountResult
	q := pageViews(db, r)
	if pageSlug != "" {
		q = q.Where("page_path = ?", pageSlug)
	}
	err := q.Select("referrer_category AS name, COUNT(*) AS count").
		Group("referrer_category").
		Order("count DESC, name ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

func pageViews(db *gorm.DB, r timeframe.Range) *gorm.DB {
	return db.Model(&events.Event{}).
		Where("event_type = ? AND created_at >= ? AND created_at < ?", string(events.EventTypePageView), r.From(), r.Until())
}

func ensureNonNil(items []MetricCountResult) []MetricCountResult {
	if items == nil {
		return []MetricCountResult{}
	}
	return items
}

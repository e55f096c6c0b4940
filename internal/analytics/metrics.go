package analytics

import (
	"fmt"

	"gorm.io/gorm"

	"visitlens/internal/events"
	"visitlens/internal/timeframe"
	"visitlens/internal/visits"
)

// Metric names a countable quantity.
type Metric string

const (
	MetricUniqueVisitors Metric = "unique_visitors"
	MetricPageViews      Metric = "page_views"
	MetricSessions       Metric = "sessions"
	MetricConversions    Metric = "conversions"
	MetricClicks         Metric = "clicks"
)

// ValidMetric reports whether m is a supported metric.
func ValidMetric(m Metric) bool {
	switch m {
	case MetricUniqueVisitors, MetricPageViews, MetricSessions, MetricConversions, MetricClicks:
		return true
	}
	return false
}

// MetricValue computes a metric over the day range, optionally for one page.
func MetricValue(db *gorm.DB, m Metric, r timeframe.Range, pageSlug string) (int64, error) {
	if m == MetricUniqueVisitors {
		return visits.CountVisitors(db, r, pageSlug)
	}

	q := db.Model(&events.Event{}).
		Where("created_at >= ? AND created_at < ?", r.From(), r.Until())
	if pageSlug != "" {
		q = q.Where("page_path = ?", pageSlug)
	}

	var n int64
	var err error
	switch m {
	case MetricPageViews:
		err = q.Where("event_type = ?", string(events.EventTypePageView)).Count(&n).Error
	case MetricSessions:
		err = q.Distinct("session_id").Count(&n).Error
	case MetricConversions:
		err = q.Where("event_type = ?", string(events.EventTypeConversion)).Count(&n).Error
	case MetricClicks:
		err = q.Where("event_type = ?", string(events.EventTypeClick)).Count(&n).Error
	default:
		return 0, fmt.Errorf("unknown metric %q", m)
	}
	if err != nil {
		return 0, fmt.Errorf("compute %s: %w", m, err)
	}
	return n, nil
}

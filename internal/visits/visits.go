// Package visits records at most one UniqueVisit per (identity, page, day).
package visits

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"visitlens/internal/timeframe"
)

// UniqueVisit marks that an identity viewed a page on a calendar day.
type UniqueVisit struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	IdentityHash string `gorm:"uniqueIndex:idx_unique_visit;size:64;not null"`
	PageSlug     string `gorm:"uniqueIndex:idx_unique_visit;index;not null"`
	VisitDate    string `gorm:"uniqueIndex:idx_unique_visit;index;size:10;not null"`
	// SessionID is the session of the first view that day.
	SessionID        string `gorm:"index;size:128"`
	Device           string `gorm:"size:16"`
	Browser          string `gorm:"size:16"`
	ReferrerCategory string `gorm:"size:32"`
	Country          string `gorm:"size:16"`
	CreatedAt        time.Time
}

// Visit is one page view to deduplicate.
type Visit struct {
	IdentityHash     string
	PageSlug         string
	SessionID        string
	Device           string
	Browser          string
	ReferrerCategory string
	Country          string
	At               time.Time
}

// Record inserts the visit unless the same identity already viewed the page on
// that day. It reports whether a new row was created. Conflicts are absorbed by
// the unique index, so concurrent duplicates never fail the batch.
func Record(tx *gorm.DB, v Visit) (bool, error) {
	row := UniqueVisit{
		IdentityHash:     v.IdentityHash,
		PageSlug:         v.PageSlug,
		VisitDate:        timeframe.DateString(v.At),
		SessionID:        v.SessionID,
		Device:           v.Device,
		Browser:          v.Browser,
		ReferrerCategory: v.ReferrerCategory,
		Country:          v.Country,
		CreatedAt:        v.At.UTC(),
	}
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return false, fmt.Errorf("record unique visit: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CountVisitors counts distinct identities over the day range, optionally
// restricted to one page.
func CountVisitors(db *gorm.DB, r timeframe.Range, pageSlug string) (int64, error) {
	var n int64
	q := db.Model(&UniqueVisit{}).
		Where("visit_date >= ? AND visit_date <= ?", r.StartDate(), r.EndDate())
	if pageSlug != "" {
		q = q.Where("page_slug = ?", pageSlug)
	}
	err := q.Distinct("identity_hash").Count(&n).Error
	return n, err
}

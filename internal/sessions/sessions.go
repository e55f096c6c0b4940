// Package sessions maintains one row per browser session, created on the
// first batch that names it and touched by every later batch.
package sessions

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is the persisted Session record.
type Session struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	SessionID        string    `gorm:"uniqueIndex;size:128;not null"`
	IdentityHash     string    `gorm:"index;size:64;not null"`
	UserAgent        string    `gorm:"type:text"`
	Device           string    `gorm:"index;size:16"`
	Browser          string    `gorm:"size:16"`
	ReferrerCategory string    `gorm:"index;size:32"`
	StartedAt        time.Time `gorm:"index;not null"`
	LastActivityAt   time.Time `gorm:"not null"`
	PageCount        int       `gorm:"not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Touch describes one batch's contribution to a session.
type Touch struct {
	SessionID        string
	IdentityHash     string
	UserAgent        string
	Device           string
	Browser          string
	ReferrerCategory string
	PageViews        int
	At               time.Time
}

// NewToken returns a fresh server-generated session token.
func NewToken() string {
	return uuid.NewString()
}

// Upsert creates the session on first sight or advances last activity and the
// page count. The increment is applied by the database so concurrent batches
// for the same session never lose updates.
func Upsert(tx *gorm.DB, t Touch) error {
	if t.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	at := t.At.UTC()
	query := `
		INSERT INTO sessions (session_id, identity_hash, user_agent, device, browser, referrer_category,
			started_at, last_activity_at, page_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			last_activity_at = excluded.last_activity_at,
			page_count = sessions.page_count + excluded.page_count,
			updated_at = excluded.updated_at
	`
	err := tx.Exec(query,
		t.SessionID, t.IdentityHash, t.UserAgent, t.Device, t.Browser, t.ReferrerCategory,
		at, at, t.PageViews, at, at,
	).Error
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", t.SessionID, err)
	}
	return nil
}

// Find loads a session by its token.
func Find(db *gorm.DB, sessionID string) (*Session, error) {
	var s Session
	if err := db.Where("session_id = ?", sessionID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CountStarted counts sessions started within [from, until).
func CountStarted(db *gorm.DB, from, until time.Time) (int64, error) {
	var n int64
	err := db.Model(&Session{}).
		Where("started_at >= ? AND started_at < ?", from.UTC(), until.UTC()).
		Count(&n).Error
	return n, err
}

package events

import (
	"strings"
	"time"
)

// EventType is the kind of interaction a tracked event represents.
type EventType string

const (
	EventTypePageView   EventType = "page_view"
	EventTypeClick      EventType = "click"
	EventTypeScroll     EventType = "scroll"
	EventTypeConversion EventType = "conversion"
)

// MaxBatchSize is the largest batch accepted by Track.
const MaxBatchSize = 100

// RawEvent is one event as posted by the browser tracker.
type RawEvent struct {
	EventType      string   `json:"event_type"`
	PagePath       string   `json:"page_path"`
	PageTitle      string   `json:"page_title,omitempty"`
	ElementID      string   `json:"element_id,omitempty"`
	ElementClass   string   `json:"element_class,omitempty"`
	ClickX         *float64 `json:"click_x,omitempty"`
	ClickY         *float64 `json:"click_y,omitempty"`
	ViewportWidth  *int     `json:"viewport_width,omitempty"`
	ViewportHeight *int     `json:"viewport_height,omitempty"`
	ScrollDepth    *float64 `json:"scroll_depth,omitempty"`
	Referrer       string   `json:"referrer,omitempty"`
	UserAgent      string   `json:"user_agent,omitempty"`
	SessionToken   string   `json:"session_token,omitempty"`
	// SessionID is the older name for SessionToken, still sent by early trackers.
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Token returns the client session token, preferring session_token.
func (e RawEvent) Token() string {
	if t := strings.TrimSpace(e.SessionToken); t != "" {
		return t
	}
	return strings.TrimSpace(e.SessionID)
}

// UTM holds campaign attribution parsed from a landing path.
type UTM struct {
	Source   string
	Medium   string
	Campaign string
	Term     string
	Content  string
}

// Event is the persisted, append-only event record.
type Event struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	SessionID        string    `gorm:"index;size:128;not null"`
	IdentityHash     string    `gorm:"index;size:64;not null"`
	EventType        string    `gorm:"index:idx_events_type_created;size:32;not null"`
	PagePath         string    `gorm:"index;not null"`
	PageTitle        string    `gorm:"type:text"`
	ElementID        string    `gorm:"size:255"`
	ElementClass     string    `gorm:"size:255"`
	ClickX           *float64  `gorm:"column:click_x"`
	ClickY           *float64  `gorm:"column:click_y"`
	ViewportWidth    *int      `gorm:"column:viewport_width"`
	ViewportHeight   *int      `gorm:"column:viewport_height"`
	ScrollDepth      *float64  `gorm:"column:scroll_depth"`
	ReferrerHost     string    `gorm:"size:255"`
	ReferrerCategory string    `gorm:"index;size:32"`
	Device           string    `gorm:"index;size:16"`
	Browser          string    `gorm:"size:16"`
	Country          string    `gorm:"index;size:16"`
	UTMSource        string    `gorm:"column:utm_source"`
	UTMMedium        string    `gorm:"column:utm_medium"`
	UTMCampaign      string    `gorm:"column:utm_campaign"`
	UTMTerm          string    `gorm:"column:utm_term"`
	UTMContent       string    `gorm:"column:utm_content"`
	Metadata         string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"index:idx_events_type_created;not null"`
}

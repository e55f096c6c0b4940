// Package heatmap accumulates sampled click coordinates into 50px buckets.
package heatmap

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gorm.io/gorm"

	"visitlens/internal/timeframe"
)

// BucketSize is the grid cell edge in CSS pixels.
const BucketSize = 50

// DefaultViewportWidth is assumed when a click omits its viewport width.
const DefaultViewportWidth = 1920

// Bucket is one HeatmapBucket row.
type Bucket struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	PageSlug      string    `gorm:"uniqueIndex:idx_heatmap_bucket;not null" json:"page_slug"`
	AggregateDate string    `gorm:"uniqueIndex:idx_heatmap_bucket;size:10;not null" json:"aggregate_date"`
	BucketX       int       `gorm:"uniqueIndex:idx_heatmap_bucket;not null" json:"bucket_x"`
	BucketY       int       `gorm:"uniqueIndex:idx_heatmap_bucket;not null" json:"bucket_y"`
	ViewportWidth int       `gorm:"uniqueIndex:idx_heatmap_bucket;not null" json:"viewport_width"`
	ClickCount    int       `gorm:"not null;default:0" json:"click_count"`
	ElementID     *string   `json:"element_id,omitempty"`
	CreatedAt     time.Time `json:"-"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (Bucket) TableName() string {
	return "heatmap_buckets"
}

// Click is a click event eligible for aggregation.
type Click struct {
	PageSlug      string
	X             float64
	Y             float64
	ViewportWidth int
	ElementID     string
	At            time.Time
}

// Config controls collection. SampleRate is the probability in [0,1] that a
// click is admitted.
type Config struct {
	Enabled    bool
	SampleRate float64
}

// Aggregator decides which clicks are sampled and writes admitted ones.
type Aggregator struct {
	cfg  Config
	rand func() float64
}

// NewAggregator builds an Aggregator. A nil random source uses math/rand/v2.
func NewAggregator(cfg Config, random func() float64) *Aggregator {
	if random == nil {
		random = rand.Float64
	}
	cfg.SampleRate = math.Max(0, math.Min(1, cfg.SampleRate))
	return &Aggregator{cfg: cfg, rand: random}
}

// Enabled reports whether heatmap collection is active.
func (a *Aggregator) Enabled() bool {
	return a.cfg.Enabled && a.cfg.SampleRate > 0
}

// Admit draws the sampling decision for one click.
func (a *Aggregator) Admit() bool {
	if !a.Enabled() {
		return false
	}
	return a.rand() < a.cfg.SampleRate
}

// BucketFor maps a coordinate to the lower edge of its grid cell.
func BucketFor(v float64) int {
	return int(math.Floor(v/BucketSize)) * BucketSize
}

// Increment adds one click to its bucket, creating the row if needed. The add
// happens inside the database statement so concurrent clicks on the same
// bucket are all counted.
func Increment(tx *gorm.DB, c Click) error {
	vw := c.ViewportWidth
	if vw <= 0 {
		vw = DefaultViewportWidth
	}
	var elementID *string
	if c.ElementID != "" {
		elementID = &c.ElementID
	}
	at := c.At.UTC()

	query := `
		INSERT INTO heatmap_buckets (page_slug, aggregate_date, bucket_x, bucket_y, viewport_width,
			click_count, element_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (page_slug, aggregate_date, bucket_x, bucket_y, viewport_width) DO UPDATE SET
			click_count = heatmap_buckets.click_count + 1,
			element_id = COALESCE(excluded.element_id, heatmap_buckets.element_id),
			updated_at = excluded.updated_at
	`
	err := tx.Exec(query,
		c.PageSlug, timeframe.DateString(at), BucketFor(c.X), BucketFor(c.Y), vw,
		elementID, at, at,
	).Error
	if err != nil {
		return fmt.Errorf("increment heatmap bucket: %w", err)
	}
	return nil
}

// Buckets returns every bucket for a page on a day, hottest first.
func Buckets(db *gorm.DB, pageSlug string, day time.Time) ([]Bucket, error) {
	var out []Bucket
	err := db.Where("page_slug = ? AND aggregate_date = ?", pageSlug, timeframe.DateString(day)).
		Order("click_count DESC, bucket_y ASC, bucket_x ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query heatmap buckets: %w", err)
	}
	return out, nil
}

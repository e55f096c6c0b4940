package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"visitlens/internal/heatmap"
	"visitlens/internal/identity"
	"visitlens/internal/metrics"
	"visitlens/internal/pkg/geoip"
	"visitlens/internal/pkg/referrers"
	"visitlens/internal/sessions"
	"visitlens/internal/visits"
)

// CountryLocator resolves a client address to a country code.
type CountryLocator interface {
	Country(address string) string
}

// TrackerConfig is everything the ingestion path needs from configuration,
// captured once at construction.
type TrackerConfig struct {
	IdentitySalt string
	Heatmap      heatmap.Config
	// Random overrides the sampling source; nil uses math/rand/v2.
	Random func() float64
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Tracker runs the ingestion pipeline for one batch.
type Tracker struct {
	db         *gorm.DB
	logger     *slog.Logger
	anonymizer *identity.Anonymizer
	heatmap    *heatmap.Aggregator
	geo        CountryLocator
	now        func() time.Time
}

// NewTracker builds a Tracker. geo may be nil.
func NewTracker(db *gorm.DB, logger *slog.Logger, cfg TrackerConfig, geo CountryLocator) *Tracker {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		db:         db,
		logger:     logger,
		anonymizer: identity.NewAnonymizer(cfg.IdentitySalt),
		heatmap:    heatmap.NewAggregator(cfg.Heatmap, cfg.Random),
		geo:        geo,
		now:        now,
	}
}

// TrackInput is one ingestion request.
type TrackInput struct {
	Events        []RawEvent
	UserAgent     string
	ClientAddress string
}

// TrackResult summarizes what a batch produced.
type TrackResult struct {
	SessionID     string `json:"session_id"`
	EventsTracked int    `json:"events_tracked"`
	UniqueVisits  int    `json:"unique_visits"`
	HeatmapClicks int    `json:"heatmap_clicks"`
}

// Track validates, anonymizes and persists a batch. Invalid batches are
// rejected before anything is written; a valid batch is committed as a unit.
func (t *Tracker) Track(ctx context.Context, in TrackInput) (*TrackResult, error) {
	batch, err := Normalize(in.Events, in.UserAgent)
	if err != nil {
		metrics.BatchesRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	started := time.Now()
	now := t.now().UTC()
	identityHash := t.anonymizer.Hash(in.ClientAddress)
	country := geoip.UnknownCountry
	if t.geo != nil {
		country = t.geo.Country(in.ClientAddress)
	}

	sessionID := in.Events[0].Token()
	if sessionID == "" {
		sessionID = sessions.NewToken()
	}

	records := make([]Event, 0, len(batch.Events))
	var clicks []heatmap.Click
	for _, e := range batch.Events {
		records = append(records, t.buildRecord(e, batch, sessionID, identityHash, country, now))

		if e.EventType != string(EventTypeClick) || e.ClickX == nil || e.ClickY == nil {
			continue
		}
		if !t.heatmap.Admit() {
			metrics.HeatmapClicks.WithLabelValues("sampled_out").Inc()
			continue
		}
		metrics.HeatmapClicks.WithLabelValues("admitted").Inc()
		vw := 0
		if e.ViewportWidth != nil {
			vw = *e.ViewportWidth
		}
		clicks = append(clicks, heatmap.Click{
			PageSlug:      e.Path,
			X:             *e.ClickX,
			Y:             *e.ClickY,
			ViewportWidth: vw,
			ElementID:     e.ElementID,
			At:            now,
		})
	}

	result := &TrackResult{SessionID: sessionID, EventsTracked: len(records), HeatmapClicks: len(clicks)}

	err = sqlite.PerformWrite(t.logger, t.db.WithContext(ctx), func(tx *gorm.DB) error {
		if err := sessions.Upsert(tx, sessions.Touch{
			SessionID:        sessionID,
			IdentityHash:     identityHash,
			UserAgent:        in.UserAgent,
			Device:           batch.Device,
			Browser:          batch.Browser,
			ReferrerCategory: batch.ReferrerCategory,
			PageViews:        batch.PageViews(),
			At:               now,
		}); err != nil {
			return err
		}

		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("append events: %w", err)
		}

		for _, e := range batch.Events {
			if e.EventType != string(EventTypePageView) {
				continue
			}
			created, err := visits.Record(tx, visits.Visit{
				IdentityHash:     identityHash,
				PageSlug:         e.Path,
				SessionID:        sessionID,
				Device:           batch.Device,
				Browser:          batch.Browser,
				ReferrerCategory: batch.ReferrerCategory,
				Country:          country,
				At:               now,
			})
			if err != nil {
				return err
			}
			if created {
				result.UniqueVisits++
			}
		}

		for _, c := range clicks {
			if err := heatmap.Increment(tx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	for _, r := range records {
		metrics.EventsIngested.WithLabelValues(r.EventType).Inc()
	}
	metrics.IngestDuration.Observe(time.Since(started).Seconds())

	t.logger.Debug("Batch tracked",
		slog.String("session_id", sessionID),
		slog.Int("events", result.EventsTracked),
		slog.Int("unique_visits", result.UniqueVisits),
		slog.Int("heatmap_clicks", result.HeatmapClicks))

	return result, nil
}

func (t *Tracker) buildRecord(e NormalizedEvent, b *Batch, sessionID, identityHash, country string, now time.Time) Event {
	return Event{
		SessionID:        sessionID,
		IdentityHash:     identityHash,
		EventType:        e.EventType,
		PagePath:         e.Path,
		PageTitle:        e.PageTitle,
		ElementID:        e.ElementID,
		ElementClass:     e.ElementClass,
		ClickX:           e.ClickX,
		ClickY:           e.ClickY,
		ViewportWidth:    e.ViewportWidth,
		ViewportHeight:   e.ViewportHeight,
		ScrollDepth:      e.ScrollDepth,
		ReferrerHost:     referrers.Host(e.Referrer),
		ReferrerCategory: b.ReferrerCategory,
		Device:           b.Device,
		Browser:          b.Browser,
		Country:          country,
		UTMSource:        b.UTM.Source,
		UTMMedium:        b.UTM.Medium,
		UTMCampaign:      b.UTM.Campaign,
		UTMTerm:          b.UTM.Term,
		UTMContent:       b.UTM.Content,
		Metadata:         e.MetadataJSON,
		CreatedAt:        now,
	}
}

func rejectReason(err error) string {
	switch err {
	case ErrEmptyBatch:
		return "empty"
	case ErrBatchTooLarge:
		return "too_large"
	default:
		return "invalid"
	}
}

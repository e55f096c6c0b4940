// Package seeder generates realistic sample traffic by driving the ingestion
// pipeline, so seeded data goes through the same anonymization, session and
// aggregation paths as real requests.
package seeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"gorm.io/gorm"

	"visitlens/internal/events"
	"visitlens/internal/funnels"
	"visitlens/internal/heatmap"
	"visitlens/internal/timeframe"
)

// Seeder replays synthetic browsing sessions through events.Tracker.
type Seeder struct {
	DB       *gorm.DB
	Logger   *slog.Logger
	Sessions int
	Days     int
	Salt     string

	clock time.Time
}

// Summary reports what a seeding run produced.
type Summary struct {
	Sessions int
	Events   int
	Visits   int
	Clicks   int
}

// NewSeeder creates a seeder spreading sessions over the last days.
func NewSeeder(db *gorm.DB, logger *slog.Logger, salt string, sessions, days int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	if days < 1 {
		days = 1
	}
	return &Seeder{
		DB:       db,
		Logger:   logger,
		Sessions: sessions,
		Days:     days,
		Salt:     salt,
	}
}

// journeyTemplates are page sequences a visitor walks through
var journeyTemplates = [][]string{
	{"/", "/about", "/contact"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog", "/blog/article-1", "/signup"},
	{"/pricing", "/features", "/signup"},
	{"/", "/products", "/products/widget-a", "/products/gadget-b", "/pricing"},
	{"/", "/docs", "/docs/getting-started", "/docs/api-reference"},
	{"/", "/blog", "/blog/article-1", "/blog/article-2"},
	{"/", "/signup"},
	{"/", "/features", "/pricing", "/docs", "/signup"},
	{"/products", "/products/widget-a", "/pricing", "/signup"},
	{"/blog/article-1", "/about", "/pricing", "/signup"},
}

var conversionEvents = []map[string]any{
	{"goal": "newsletter_signup", "source": "footer"},
	{"goal": "account_created", "plan": "free"},
	{"goal": "demo_requested", "plan": "enterprise"},
	{"goal": "free_trial_started", "plan": "pro"},
}

var viewports = []int{375, 768, 1280, 1440, 1920}

// Run seeds the sample funnel and the configured number of sessions.
func (s *Seeder) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	s.Logger.Info("Seeding sample traffic...", slog.Int("sessions", s.Sessions), slog.Int("days", s.Days))

	if err := s.seedFunnel(); err != nil {
		return nil, err
	}

	tracker := events.NewTracker(s.DB, s.Logger, events.TrackerConfig{
		IdentitySalt: s.Salt,
		Heatmap:      heatmap.Config{Enabled: true, SampleRate: 1},
		Now:          func() time.Time { return s.clock },
	}, nil)

	ipPool := generateIPPool(max(s.Sessions/2, 1))
	userAgents := getUserAgents()
	referrers := getReferrers()
	today := timeframe.Day(time.Now())

	summary := &Summary{}
	for i := 0; i < s.Sessions; i++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		day := today.AddDate(0, 0, -rand.IntN(s.Days))
		s.clock = day.Add(time.Duration(rand.IntN(86400)) * time.Second)

		batch := buildJourney(fmt.Sprintf("seed-%d-%d", time.Now().UnixNano(), i), referrers[rand.IntN(len(referrers))])
		result, err := tracker.Track(ctx, events.TrackInput{
			Events:        batch,
			UserAgent:     userAgents[rand.IntN(len(userAgents))],
			ClientAddress: ipPool[rand.IntN(len(ipPool))],
		})
		if err != nil {
			return summary, fmt.Errorf("seed session %d: %w", i, err)
		}

		summary.Sessions++
		summary.Events += result.EventsTracked
		summary.Visits += result.UniqueVisits
		summary.Clicks += result.HeatmapClicks
	}

	s.Logger.Info("Seeding completed",
		slog.Int("sessions", summary.Sessions),
		slog.Int("events", summary.Events),
		slog.Int("unique_visits", summary.Visits),
		slog.Int("heatmap_clicks", summary.Clicks),
		slog.Duration("elapsed", time.Since(start)))
	return summary, nil
}

// seedFunnel creates the signup funnel unless one with that name exists.
func (s *Seeder) seedFunnel() error {
	var existing funnels.Funnel
	err := s.DB.Where("name = ?", "Signup").First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to look up funnel: %w", err)
	}
	return funnels.Create(s.DB, &funnels.Funnel{
		Name:        "Signup",
		Description: "Landing to signup",
		Steps: []funnels.Step{
			{Name: "Landing", PathPattern: "/"},
			{Name: "Pricing", PathPattern: "/pricing"},
			{Name: "Signup", PathPattern: "/signup"},
		},
	})
}

// buildJourney turns a random template into one batch.
func buildJourney(sessionID, referrer string) []events.RawEvent {
	journey := journeyTemplates[rand.IntN(len(journeyTemplates))]
	vw := viewports[rand.IntN(len(viewports))]
	vh := vw * 9 / 16

	var batch []events.RawEvent
	for i, page := range journey {
		path := page
		ref := ""
		if i == 0 {
			path = addUTMParams(addQueryParams(page))
			ref = referrer
		}
		batch = append(batch, events.RawEvent{
			EventType:      string(events.EventTypePageView),
			PagePath:       path,
			Referrer:       ref,
			SessionToken:   sessionID,
			ViewportWidth:  &vw,
			ViewportHeight: &vh,
		})

		if rand.IntN(2) == 0 {
			x := rand.Float64() * float64(vw)
			y := rand.Float64() * float64(vh) * 2
			batch = append(batch, events.RawEvent{
				EventType:     string(events.EventTypeClick),
				PagePath:      page,
				SessionToken:  sessionID,
				ElementID:     "cta",
				ClickX:        &x,
				ClickY:        &y,
				ViewportWidth: &vw,
			})
		}

		if rand.IntN(3) == 0 {
			depth := float64(rand.IntN(100) + 1)
			batch = append(batch, events.RawEvent{
				EventType:    string(events.EventTypeScroll),
				PagePath:     page,
				SessionToken: sessionID,
				ScrollDepth:  &depth,
			})
		}
	}

	if journey[len(journey)-1] == "/signup" && rand.IntN(2) == 0 {
		batch = append(batch, events.RawEvent{
			EventType:    string(events.EventTypeConversion),
			PagePath:     "/signup",
			SessionToken: sessionID,
			Metadata:     conversionEvents[rand.IntN(len(conversionEvents))],
		})
	}

	if len(batch) > events.MaxBatchSize {
		batch = batch[:events.MaxBatchSize]
	}
	return batch
}

func generateIPPool(count int) []string {
	ipPool := make(map[string]bool)
	var ips []string
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", rand.IntN(255)+1, rand.IntN(256), rand.IntN(256), rand.IntN(256))
		if !ipPool[ip] {
			ipPool[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

// getUserAgents returns a list of common user agent strings
func getUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Mobile/15E148 Safari/605.1",
		"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0",
		"Mozilla/5.0 (iPad; CPU OS 16_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Mobile/15E148 Safari/605.1",
	}
}

// getReferrers returns a list of common referrer domains
func getReferrers() []string {
	return []string{
		"", // Direct visit
		"https://google.com",
		"https://facebook.com",
		"https://twitter.com",
		"https://linkedin.com",
		"https://github.com",
		"https://some-other-website.com/blog/post",
	}
}

// addQueryParams adds random query parameters to a path
func addQueryParams(path string) string {
	// Only add params sometimes (e.g., 30% chance)
	if rand.IntN(10) < 7 {
		return path
	}

	params := url.Values{}
	numParams := rand.IntN(3) + 1
	possibleParams := []string{"ref", "source", "id", "query", "page"}
	for i := 0; i < numParams; i++ {
		key := possibleParams[rand.IntN(len(possibleParams))]
		params.Add(key, fmt.Sprintf("value%d", rand.IntN(100)))
	}
	return path + "?" + params.Encode()
}

// addUTMParams adds UTM tracking parameters randomly
func addUTMParams(path string) string {
	// Only add UTM params sometimes (e.g., 20% chance)
	if rand.IntN(10) < 8 {
		return path
	}

	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	params := u.Query()

	utms := []struct {
		key   string
		value []string
	}{
		{"utm_source", []string{"google", "facebook", "newsletter", "twitter", "linkedin"}},
		{"utm_medium", []string{"cpc", "social", "email", "organic", "referral"}},
		{"utm_campaign", []string{"spring_sale", "product_launch", "dev_outreach", "q4_promo"}},
		{"utm_term", []string{"analytics_software", "web_tracking", ""}},
		{"utm_content", []string{"sidebar_ad", "header_link", ""}},
	}
	for _, utm := range utms {
		if value := utm.value[rand.IntN(len(utm.value))]; value != "" {
			params.Set(utm.key, value)
		}
	}

	u.RawQuery = params.Encode()
	return u.String()
}

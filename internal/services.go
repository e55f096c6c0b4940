package internal

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"visitlens/internal/alerts"
	"visitlens/internal/config"
	"visitlens/internal/events"
	"visitlens/internal/funnels"
	"visitlens/internal/heatmap"
	"visitlens/internal/http"
	"visitlens/internal/jobs"
	"visitlens/internal/notify"
	"visitlens/internal/pkg/geoip"
	"visitlens/internal/reports"
	"visitlens/internal/warehouse"
)

// Services holds the long-lived components shared by routes and jobs.
type Services struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *gorm.DB
	Geo       *geoip.Locator
	Notify    *notify.Registry
	Warehouse *warehouse.ClickHouse
	Tracker   *events.Tracker
	Reports   *reports.Runner
	Alerts    *alerts.Evaluator
	Funnels   *funnels.Evaluator
	Summaries *http.SummaryCache
}

// NewServices builds every component from cfg. Optional integrations that
// are not configured, or fail to connect, are left out.
func NewServices(cfg *config.Config, db *gorm.DB, logger *slog.Logger) *Services {
	s := &Services{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Geo:    geoip.NewLocator(cfg.GeoDBPath, logger),
	}

	s.Notify = notify.NewRegistry(logger, notificationChannels(cfg, logger)...)

	var wh reports.Warehouse
	if cfg.WarehouseConfigured() {
		ch, err := warehouse.Open(context.Background(), warehouse.Config{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
			Table:    cfg.ClickHouseTable,
		}, logger)
		if err != nil {
			logger.Error("Warehouse unavailable; exports will be queued", slog.Any("error", err))
		} else {
			s.Warehouse = ch
			wh = ch
		}
	}

	s.Tracker = events.NewTracker(db, logger, events.TrackerConfig{
		IdentitySalt: cfg.IdentitySalt,
		Heatmap: heatmap.Config{
			Enabled:    cfg.HeatmapEnabled,
			SampleRate: cfg.HeatmapSampleRate,
		},
	}, s.Geo)

	s.Reports = reports.NewRunner(db, logger, s.Notify, wh, reports.Config{
		ExportsDir:   cfg.ExportsDirectory,
		DashboardURL: cfg.DashboardURL,
		Location:     reportsLocation(cfg, logger),
	})

	s.Alerts = alerts.NewEvaluator(db, logger, s.Notify, alerts.EvaluatorConfig{
		Cooldown:     time.Duration(cfg.AlertCooldownMinutes) * time.Minute,
		DashboardURL: cfg.DashboardURL,
	})

	s.Funnels = funnels.NewEvaluator(db, logger, nil)
	s.Summaries = http.NewSummaryCache(db, logger, nil)
	return s
}

func notificationChannels(cfg *config.Config, logger *slog.Logger) []notify.Channel {
	channels := []notify.Channel{notify.NewLogChannel(logger)}
	if cfg.EmailConfigured() {
		channels = append(channels, notify.NewEmailChannel(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}))
	}
	if cfg.AlertWebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.AlertWebhookURL))
	}
	return channels
}

func reportsLocation(cfg *config.Config, logger *slog.Logger) *time.Location {
	if cfg.ReportsTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(cfg.ReportsTimezone)
	if err != nil {
		logger.Warn("Unknown reports timezone, using UTC", slog.String("timezone", cfg.ReportsTimezone), slog.Any("error", err))
		return time.UTC
	}
	return loc
}

// Scheduler builds the background job scheduler over these services.
func (s *Services) Scheduler() *jobs.Scheduler {
	return jobs.NewScheduler(s.Config, s.Logger, jobs.Evaluators{
		Reports: s.Reports,
		Alerts:  s.Alerts,
		Funnels: s.Funnels,
	})
}

// Close releases external connections.
func (s *Services) Close() {
	if s.Warehouse != nil {
		if err := s.Warehouse.Close(); err != nil {
			s.Logger.Warn("Failed to close warehouse connection", slog.Any("error", err))
		}
	}
	if s.Geo != nil {
		s.Geo.Close()
	}
}

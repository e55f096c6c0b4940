package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"visitlens/internal/analytics"
	"visitlens/internal/metrics"
	"visitlens/internal/notify"
	"visitlens/internal/timeframe"
)

// EvaluatorConfig tunes an Evaluator.
type EvaluatorConfig struct {
	Cooldown     time.Duration
	DashboardURL string
	Now          func() time.Time
}

// Evaluator runs alert rules against current metrics.
type Evaluator struct {
	db       *gorm.DB
	logger   *slog.Logger
	registry *notify.Registry
	cfg      EvaluatorConfig
}

func NewEvaluator(db *gorm.DB, logger *slog.Logger, registry *notify.Registry, cfg EvaluatorConfig) *Evaluator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Evaluator{db: db, logger: logger, registry: registry, cfg: cfg}
}

// RunSummary reports one sweep.
type RunSummary struct {
	Evaluated int      `json:"evaluated"`
	Triggered int      `json:"triggered"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

// Run evaluates every active rule. A failing rule is reported and does not
// stop the sweep.
func (e *Evaluator) Run(ctx context.Context) (*RunSummary, error) {
	var configs []AlertConfig
	if err := e.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("load alert configs: %w", err)
	}

	summary := &RunSummary{Errors: []string{}}
	now := e.cfg.Now().UTC()
	for i := range configs {
		cfg := &configs[i]
		if e.coolingDown(cfg, now) {
			summary.Skipped++
			continue
		}
		log, err := e.Evaluate(ctx, cfg)
		summary.Evaluated++
		if err != nil {
			e.logger.Error("Alert evaluation failed", slog.Uint64("alert_id", uint64(cfg.ID)), slog.Any("error", err))
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", cfg.Name, err))
			continue
		}
		if log != nil {
			summary.Triggered++
		}
	}
	return summary, nil
}

func (e *Evaluator) coolingDown(cfg *AlertConfig, now time.Time) bool {
	return e.cfg.Cooldown > 0 && cfg.LastTriggeredAt != nil && now.Sub(*cfg.LastTriggeredAt) < e.cfg.Cooldown
}

// Evaluate checks one rule and, when it triggers, records an AlertLog and
// notifies each configured channel. It returns nil when nothing triggered.
func (e *Evaluator) Evaluate(ctx context.Context, cfg *AlertConfig) (*AlertLog, error) {
	db := e.db.WithContext(ctx)
	now := e.cfg.Now().UTC()
	today := timeframe.SingleDay(now)

	baseline, err := today.Shift(timeframe.ComparisonPeriod(cfg.ComparisonPeriod))
	if err != nil {
		return nil, err
	}
	metric := analytics.Metric(cfg.Metric)
	current, err := analytics.MetricValue(db, metric, today, cfg.PageFilter)
	if err != nil {
		return nil, err
	}
	comparison, err := analytics.MetricValue(db, metric, baseline, cfg.PageFilter)
	if err != nil {
		return nil, err
	}

	triggered, change, err := Check(Condition(cfg.Condition), float64(current), float64(comparison), cfg.Threshold)
	if err != nil {
		return nil, err
	}
	if !triggered {
		return nil, nil
	}
	metrics.AlertsTriggered.WithLabelValues(cfg.Metric).Inc()

	msg := e.message(cfg, float64(current), float64(comparison), change)
	log := &AlertLog{
		AlertConfigID:   cfg.ID,
		TriggeredAt:     now,
		MetricValue:     float64(current),
		ThresholdValue:  cfg.Threshold,
		ComparisonValue: float64(comparison),
		ChangePercent:   change,
		Message:         msg.Body,
	}
	log.NotificationStatus = e.registry.Dispatch(ctx, cfg.NotificationChannels, msg)

	err = sqlite.PerformWrite(e.logger, db, func(tx *gorm.DB) error {
		if err := tx.Create(log).Error; err != nil {
			return err
		}
		return tx.Model(&AlertConfig{}).Where("id = ?", cfg.ID).Update("last_triggered_at", now).Error
	})
	if err != nil {
		return nil, fmt.Errorf("record alert log: %w", err)
	}
	cfg.LastTriggeredAt = &now

	e.logger.Info("Alert triggered",
		slog.String("alert", cfg.Name),
		slog.String("metric", cfg.Metric),
		slog.Float64("value", log.MetricValue),
		slog.Any("notification_status", log.NotificationStatus))
	return log, nil
}

func (e *Evaluator) message(cfg *AlertConfig, current, comparison float64, change *float64) notify.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert %q: %s is %.0f today", cfg.Name, cfg.Metric, current)
	if cfg.PageFilter != "" {
		fmt.Fprintf(&b, " on %s", cfg.PageFilter)
	}
	switch Condition(cfg.Condition) {
	case ConditionChangePercent:
		fmt.Fprintf(&b, ", %+.1f%% vs %s (%.0f), threshold %.1f%%", *change, cfg.ComparisonPeriod, comparison, cfg.Threshold)
	default:
		fmt.Fprintf(&b, " (%s %.0f; %s was %.0f)", strings.ReplaceAll(cfg.Condition, "_", " "), cfg.Threshold, cfg.ComparisonPeriod, comparison)
	}
	b.WriteString(".")
	if e.cfg.DashboardURL != "" {
		fmt.Fprintf(&b, "\nDashboard: %s", e.cfg.DashboardURL)
	}

	return notify.Message{
		Subject:    fmt.Sprintf("[visitlens] %s", cfg.Name),
		Body:       b.String(),
		Recipients: cfg.Recipients,
		Fields: map[string]any{
			"alert_id":   cfg.ID,
			"metric":     cfg.Metric,
			"value":      current,
			"comparison": comparison,
			"threshold":  cfg.Threshold,
		},
	}
}

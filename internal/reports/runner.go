package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"visitlens/internal/metrics"
	"visitlens/internal/notify"
	"visitlens/internal/timeframe"
)

// staleClaimAfter lets a report left running by a crashed process be retaken.
const staleClaimAfter = 10 * time.Minute

// Config controls report execution.
type Config struct {
	ExportsDir   string
	DashboardURL string
	Location     *time.Location
	Now          func() time.Time
}

// Runner executes scheduled reports and exports.
type Runner struct {
	db        *gorm.DB
	logger    *slog.Logger
	warehouse Warehouse
	cfg       Config

	deliveries map[string]Deliverer
}

// NewRunner builds a Runner. A nil warehouse queues warehouse exports as
// pending.
func NewRunner(db *gorm.DB, logger *slog.Logger, registry *notify.Registry, warehouse Warehouse, cfg Config) *Runner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	r := &Runner{db: db, logger: logger, warehouse: warehouse, cfg: cfg}
	r.deliveries = map[string]Deliverer{
		DeliveryEmail:     &emailDelivery{registry: registry, dashboardURL: cfg.DashboardURL},
		DeliveryStorage:   &storageDelivery{dir: cfg.ExportsDir, now: cfg.Now},
		DeliveryWarehouse: &warehouseDelivery{runner: r},
	}
	return r
}

// SweepSummary counts the outcome of one due-report sweep.
type SweepSummary struct {
	Due       int      `json:"due"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

// RunDue executes every active report whose next_run_at has passed. A
// failing report is recorded in its history and does not stop the sweep.
func (r *Runner) RunDue(ctx context.Context) (*SweepSummary, error) {
	now := r.cfg.Now().UTC()

	var due []ScheduledReport
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
		Order("next_run_at ASC, id ASC").
		Find(&due).Error
	if err != nil {
		return nil, fmt.Errorf("load due reports: %w", err)
	}

	summary := &SweepSummary{Due: len(due), Errors: []string{}}
	for i := range due {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		report := &due[i]
		hist, err := r.execute(ctx, report, TriggerScheduled)
		switch {
		case errors.Is(err, ErrReportRunning):
			summary.Skipped++
		case err != nil:
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", report.Name, err))
		case hist.Status == StatusCompleted:
			summary.Completed++
		}
	}

	if summary.Due > 0 {
		r.logger.Info("Report sweep finished",
			slog.Int("due", summary.Due),
			slog.Int("completed", summary.Completed),
			slog.Int("failed", summary.Failed),
			slog.Int("skipped", summary.Skipped))
	}
	return summary, nil
}

// RunNow executes one report immediately regardless of its schedule.
func (r *Runner) RunNow(ctx context.Context, id uint) (*ReportHistory, error) {
	report, err := Get(r.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, report, TriggerManual)
}

// execute claims the report, runs it once and records the attempt. Errors
// other than ErrReportRunning leave a failed history row behind.
func (r *Runner) execute(ctx context.Context, report *ScheduledReport, trigger string) (*ReportHistory, error) {
	db := r.db.WithContext(ctx)
	started := r.cfg.Now().UTC()

	if err := r.claim(db, report.ID, started, trigger); err != nil {
		return nil, err
	}

	hist := &ReportHistory{
		ScheduledReportID: report.ID,
		Trigger:           trigger,
		Status:            StatusRunning,
		StartedAt:         started,
	}
	if err := sqlite.PerformWrite(r.logger, db, func(tx *gorm.DB) error {
		return tx.Create(hist).Error
	}); err != nil {
		r.release(db, report, started)
		return nil, fmt.Errorf("create report history: %w", err)
	}

	outcome, records, runErr := r.produce(ctx, report)

	finished := r.cfg.Now().UTC()
	hist.DurationMs = finished.Sub(started).Milliseconds()
	hist.CompletedAt = &finished
	hist.RecordsCount = records
	if runErr != nil {
		hist.Status = StatusFailed
		hist.ErrorMessage = runErr.Error()
	} else {
		hist.Status = StatusCompleted
		hist.FileURL = outcome.FileURL
		hist.FileSize = outcome.FileSize
	}

	if err := sqlite.PerformWrite(r.logger, db, func(tx *gorm.DB) error {
		return tx.Save(hist).Error
	}); err != nil {
		r.logger.Error("Failed to record report history", slog.Uint64("report_id", uint64(report.ID)), slog.Any("error", err))
	}
	r.release(db, report, started)
	metrics.ReportRuns.WithLabelValues(hist.Status).Inc()

	if runErr != nil {
		r.logger.Warn("Report run failed",
			slog.Uint64("report_id", uint64(report.ID)),
			slog.String("trigger", trigger),
			slog.Any("error", runErr))
		return hist, runErr
	}
	return hist, nil
}

func (r *Runner) produce(ctx context.Context, report *ScheduledReport) (Outcome, int, error) {
	deliverer, ok := r.deliveries[report.DeliveryMethod]
	if !ok {
		return Outcome{}, 0, fmt.Errorf("%w: %q", ErrUnknownDelivery, report.DeliveryMethod)
	}
	q, err := r.queryFor(report)
	if err != nil {
		return Outcome{}, 0, err
	}
	ds, err := Build(r.db.WithContext(ctx), q)
	if err != nil {
		return Outcome{}, 0, err
	}
	outcome, err := deliverer.Deliver(ctx, report, ds)
	return outcome, ds.Len(), err
}

func (r *Runner) queryFor(report *ScheduledReport) (Query, error) {
	rng, err := timeframe.Named(timeframe.RangeLabel(report.DateRange), r.cfg.Now())
	if err != nil {
		return Query{}, err
	}
	q := Query{Type: report.ReportType, Range: rng}
	if report.FunnelID != nil {
		q.FunnelID = *report.FunnelID
	}
	return q, nil
}

// claim moves the report to running. A scheduled claim also requires the
// report to still be due, so a sweep holding a stale due list cannot rerun an
// occurrence another sweep already finished.
func (r *Runner) claim(db *gorm.DB, id uint, now time.Time, trigger string) error {
	var claimed int64
	err := sqlite.PerformWrite(r.logger, db, func(tx *gorm.DB) error {
		q := tx.Model(&ScheduledReport{}).
			Where("id = ? AND (status <> ? OR updated_at < ?)", id, StatusRunning, now.Add(-staleClaimAfter))
		if trigger == TriggerScheduled {
			q = q.Where("is_active = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now)
		}
		res := q.Updates(map[string]any{"status": StatusRunning, "updated_at": now})
		claimed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("claim report %d: %w", id, err)
	}
	if claimed == 0 {
		return ErrReportRunning
	}
	return nil
}

// release returns the report to idle and always advances next_run_at, so a
// failed occurrence is not retried.
func (r *Runner) release(db *gorm.DB, report *ScheduledReport, ranAt time.Time) {
	updates := map[string]any{
		"status":      StatusIdle,
		"last_run_at": ranAt,
		"updated_at":  r.cfg.Now().UTC(),
	}
	next, err := NextRun(report, ranAt, r.cfg.Location)
	if err != nil {
		r.logger.Error("Cannot compute next report run", slog.Uint64("report_id", uint64(report.ID)), slog.Any("error", err))
		updates["next_run_at"] = nil
	} else {
		updates["next_run_at"] = next
	}

	err = sqlite.PerformWrite(r.logger, db, func(tx *gorm.DB) error {
		return tx.Model(&ScheduledReport{}).Where("id = ?", report.ID).Updates(updates).Error
	})
	if err != nil {
		r.logger.Error("Failed to release report", slog.Uint64("report_id", uint64(report.ID)), slog.Any("error", err))
	}
}

// Create validates the report, computes its first run and stores it.
func (r *Runner) Create(ctx context.Context, report *ScheduledReport) error {
	if err := report.Validate(); err != nil {
		return err
	}
	next, err := NextRun(report, r.cfg.Now(), r.cfg.Location)
	if err != nil {
		return err
	}
	report.NextRunAt = &next
	report.Status = StatusIdle
	report.IsActive = true

	return sqlite.PerformWrite(r.logger, r.db.WithContext(ctx), func(tx *gorm.DB) error {
		return tx.Create(report).Error
	})
}

// Get loads a report by id.
func Get(db *gorm.DB, id uint) (*ScheduledReport, error) {
	var report ScheduledReport
	if err := db.First(&report, id).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

// List returns all report definitions.
func List(db *gorm.DB) ([]ScheduledReport, error) {
	var out []ScheduledReport
	err := db.Order("id ASC").Find(&out).Error
	return out, err
}

// History returns the most recent executions of a report.
func History(db *gorm.DB, reportID uint, limit int) ([]ReportHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []ReportHistory
	err := db.Where("scheduled_report_id = ?", reportID).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

package funnels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"visitlens/internal/events"
	"visitlens/internal/metrics"
	"visitlens/internal/timeframe"
)

// Result statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// staleClaimAfter lets a crashed evaluation be re-claimed.
const staleClaimAfter = 10 * time.Minute

// StepResult is the outcome for one step.
type StepResult struct {
	Name    string `json:"name"`
	Pattern string `json:"path_pattern"`
	Count   int    `json:"count"`
	DropOff int    `json:"drop_off"`
}

// Result is the stored FunnelResult for a funnel and day.
type Result struct {
	ID             uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	FunnelID       uint         `gorm:"uniqueIndex:idx_funnel_result_day;not null" json:"funnel_id"`
	ResultDate     string       `gorm:"uniqueIndex:idx_funnel_result_day;size:10;not null" json:"result_date"`
	Status         string       `gorm:"size:16;not null" json:"status"`
	TotalSessions  int          `gorm:"not null;default:0" json:"total_sessions"`
	StepResults    []StepResult `gorm:"serializer:json;type:text" json:"step_results"`
	ConversionRate float64      `gorm:"not null;default:0" json:"conversion_rate"`
	Error          string       `gorm:"type:text" json:"error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// TableName pins the table name.
func (Result) TableName() string {
	return "funnel_results"
}

// Evaluator computes funnel results.
type Evaluator struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewEvaluator builds an Evaluator. now may be nil.
func NewEvaluator(db *gorm.DB, logger *slog.Logger, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{db: db, logger: logger, now: now}
}

// Compute derives step counts from the day's page views without touching
// storage. Each step counts the distinct sessions that viewed a matching page,
// independently of earlier steps. DropOff is the previous count minus this
// one, so it goes negative when a later step is entered directly.
func Compute(f *Funnel, paths map[string][]string) (total int, steps []StepResult, rate float64) {
	total = len(paths)

	prev := total
	for _, step := range f.Steps {
		count := 0
		for _, viewed := range paths {
			for _, p := range viewed {
				if MatchPath(step.PathPattern, p) {
					count++
					break
				}
			}
		}
		steps = append(steps, StepResult{
			Name:    step.Name,
			Pattern: step.PathPattern,
			Count:   count,
			DropOff: prev - count,
		})
		prev = count
	}

	if total > 0 && len(steps) > 0 {
		rate = float64(steps[len(steps)-1].Count) / float64(total) * 100
	}
	return total, steps, rate
}

// Evaluate computes and stores the result for funnel f on day. The stored row
// for (funnel, day) is claimed first and replaced on completion, so repeated
// evaluations never duplicate it.
func (e *Evaluator) Evaluate(ctx context.Context, f *Funnel, day time.Time) (*Result, error) {
	date := timeframe.DateString(day)
	db := e.db.WithContext(ctx)

	if err := e.claim(db, f.ID, date); err != nil {
		return nil, err
	}

	paths, err := sessionPaths(db, timeframe.SingleDay(day))
	if err == nil {
		total, steps, rate := Compute(f, paths)
		err = e.store(db, f.ID, date, total, steps, rate)
	}
	if err != nil {
		metrics.FunnelEvaluations.WithLabelValues(StatusFailed).Inc()
		e.markFailed(db, f.ID, date, err)
		return nil, fmt.Errorf("evaluate funnel %d for %s: %w", f.ID, date, err)
	}

	metrics.FunnelEvaluations.WithLabelValues(StatusCompleted).Inc()
	return GetResult(db, f.ID, day)
}

// EvaluateActive runs every active funnel for day and returns per-funnel errors.
func (e *Evaluator) EvaluateActive(ctx context.Context, day time.Time) (evaluated int, errs []error) {
	list, err := List(e.db.WithContext(ctx), true)
	if err != nil {
		return 0, []error{err}
	}
	for i := range list {
		if _, err := e.Evaluate(ctx, &list[i], day); err != nil {
			e.logger.Error("Funnel evaluation failed",
				slog.Uint64("funnel_id", uint64(list[i].ID)),
				slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		evaluated++
	}
	return evaluated, errs
}

// GetResult loads the stored result for a funnel and day.
func GetResult(db *gorm.DB, funnelID uint, day time.Time) (*Result, error) {
	var r Result
	err := db.Where("funnel_id = ? AND result_date = ?", funnelID, timeframe.DateString(day)).First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ResultsInRange lists completed results for a funnel across a range.
func ResultsInRange(db *gorm.DB, funnelID uint, r timeframe.Range) ([]Result, error) {
	var out []Result
	q := db.Where("status = ? AND result_date >= ? AND result_date <= ?", StatusCompleted, r.StartDate(), r.EndDate())
	if funnelID != 0 {
		q = q.Where("funnel_id = ?", funnelID)
	}
	err := q.Order("result_date ASC, funnel_id ASC").Find(&out).Error
	return out, err
}

func (e *Evaluator) claim(db *gorm.DB, funnelID uint, date string) error {
	now := e.now().UTC()
	query := `
		INSERT INTO funnel_results (funnel_id, result_date, status, total_sessions, step_results,
			conversion_rate, error, created_at, updated_at)
		VALUES (?, ?, ?, 0, '[]', 0, '', ?, ?)
		ON CONFLICT (funnel_id, result_date) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
		WHERE funnel_results.status <> ? OR funnel_results.updated_at < ?
	`
	var claimed int64
	err := sqlite.PerformWrite(e.logger, db, func(tx *gorm.DB) error {
		res := tx.Exec(query, funnelID, date, StatusRunning, now, now, StatusRunning, now.Add(-staleClaimAfter))
		claimed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("claim funnel %d for %s: %w", funnelID, date, err)
	}
	if claimed == 0 {
		return ErrEvaluationInProgress
	}
	return nil
}

func encodeSteps(steps []StepResult) string {
	if steps == nil {
		steps = []StepResult{}
	}
	b, _ := json.Marshal(steps)
	return string(b)
}

func (e *Evaluator) store(db *gorm.DB, funnelID uint, date string, total int, steps []StepResult, rate float64) error {
	return sqlite.PerformWrite(e.logger, db, func(tx *gorm.DB) error {
		return tx.Model(&Result{}).
			Where("funnel_id = ? AND result_date = ?", funnelID, date).
			Updates(map[string]any{
				"status":          StatusCompleted,
				"total_sessions":  total,
				"step_results":    encodeSteps(steps),
				"conversion_rate": rate,
				"error":           "",
				"updated_at":      e.now().UTC(),
			}).Error
	})
}

func (e *Evaluator) markFailed(db *gorm.DB, funnelID uint, date string, cause error) {
	err := sqlite.PerformWrite(e.logger, db, func(tx *gorm.DB) error {
		return tx.Model(&Result{}).
			Where("funnel_id = ? AND result_date = ?", funnelID, date).
			Updates(map[string]any{"status": StatusFailed, "error": cause.Error(), "updated_at": e.now().UTC()}).Error
	})
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		e.logger.Error("Failed to mark funnel result failed", slog.Any("error", err))
	}
}

// sessionPaths maps each session with a page view in r to the distinct paths
// it viewed.
func sessionPaths(db *gorm.DB, r timeframe.Range) (map[string][]string, error) {
	type row struct {
		SessionID string
		PagePath  string
	}
	var rows []row
	err := db.Model(&events.Event{}).
		Distinct("session_id", "page_path").
		Where("event_type = ? AND created_at >= ? AND created_at < ?", string(events.EventTypePageView), r.From(), r.Until()).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load session paths: %w", err)
	}

	out := make(map[string][]string)
	for _, r := range rows {
		out[r.SessionID] = append(out[r.SessionID], r.PagePath)
	}
	return out, nil
}

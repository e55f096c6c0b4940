package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"visitlens/internal/alerts"
	"visitlens/internal/config"
	"visitlens/internal/funnels"
	"visitlens/internal/reports"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler is responsible for running background jobs
type Scheduler struct {
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool

	// guards against a job overlapping itself
	processingMutex sync.Mutex
	processing      map[string]bool

	jobs    []Job
	tickers []*time.Ticker
	wg      sync.WaitGroup
}

// Evaluators bundles what the default jobs drive.
type Evaluators struct {
	Reports *reports.Runner
	Alerts  *alerts.Evaluator
	Funnels *funnels.Evaluator
	Now     func() time.Time
}

// NewScheduler builds a scheduler with the report, alert, funnel and cleanup
// jobs configured from cfg.
func NewScheduler(cfg *config.Config, logger *slog.Logger, ev Evaluators) *Scheduler {
	if ev.Now == nil {
		ev.Now = time.Now
	}
	cleanup := NewCleanupJob(cfg.ExportsDirectory, cfg.ExportRetentionDays, logger)

	return NewSchedulerWithJobs(logger,
		Job{
			Name:     "report_sweep",
			Interval: seconds(cfg.ReportSweepIntervalSeconds, time.Minute),
			Run:      ReportSweep(ev.Reports),
		},
		Job{
			Name:     "alert_evaluation",
			Interval: seconds(cfg.AlertIntervalSeconds, 15*time.Minute),
			Run:      AlertEvaluation(ev.Alerts),
		},
		Job{
			Name:     "funnel_evaluation",
			Interval: seconds(cfg.FunnelIntervalSeconds, time.Hour),
			Run:      FunnelEvaluation(ev.Funnels, ev.Now),
		},
		Job{
			Name:     "export_cleanup",
			Interval: 24 * time.Hour,
			Run: func(context.Context) error {
				_, err := cleanup.Run()
				return err
			},
		},
	)
}

// NewSchedulerWithJobs builds a scheduler for an explicit job list.
func NewSchedulerWithJobs(logger *slog.Logger, jobs ...Job) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		enabled:    true,
		processing: make(map[string]bool),
		jobs:       jobs,
	}
}

func seconds(v int, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Second
}

// ReportSweep runs due reports and flushes queued warehouse exports.
func ReportSweep(runner *reports.Runner) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if _, err := runner.RunDue(ctx); err != nil {
			return err
		}
		_, err := runner.FlushPending(ctx)
		return err
	}
}

// AlertEvaluation runs every active alert.
func AlertEvaluation(evaluator *alerts.Evaluator) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := evaluator.Run(ctx)
		return err
	}
}

// FunnelEvaluation computes today's results for active funnels. Funnels
// already being evaluated elsewhere are not errors.
func FunnelEvaluation(evaluator *funnels.Evaluator, now func() time.Time) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, errs := evaluator.EvaluateActive(ctx, now())
		var failed []error
		for _, err := range errs {
			if !errors.Is(err, funnels.ErrEvaluationInProgress) {
				failed = append(failed, err)
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d funnel evaluations failed: %w", len(failed), errors.Join(failed...))
		}
		return nil
	}
}

// executeJobSafely runs a job unless the previous run of the same job is
// still executing.
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func(ctx context.Context) error) {
	s.processingMutex.Lock()
	if s.processing[jobName] {
		s.logger.Debug("Skipping job execution - previous run still in progress", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.processing[jobName] = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.processing[jobName] = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")
	s.isRunning = true

	for _, job := range s.jobs {
		s.startJob(job)
	}

	s.logger.Info("Background jobs started", slog.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Scheduler) startJob(job Job) {
	s.logger.Info("Starting job", slog.String("job", job.Name), slog.Duration("interval", job.Interval))
	ticker := time.NewTicker(job.Interval)
	s.tickers = append(s.tickers, ticker)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeJobSafely(job.Name, job.Run)

		for {
			select {
			case <-ticker.C:
				s.executeJobSafely(job.Name, job.Run)
			case <-s.ctx.Done():
				s.logger.Info("Job stopped", slog.String("job", job.Name))
				return
			}
		}
	}()
}

// Stop halts all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	for _, ticker := range s.tickers {
		ticker.Stop()
	}

	s.cancel()
	s.wg.Wait()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}

// RunOnce executes the named job synchronously.
func (s *Scheduler) RunOnce(name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			s.executeJobSafely(job.Name, job.Run)
			return nil
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

package jobs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"visitlens/internal/reports"
)

// CleanupJob removes persisted report files older than the retention period.
type CleanupJob struct {
	dir       string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewCleanupJob(dir string, retentionDays int, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		dir:       dir,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger,
		now:       time.Now,
	}
}

// Run deletes expired export files and returns how many were removed.
// Retention of zero or less keeps everything.
func (j *CleanupJob) Run() (int, error) {
	if j.retention <= 0 || j.dir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(j.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read exports dir: %w", err)
	}

	cutoff := j.now().Add(-j.retention)
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || !reports.IsStoredFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, entry.Name())); err != nil {
			j.logger.Warn("Failed to remove expired export", slog.String("file", entry.Name()), slog.Any("error", err))
			continue
		}
		deleted++
	}

	if deleted > 0 {
		j.logger.Info("Cleaned up expired exports",
			slog.Int("deleted_count", deleted),
			slog.Duration("retention", j.retention))
	}
	return deleted, nil
}

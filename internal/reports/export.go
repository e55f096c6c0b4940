package reports

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"visitlens/internal/timeframe"
)

// Filename is the download name for a dataset in the given format.
func (d *Dataset) Filename(format string) string {
	if format == "" {
		format = FormatCSV
	}
	return d.Name + "." + format
}

// Export materializes an ad hoc dataset.
func (r *Runner) Export(ctx context.Context, q Query) (*Dataset, error) {
	if !ValidType(q.Type) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, q.Type)
	}
	return Build(r.db.WithContext(ctx), q)
}

// WarehouseConfigured reports whether pushes go out immediately.
func (r *Runner) WarehouseConfigured() bool {
	return r.warehouse != nil
}

// RequestWarehouseExport pushes the dataset to the warehouse. Without
// credentials the request is recorded as pending and nil error is returned.
func (r *Runner) RequestWarehouseExport(ctx context.Context, q Query) (*WarehouseExport, error) {
	if !ValidType(q.Type) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, q.Type)
	}
	if r.warehouse == nil {
		return r.pushOrQueue(ctx, q, nil)
	}
	ds, err := Build(r.db.WithContext(ctx), q)
	if err != nil {
		return nil, err
	}
	return r.pushOrQueue(ctx, q, ds)
}

func (r *Runner) pushOrQueue(ctx context.Context, q Query, ds *Dataset) (*WarehouseExport, error) {
	db := r.db.WithContext(ctx)
	exp := &WarehouseExport{
		ExportType: q.Type,
		StartDate:  q.Range.StartDate(),
		EndDate:    q.Range.EndDate(),
		FunnelID:   q.FunnelID,
		Status:     StatusPending,
	}
	if r.warehouse != nil {
		exp.Status = StatusRunning
	}
	if err := sqlite.PerformWrite(r.logger, db, func(tx *gorm.DB) error {
		return tx.Create(exp).Error
	}); err != nil {
		return nil, fmt.Errorf("record warehouse export: %w", err)
	}
	if r.warehouse == nil {
		r.logger.Info("Warehouse export queued", slog.Uint64("export_id", uint64(exp.ID)), slog.String("type", q.Type))
		return exp, nil
	}
	return exp, r.push(ctx, exp, ds)
}

func (r *Runner) push(ctx context.Context, exp *WarehouseExport, ds *Dataset) error {
	n, pushErr := r.warehouse.Insert(ctx, ds.Name, ds.Columns, ds.Rows)

	now := r.cfg.Now().UTC()
	updates := map[string]any{"updated_at": now, "completed_at": now}
	if pushErr != nil {
		updates["status"] = StatusFailed
		updates["error_message"] = pushErr.Error()
	} else {
		updates["status"] = StatusCompleted
		updates["rows_exported"] = n
		updates["error_message"] = ""
	}

	err := sqlite.PerformWrite(r.logger, r.db.WithContext(ctx), func(tx *gorm.DB) error {
		return tx.Model(&WarehouseExport{}).Where("id = ?", exp.ID).Updates(updates).Error
	})
	if err != nil {
		r.logger.Error("Failed to update warehouse export", slog.Uint64("export_id", uint64(exp.ID)), slog.Any("error", err))
	}

	exp.Status = updates["status"].(string)
	exp.CompletedAt = &now
	if pushErr != nil {
		exp.ErrorMessage = pushErr.Error()
		return fmt.Errorf("warehouse insert: %w", pushErr)
	}
	exp.RowsExported = n
	return nil
}

// FlushPending pushes queued warehouse exports once a warehouse is
// configured. It returns how many were delivered.
func (r *Runner) FlushPending(ctx context.Context) (int, error) {
	if r.warehouse == nil {
		return 0, nil
	}
	db := r.db.WithContext(ctx)

	var pending []WarehouseExport
	if err := db.Where("status = ?", StatusPending).Order("id ASC").Find(&pending).Error; err != nil {
		return 0, fmt.Errorf("load pending exports: %w", err)
	}

	flushed := 0
	for i := range pending {
		exp := &pending[i]
		if !r.claimExport(db, exp.ID) {
			continue
		}
		exp.Status = StatusRunning
		q, err := exportQuery(exp)
		if err == nil {
			var ds *Dataset
			if ds, err = Build(db, q); err == nil {
				err = r.push(ctx, exp, ds)
			}
		}
		if err != nil {
			r.logger.Warn("Pending warehouse export failed", slog.Uint64("export_id", uint64(exp.ID)), slog.Any("error", err))
			if exp.Status == StatusRunning {
				r.failExport(db, exp.ID, err)
			}
			continue
		}
		flushed++
	}
	return flushed, nil
}

func exportQuery(exp *WarehouseExport) (Query, error) {
	rng, err := timeframe.ParseRange(exp.StartDate, exp.EndDate, time.Now(), 1)
	if err != nil {
		return Query{}, err
	}
	return Query{Type: exp.ExportType, Range: rng, FunnelID: exp.FunnelID}, nil
}

func (r *Runner) claimExport(db *gorm.DB, id uint) bool {
	var claimed int64
	err := sqlite.PerformWrite(r.logger, db, func(tx *gorm.DB) error {
		res := tx.Model(&WarehouseExport{}).
			Where("id = ? AND status = ?", id, StatusPending).
			Updates(map[string]any{"status": StatusRunning, "updated_at": r.cfg.Now().UTC()})
		claimed = res.RowsAffected
		return res.Error
	})
	return err == nil && claimed == 1
}

func (r *Runner) failExport(db *gorm.DB, id uint, cause error) {
	err := sqlite.PerformWrite(r.logger, db, func(tx *gorm.DB) error {
		return tx.Model(&WarehouseExport{}).Where("id = ?", id).
			Updates(map[string]any{"status": StatusFailed, "error_message": cause.Error(), "updated_at": r.cfg.Now().UTC()}).Error
	})
	if err != nil {
		r.logger.Error("Failed to mark warehouse export failed", slog.Any("error", err))
	}
}

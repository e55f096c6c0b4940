package database

import (
	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"visitlens/internal/alerts"
	"visitlens/internal/config"
	"visitlens/internal/events"
	"visitlens/internal/funnels"
	"visitlens/internal/heatmap"
	"visitlens/internal/reports"
	"visitlens/internal/sessions"
	"visitlens/internal/visits"
)

// DBManager wraps cartridge's sqlite.Manager with visitlens migration methods.
type DBManager struct {
	*sqlite.Manager
	logger *slog.Logger
}

// NewDBManager creates a new database manager using cartridge's sqlite.Manager.
func NewDBManager(cfg *config.Config, logger *slog.Logger) *DBManager {
	sqliteCfg := sqlite.Config{
		Path:         cfg.DatabaseName,
		MaxOpenConns: cfg.GetMaxOpenConns(),
		MaxIdleConns: cfg.GetMaxIdleConns(),
		Logger:       logger,
		EnableWAL:    true,
		TxImmediate:  true,
		BusyTimeout:  5000,
	}

	return &DBManager{
		Manager: sqlite.NewManager(sqliteCfg),
		logger:  logger,
	}
}

// Init initializes the database connection.
func (dm *DBManager) Init() error {
	_, err := dm.Manager.Connect()
	return err
}

// MigrateDatabase migrates every model.
func (dm *DBManager) MigrateDatabase() error {
	db := dm.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	// Run migrations in a transaction
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(Models()...)
	})
	if err != nil {
		dm.logger.Error("Failed to auto-migrate database", slog.Any("error", err))
		return err
	}

	if err := dm.CheckpointWAL("FULL"); err != nil {
		dm.logger.Warn("Failed to checkpoint WAL after migration", slog.Any("error", err))
	}

	dm.logger.Info("Database migration completed successfully")
	return nil
}

// Models lists every persisted model.
func Models() []any {
	return []any{
		&cache.CacheRecord{},
		&events.Event{},
		&sessions.Session{},
		&visits.UniqueVisit{},
		&heatmap.Bucket{},
		&funnels.Funnel{},
		&funnels.Result{},
		&alerts.AlertConfig{},
		&alerts.AlertLog{},
		&reports.ScheduledReport{},
		&reports.ReportHistory{},
		&reports.WarehouseExport{},
	}
}

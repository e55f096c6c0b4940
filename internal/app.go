// Package internal contains core application functionality
package internal

import (
	"fmt"

	"github.com/karloscodes/cartridge"

	"visitlens/internal/config"
	"visitlens/internal/database"
)

// Application wraps cartridge.Application with visitlens components
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager // DB manager with migration methods
	Services  *Services
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	svc := NewServices(cfg, dbManager.GetConnection(), logger)

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:       cfg,
		Logger:       logger,
		DBManager:    dbManager,
		ServerConfig: NewServerConfig(cfg),
		RouteMountFunc: func(srv *cartridge.Server) {
			MountRoutes(srv, svc)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{svc.Scheduler()},
	})
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Services:    svc,
	}, nil
}

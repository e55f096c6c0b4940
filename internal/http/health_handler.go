package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
)

// Component states reported by the health check.
const (
	componentOK          = "ok"
	componentError       = "error"
	componentDisabled    = "disabled"
	componentUnavailable = "unavailable"
)

const warehousePingTimeout = 2 * time.Second

// Pinger is an optional backend the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GeoSource reports whether country lookups are backed by a database.
type GeoSource interface {
	Loaded() bool
}

// HealthDeps are the optional integrations reported next to the database.
type HealthDeps struct {
	// WarehouseConfigured is true when a ClickHouse address is set.
	WarehouseConfigured bool
	// Warehouse is nil when the connection could not be opened at startup.
	Warehouse Pinger
	Geo       GeoSource
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	DBStatus        string    `json:"db_status"`
	WarehouseStatus string    `json:"warehouse_status"`
	GeoIPStatus     string    `json:"geoip_status"`
}

// HealthIndexAction handles the health check endpoint. Only the database
// decides the overall status: warehouse exports queue while ClickHouse is
// down and countries fall back to unknown without a GeoLite2 file.
func HealthIndexAction(deps HealthDeps) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		health := HealthStatus{
			Status:          "ok",
			Timestamp:       time.Now(),
			DBStatus:        databaseStatus(ctx),
			WarehouseStatus: warehouseStatus(ctx, deps),
			GeoIPStatus:     componentDisabled,
		}
		if deps.Geo != nil && deps.Geo.Loaded() {
			health.GeoIPStatus = componentOK
		}
		if health.DBStatus != componentOK {
			health.Status = "degraded"
		}
		return ctx.JSON(health)
	}
}

func databaseStatus(ctx *cartridge.Context) string {
	db := ctx.DBManager.GetConnection()
	if db == nil {
		ctx.Logger.Error("Database connection unavailable")
		return componentError
	}
	sqlDB, err := db.DB()
	if err != nil {
		ctx.Logger.Error("Database connection error", slog.Any("error", err))
		return componentError
	}
	if err := sqlDB.Ping(); err != nil {
		ctx.Logger.Error("Database ping failed", slog.Any("error", err))
		return componentError
	}
	return componentOK
}

func warehouseStatus(ctx *cartridge.Context, deps HealthDeps) string {
	switch {
	case !deps.WarehouseConfigured:
		return componentDisabled
	case deps.Warehouse == nil:
		return componentUnavailable
	}
	pingCtx, cancel := context.WithTimeout(ctx.UserContext(), warehousePingTimeout)
	defer cancel()
	if err := deps.Warehouse.Ping(pingCtx); err != nil {
		ctx.Logger.Warn("Warehouse ping failed", slog.Any("error", err))
		return componentError
	}
	return componentOK
}

package http

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"

	"visitlens/internal/config"
)

// SystemExportDatabaseAction exports the SQLite database file
func SystemExportDatabaseAction(ctx *cartridge.Context) error {
	cfg := ctx.Config.(*config.Config)

	dbPath := cfg.DatabaseName
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DatabasePath, fmt.Sprintf("%s-%s.db", cfg.AppName, cfg.Environment))
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		ctx.Logger.Error("Database file not found", slog.String("path", dbPath))
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Database file not found",
		})
	}

	file, err := os.Open(dbPath)
	if err != nil {
		ctx.Logger.Error("Failed to open database file", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to read database file",
		})
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		ctx.Logger.Error("Failed to get database file info", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to get database file info",
		})
	}

	ctx.Set("Content-Type", "application/octet-stream")
	ctx.Set("Content-Disposition", "attachment; filename=visitlens-backup.db")
	ctx.Set("Content-Length", strconv.FormatInt(fileInfo.Size(), 10))

	ctx.Logger.Info("Database exported", slog.String("path", dbPath), slog.Int64("size", fileInfo.Size()))

	_, err = io.Copy(ctx.Response().BodyWriter(), file)
	if err != nil {
		ctx.Logger.Error("Failed to stream database file", slog.Any("error", err))
		return err
	}

	return nil
}

// SystemStatusAction reports which optional integrations are configured.
func SystemStatusAction(ctx *cartridge.Context) error {
	cfg := ctx.Config.(*config.Config)

	geoDBExists := false
	if cfg.GeoDBPath != "" {
		_, err := os.Stat(cfg.GeoDBPath)
		geoDBExists = err == nil
	}

	var warning string
	if cfg.GeoDBPath != "" && !geoDBExists {
		warning = "GeoLite database not found; countries are recorded as unknown"
	}

	return ctx.JSON(fiber.Map{
		"healthy":              warning == "",
		"warning":              warning,
		"environment":          cfg.Environment,
		"geolite_db_exists":    geoDBExists,
		"heatmap_enabled":      cfg.HeatmapEnabled,
		"heatmap_sample_rate":  cfg.HeatmapSampleRate,
		"email_configured":     cfg.EmailConfigured(),
		"webhook_configured":   cfg.AlertWebhookURL != "",
		"warehouse_configured": cfg.WarehouseConfigured(),
	})
}

// SystemPurgeCacheAction clears persisted caches and the summary cache.
func SystemPurgeCacheAction(summaries *SummaryCache) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		rowsAffected, err := cache.PurgeAllCaches(ctx.DB())
		if err != nil {
			return serverError(ctx, "purge caches", err)
		}
		summaries.Clear()

		ctx.Logger.Info("Caches purged successfully", slog.Int64("rows_deleted", rowsAffected))
		return toast(ctx, "All caches have been purged", nil, fiber.Map{"rows_deleted": rowsAffected})
	}
}

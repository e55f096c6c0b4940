package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "visitlens/api/v1"
	"visitlens/internal/config"
	"visitlens/internal/http"
	"visitlens/internal/http/middleware"
)

// publicCORSConfig is the permissive CORS setup for the ingestion endpoint.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Referrer, User-Agent",
}

// MountAppRoutes builds the services from the server's database and mounts
// every route.
func MountAppRoutes(srv *cartridge.Server) {
	svc := NewServices(config.GetConfig(), srv.GetDBManager().GetConnection(), srv.GetLogger())
	MountRoutes(srv, svc)
}

// MountRoutes mounts all application routes using cartridge's route API
func MountRoutes(srv *cartridge.Server, svc *Services) {
	cfg := svc.Config

	// Rate limiting would interfere with testing, so it only runs in production
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 120 requests per minute per client for event ingestion
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(120),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{
			publicRateLimiter,
			cartridgemiddleware.SecFetchSiteMiddleware(trackerFetchSiteGuard()),
		},
		CORSConfig: publicCORSConfig,
	}

	// Admin clients are scripts and dashboards, not browsers navigating here
	adminAPIConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			middleware.AdminAPIKeyAuth(cfg.AdminAPIKeyHash, cfg.IsProduction(), svc.Logger),
		},
	}

	systemConfig := &cartridge.RouteConfig{}

	health := http.HealthDeps{WarehouseConfigured: cfg.WarehouseConfigured(), Geo: svc.Geo}
	if svc.Warehouse != nil {
		health.Warehouse = svc.Warehouse
	}

	// === ROOT ROUTES ===
	srv.Get("/_health", http.HealthIndexAction(health), systemConfig)
	srv.Head("/_health", http.HealthIndexAction(health), systemConfig)

	metricsHandler := adaptor.HTTPHandler(promhttp.Handler())
	srv.Get("/metrics", func(ctx *cartridge.Context) error {
		return metricsHandler(ctx.Ctx)
	}, systemConfig)

	// === PUBLIC API ROUTES ===
	srv.Post("/api/v1/track", v1.TrackAction(svc.Tracker), publicAPIConfig)
	srv.Options("/api/v1/track", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)
	srv.Get("/api/v1/track", v1.MethodNotAllowedAction, publicAPIConfig)
	srv.Delete("/api/v1/track", v1.MethodNotAllowedAction, publicAPIConfig)

	// === ANALYTICS API ROUTES ===
	srv.Get("/admin/api/analytics/summary", http.AnalyticsSummaryAction(svc.Summaries), adminAPIConfig)
	srv.Get("/admin/api/analytics/heatmap", http.AnalyticsHeatmapAction, adminAPIConfig)

	// === EXPORT ROUTES ===
	srv.Post("/admin/api/exports", http.ExportsTriggerAction(svc.Reports), adminAPIConfig)
	srv.Get("/admin/api/exports/files/:name", http.ExportFileAction(cfg.ExportsDirectory), adminAPIConfig)

	// === FUNNEL ROUTES ===
	srv.Get("/admin/api/funnels", http.FunnelsIndexAction, adminAPIConfig)
	srv.Post("/admin/api/funnels", http.FunnelCreateAction, adminAPIConfig)
	srv.Post("/admin/api/funnels/:id/evaluate", http.FunnelEvaluateAction(svc.Funnels), adminAPIConfig)
	srv.Get("/admin/api/funnels/:id/results", http.FunnelResultsAction, adminAPIConfig)

	// === ALERT ROUTES ===
	srv.Get("/admin/api/alerts", http.AlertsIndexAction, adminAPIConfig)
	srv.Post("/admin/api/alerts", http.AlertCreateAction, adminAPIConfig)
	srv.Post("/admin/api/alerts/evaluate", http.AlertsEvaluateAction(svc.Alerts), adminAPIConfig)
	srv.Get("/admin/api/alerts/logs", http.AlertLogsAction, adminAPIConfig)
	srv.Post("/admin/api/alerts/logs/:id/acknowledge", http.AlertAcknowledgeAction, adminAPIConfig)

	// === REPORT ROUTES ===
	srv.Get("/admin/api/reports", http.ReportsIndexAction, adminAPIConfig)
	srv.Post("/admin/api/reports", http.ReportCreateAction(svc.Reports), adminAPIConfig)
	srv.Get("/admin/api/reports/:id/history", http.ReportHistoryAction, adminAPIConfig)

	// === SYSTEM API ROUTES ===
	srv.Get("/admin/api/system/status", http.SystemStatusAction, adminAPIConfig)
	srv.Get("/admin/api/system/export-database", http.SystemExportDatabaseAction, adminAPIConfig)
	srv.Post("/admin/api/system/purge-cache", http.SystemPurgeCacheAction(svc.Summaries), adminAPIConfig)
}

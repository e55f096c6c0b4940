package http

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"visitlens/internal/reports"
	"visitlens/internal/timeframe"
)

// Export trigger actions
const (
	ActionRunScheduledReports = "run_scheduled_reports"
	ActionRunSingleReport     = "run_single_report"
	ActionExportData          = "export_data"
	ActionExportToBigQuery    = "export_to_bigquery"
)

// ExportRequest is the body of the export trigger.
type ExportRequest struct {
	Action   string `json:"action"`
	ReportID uint   `json:"report_id"`
	Type     string `json:"type"`
	Format   string `json:"format"`
	Start    string `json:"start"`
	End      string `json:"end"`
	FunnelID uint   `json:"funnel_id"`
}

// ExportsTriggerAction dispatches on the request's action.
func ExportsTriggerAction(runner *reports.Runner) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var req ExportRequest
		if err := ctx.BodyParser(&req); err != nil {
			return badRequest(ctx, "Invalid request body")
		}

		switch req.Action {
		case ActionRunScheduledReports:
			return runScheduledReports(ctx, runner)
		case ActionRunSingleReport:
			return runSingleReport(ctx, runner, req)
		case ActionExportData:
			return exportData(ctx, runner, req)
		case ActionExportToBigQuery:
			return exportToWarehouse(ctx, runner, req)
		case "":
			return badRequest(ctx, "action is required")
		default:
			return badRequest(ctx, fmt.Sprintf("unknown action %q", req.Action))
		}
	}
}

func runScheduledReports(ctx *cartridge.Context, runner *reports.Runner) error {
	summary, err := runner.RunDue(ctx.UserContext())
	if err != nil {
		return serverError(ctx, ActionRunScheduledReports, err)
	}
	if _, err := runner.FlushPending(ctx.UserContext()); err != nil {
		summary.Errors = append(summary.Errors, err.Error())
	}
	msg := fmt.Sprintf("%d of %d due reports completed", summary.Completed, summary.Due)
	return toast(ctx, msg, summary.Errors, fiber.Map{
		"due":       summary.Due,
		"completed": summary.Completed,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	})
}

func runSingleReport(ctx *cartridge.Context, runner *reports.Runner, req ExportRequest) error {
	if req.ReportID == 0 {
		return badRequest(ctx, "report_id is required")
	}
	hist, err := runner.RunNow(ctx.UserContext(), req.ReportID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound(ctx, "Report not found")
	case errors.Is(err, reports.ErrReportRunning):
		return ctx.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case hist == nil && err != nil:
		return serverError(ctx, ActionRunSingleReport, err)
	case err != nil:
		return toast(ctx, "Report failed", []string{err.Error()}, fiber.Map{"history": hist})
	}
	return toast(ctx, fmt.Sprintf("Report completed with %d records", hist.RecordsCount), nil, fiber.Map{"history": hist})
}

func exportQuery(req ExportRequest, now time.Time) (reports.Query, error) {
	if req.Type == "" {
		req.Type = reports.TypeSummary
	}
	if !reports.ValidType(req.Type) {
		return reports.Query{}, fmt.Errorf("unknown export type %q", req.Type)
	}
	r, err := timeframe.ParseRange(req.Start, req.End, now, 30)
	if err != nil {
		return reports.Query{}, err
	}
	return reports.Query{Type: req.Type, Range: r, FunnelID: req.FunnelID}, nil
}

func exportData(ctx *cartridge.Context, runner *reports.Runner, req ExportRequest) error {
	format := strings.ToLower(req.Format)
	if format == "" {
		format = reports.FormatCSV
	}
	if format != reports.FormatCSV && format != reports.FormatJSON {
		return badRequest(ctx, fmt.Sprintf("unknown format %q", req.Format))
	}
	q, err := exportQuery(req, time.Now())
	if err != nil {
		return badRequest(ctx, err.Error())
	}

	ds, err := runner.Export(ctx.UserContext(), q)
	if err != nil {
		return serverError(ctx, ActionExportData, err)
	}

	if format == reports.FormatJSON {
		return ctx.JSON(fiber.Map{
			"success":       true,
			"type":          q.Type,
			"start_date":    q.Range.StartDate(),
			"end_date":      q.Range.EndDate(),
			"records_count": ds.Len(),
			"columns":       ds.Columns,
			"data":          ds.Records(),
		})
	}

	body, err := ds.CSV()
	if err != nil {
		return serverError(ctx, ActionExportData, err)
	}
	ctx.Set(fiber.HeaderContentType, "text/csv")
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, ds.Filename(reports.FormatCSV)))
	return ctx.Send(body)
}

func exportToWarehouse(ctx *cartridge.Context, runner *reports.Runner, req ExportRequest) error {
	q, err := exportQuery(req, time.Now())
	if err != nil {
		return badRequest(ctx, err.Error())
	}

	exp, err := runner.RequestWarehouseExport(ctx.UserContext(), q)
	if exp == nil && err != nil {
		return serverError(ctx, ActionExportToBigQuery, err)
	}

	body := fiber.Map{
		"success":       err == nil,
		"status":        exp.Status,
		"export_id":     exp.ID,
		"rows_exported": exp.RowsExported,
	}
	switch {
	case err != nil:
		body["message"] = err.Error()
	case exp.Status == reports.StatusPending:
		body["message"] = "Warehouse credentials not configured; export queued"
	default:
		body["message"] = fmt.Sprintf("Exported %d rows", exp.RowsExported)
	}
	return ctx.JSON(body)
}

// ExportFileAction serves a persisted report file from dir.
func ExportFileAction(dir string) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		name := filepath.Base(ctx.Params("name"))
		if name == "." || name == string(filepath.Separator) || !reports.IsStoredFile(name) {
			return notFound(ctx, "File not found")
		}
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			return notFound(ctx, "File not found")
		}
		return ctx.Download(path, name)
	}
}

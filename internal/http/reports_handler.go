package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"visitlens/internal/reports"
)

// ReportsIndexAction lists scheduled reports.
func ReportsIndexAction(ctx *cartridge.Context) error {
	list, err := reports.List(ctx.DB())
	if err != nil {
		return serverError(ctx, "list reports", err)
	}
	return ctx.JSON(fiber.Map{"reports": list})
}

// ReportCreateAction stores a scheduled report with its first run time.
func ReportCreateAction(runner *reports.Runner) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var r reports.ScheduledReport
		if err := ctx.BodyParser(&r); err != nil {
			return badRequest(ctx, "Invalid request body")
		}
		r.ID = 0
		r.LastRunAt = nil

		if err := r.Validate(); err != nil {
			return badRequest(ctx, err.Error())
		}
		if err := runner.Create(ctx.UserContext(), &r); err != nil {
			return serverError(ctx, "create report", err)
		}
		return ctx.Status(fiber.StatusCreated).JSON(r)
	}
}

// ReportHistoryAction lists executions of one report.
func ReportHistoryAction(ctx *cartridge.Context) error {
	id, ok := paramID(ctx)
	if !ok {
		return badRequest(ctx, "invalid report id")
	}
	if _, err := reports.Get(ctx.DB(), id); errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(ctx, "Report not found")
	} else if err != nil {
		return serverError(ctx, "load report", err)
	}

	history, err := reports.History(ctx.DB(), id, queryLimit(ctx, 50))
	if err != nil {
		return serverError(ctx, "report history", err)
	}
	return ctx.JSON(fiber.Map{"history": history})
}

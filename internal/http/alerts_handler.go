package http

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"visitlens/internal/alerts"
)

// AlertsIndexAction lists alert rules.
func AlertsIndexAction(ctx *cartridge.Context) error {
	configs, err := alerts.ListConfigs(ctx.DB())
	if err != nil {
		return serverError(ctx, "list alerts", err)
	}
	return ctx.JSON(fiber.Map{"alerts": configs})
}

// AlertCreateAction stores a new alert rule.
func AlertCreateAction(ctx *cartridge.Context) error {
	var c alerts.AlertConfig
	if err := ctx.BodyParser(&c); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	c.ID = 0
	c.LastTriggeredAt = nil

	if err := c.Validate(); err != nil {
		return badRequest(ctx, err.Error())
	}
	if err := alerts.CreateConfig(ctx.DB(), &c); err != nil {
		return serverError(ctx, "create alert", err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(c)
}

// AlertsEvaluateAction runs the alert sweep and reports counts.
func AlertsEvaluateAction(evaluator *alerts.Evaluator) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		summary, err := evaluator.Run(ctx.UserContext())
		if err != nil {
			return serverError(ctx, "evaluate alerts", err)
		}
		msg := fmt.Sprintf("%d alerts evaluated, %d triggered", summary.Evaluated, summary.Triggered)
		return toast(ctx, msg, summary.Errors, fiber.Map{
			"evaluated": summary.Evaluated,
			"triggered": summary.Triggered,
			"skipped":   summary.Skipped,
		})
	}
}

// AlertLogsAction returns recent alert logs.
func AlertLogsAction(ctx *cartridge.Context) error {
	logs, err := alerts.RecentLogs(ctx.DB(), queryLimit(ctx, 100))
	if err != nil {
		return serverError(ctx, "alert logs", err)
	}
	return ctx.JSON(fiber.Map{"logs": logs})
}

// AlertAcknowledgeAction marks a log acknowledged.
func AlertAcknowledgeAction(ctx *cartridge.Context) error {
	id, ok := paramID(ctx)
	if !ok {
		return badRequest(ctx, "invalid alert log id")
	}
	log, err := alerts.Acknowledge(ctx.DB(), id, time.Now())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(ctx, "Alert log not found")
	}
	if err != nil {
		return serverError(ctx, "acknowledge alert", err)
	}
	return ctx.JSON(log)
}

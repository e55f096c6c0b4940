package http

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
)

func badRequest(ctx *cartridge.Context, message string) error {
	return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": message})
}

func notFound(ctx *cartridge.Context, message string) error {
	return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": message})
}

// serverError logs err and answers 500 with its message.
func serverError(ctx *cartridge.Context, action string, err error) error {
	ctx.Logger.Error("Admin request failed", slog.String("action", action), slog.Any("error", err))
	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

// toast is the summary shape admin run endpoints return.
func toast(ctx *cartridge.Context, message string, errs []string, extra fiber.Map) error {
	if errs == nil {
		errs = []string{}
	}
	body := fiber.Map{
		"success": len(errs) == 0,
		"message": message,
		"errors":  errs,
	}
	for k, v := range extra {
		body[k] = v
	}
	return ctx.JSON(body)
}

func paramID(ctx *cartridge.Context) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func queryLimit(ctx *cartridge.Context, fallback int) int {
	limit := ctx.QueryInt("limit", fallback)
	if limit <= 0 || limit > 500 {
		return fallback
	}
	return limit
}

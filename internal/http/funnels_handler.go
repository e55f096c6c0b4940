package http

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"visitlens/internal/funnels"
	"visitlens/internal/timeframe"
)

// FunnelsIndexAction lists funnel definitions.
func FunnelsIndexAction(ctx *cartridge.Context) error {
	list, err := funnels.List(ctx.DB(), ctx.QueryBool("active", false))
	if err != nil {
		return serverError(ctx, "list funnels", err)
	}
	return ctx.JSON(fiber.Map{"funnels": list})
}

// FunnelCreateAction stores a new funnel.
func FunnelCreateAction(ctx *cartridge.Context) error {
	var f funnels.Funnel
	if err := ctx.BodyParser(&f); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	f.ID = 0
	f.IsActive = true

	if err := f.Validate(); err != nil {
		return badRequest(ctx, err.Error())
	}
	if err := funnels.Create(ctx.DB(), &f); err != nil {
		return serverError(ctx, "create funnel", err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(f)
}

// FunnelEvaluateAction runs the evaluator for one funnel and day.
func FunnelEvaluateAction(evaluator *funnels.Evaluator) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		id, ok := paramID(ctx)
		if !ok {
			return badRequest(ctx, "invalid funnel id")
		}
		day, err := timeframe.ParseDate(ctx.Query("date"), time.Now())
		if err != nil {
			return badRequest(ctx, err.Error())
		}

		f, err := funnels.Get(ctx.DB(), id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(ctx, "Funnel not found")
		}
		if err != nil {
			return serverError(ctx, "load funnel", err)
		}

		result, err := evaluator.Evaluate(ctx.UserContext(), f, day)
		if errors.Is(err, funnels.ErrEvaluationInProgress) {
			return ctx.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		if err != nil {
			return toast(ctx, "Funnel evaluation failed", []string{err.Error()}, nil)
		}
		msg := fmt.Sprintf("%s: %.1f%% conversion over %d sessions", f.Name, result.ConversionRate, result.TotalSessions)
		return toast(ctx, msg, nil, fiber.Map{"result": result})
	}
}

// FunnelResultsAction returns the stored result for a day, or for a range
// when start/end are given.
func FunnelResultsAction(ctx *cartridge.Context) error {
	id, ok := paramID(ctx)
	if !ok {
		return badRequest(ctx, "invalid funnel id")
	}

	if ctx.Query("start") != "" || ctx.Query("end") != "" {
		r, err := timeframe.ParseRange(ctx.Query("start"), ctx.Query("end"), time.Now(), 7)
		if err != nil {
			return badRequest(ctx, err.Error())
		}
		results, err := funnels.ResultsInRange(ctx.DB(), id, r)
		if err != nil {
			return serverError(ctx, "funnel results", err)
		}
		return ctx.JSON(fiber.Map{"results": results})
	}

	day, err := timeframe.ParseDate(ctx.Query("date"), time.Now())
	if err != nil {
		return badRequest(ctx, err.Error())
	}
	result, err := funnels.GetResult(ctx.DB(), id, day)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(ctx, "No result for that day")
	}
	if err != nil {
		return serverError(ctx, "funnel result", err)
	}
	return ctx.JSON(result)
}

package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"visitlens/internal/events"
	"visitlens/internal/identity"
)

const (
	errInvalidRequest   = "Invalid request body"
	errMethodNotAllowed = "Method not allowed"
	errTrackingFailed   = "Failed to track events"
)

// TrackRequest accepts either a batch under "events" or a single event at
// the top level.
type TrackRequest struct {
	Events []events.RawEvent `json:"events"`
	events.RawEvent
}

// Batch returns the events carried by the request.
func (r *TrackRequest) Batch() []events.RawEvent {
	if r.Events != nil {
		return r.Events
	}
	if r.EventType == "" && r.PagePath == "" {
		return nil
	}
	return []events.RawEvent{r.RawEvent}
}

// TrackAction ingests one batch through the tracker.
func TrackAction(tracker *events.Tracker) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var req TrackRequest
		if err := json.Unmarshal(ctx.Body(), &req); err != nil {
			ctx.Logger.Debug("Failed to parse track request", slog.Any("error", err))
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
		}

		userAgent := ctx.Get("User-Agent")
		if forwardedUA := ctx.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
			userAgent = forwardedUA
		}

		result, err := tracker.Track(ctx.UserContext(), events.TrackInput{
			Events:        req.Batch(),
			UserAgent:     userAgent,
			ClientAddress: identity.ClientAddress(ctx.Get("X-Forwarded-For"), ctx.Get("X-Real-IP"), ctx.IP()),
		})
		if err != nil {
			if isClientError(err) {
				ctx.Logger.Debug("Rejected track batch", slog.Any("error", err))
				return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
			}
			ctx.Logger.Error("Failed to track events", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": errTrackingFailed + ": " + err.Error(),
			})
		}

		return ctx.Status(http.StatusOK).JSON(fiber.Map{
			"success":        true,
			"session_id":     result.SessionID,
			"session_token":  result.SessionID,
			"events_tracked": result.EventsTracked,
		})
	}
}

// MethodNotAllowedAction answers verbs the ingestion path does not serve.
func MethodNotAllowedAction(ctx *cartridge.Context) error {
	ctx.Set(fiber.HeaderAllow, "POST, OPTIONS")
	return ctx.Status(http.StatusMethodNotAllowed).JSON(fiber.Map{"error": errMethodNotAllowed})
}

func isClientError(err error) bool {
	return errors.Is(err, events.ErrEmptyBatch) ||
		errors.Is(err, events.ErrBatchTooLarge) ||
		errors.Is(err, events.ErrInvalidEvent)
}

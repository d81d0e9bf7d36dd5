package run

import (
	"errors"
	"time"

	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/auth"
	"backend-orienteering/internal/course"
	"backend-orienteering/internal/location"

	"github.com/gofiber/fiber/v2"
)

type StartRequest struct {
	MapID int64 `json:"map_id"`
}

type LocationRequest struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

type StopResponse struct {
	Activity activity.Activity `json:"activity"`
	Result   Result            `json:"result"`
}

func RegisterRoutes(r fiber.Router, manager *Manager, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		var req StartRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		state, err := manager.Start(c.Context(), userID, req.MapID)
		switch {
		case errors.Is(err, course.ErrNotFound):
			return fiber.NewError(fiber.StatusNotFound, "map not found")
		case errors.Is(err, ErrNoCheckpoints):
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ErrNotIdle):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case errors.Is(err, location.ErrPermissionDenied), errors.Is(err, location.ErrProviderDisabled):
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(state)
	})

	r.Post("/locations", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		var req LocationRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Timestamp.IsZero() {
			req.Timestamp = time.Now()
		}
		if !manager.Push(userID, location.RawLocation(req)) {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Get("/current", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		state, ok := manager.Current(userID)
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, ErrNotActive.Error())
		}
		return c.JSON(state)
	})

	r.Post("/stop", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		saved, result, err := manager.Stop(c.Context(), userID)
		if errors.Is(err, ErrNotActive) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(StopResponse{Activity: saved, Result: result})
	})
}

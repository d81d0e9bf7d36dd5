package sync

import (
	"context"

	"backend-orienteering/internal/auth"

	"github.com/gofiber/fiber/v2"
)

type recomputeResponse struct {
	Changed int `json:"changed"`
}

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		res, err := svc.SyncAll(c.Context(), userID)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(res)
		}
		return c.JSON(res)
	})

	r.Post("/maps", authMiddleware, func(c *fiber.Ctx) error {
		return syncOne(c, svc.SyncMaps)
	})

	r.Post("/activities", authMiddleware, func(c *fiber.Ctx) error {
		return syncOne(c, svc.SyncActivities)
	})

	r.Post("/recompute", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		n, err := svc.Recompute(c.Context(), userID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(recomputeResponse{Changed: n})
	})
}

func syncOne(c *fiber.Ctx, run func(ctx context.Context, userID int64) (Report, error)) error {
	userID, ok := auth.UserID(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	report, err := run(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(report)
	}
	return c.JSON(report)
}

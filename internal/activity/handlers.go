package activity

import (
	"context"
	"errors"
	"strconv"

	"backend-orienteering/internal/auth"

	"github.com/gofiber/fiber/v2"
)

// Remover deletes an activity locally and, when it was synced, on the server.
type Remover interface {
	DeleteActivity(ctx context.Context, userID, id int64) error
}

func RegisterRoutes(r fiber.Router, store *Store, remover Remover, authMiddleware fiber.Handler) {
	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		activities, err := store.ListByUser(c.Context(), userID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if activities == nil {
			activities = []Activity{}
		}
		return c.JSON(activities)
	})

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		a, err := ownedActivity(c, store)
		if err != nil {
			return err
		}
		return c.JSON(a)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		a, err := ownedActivity(c, store)
		if err != nil {
			return err
		}
		if err := remover.DeleteActivity(c.Context(), a.UserID, a.ID); err != nil {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func ownedActivity(c *fiber.Ctx, store *Store) (Activity, error) {
	userID, ok := auth.UserID(c)
	if !ok {
		return Activity{}, fiber.ErrUnauthorized
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return Activity{}, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	a, err := store.Get(c.Context(), id)
	if errors.Is(err, ErrNotFound) || (err == nil && a.UserID != userID) {
		return Activity{}, fiber.NewError(fiber.StatusNotFound, "activity not found")
	}
	if err != nil {
		return Activity{}, fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return a, nil
}

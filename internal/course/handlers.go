package course

import (
	"context"
	"errors"
	"strconv"

	"backend-orienteering/internal/auth"

	"github.com/gofiber/fiber/v2"
)

// Remover deletes a map both locally and, when it was synced, on the server.
type Remover interface {
	DeleteMap(ctx context.Context, userID, id int64) error
}

type CreateRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Location    string       `json:"location"`
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// controlPoints validates the editor checkpoints and converts them in list
// order. Checkpoints sent without an id get one; duplicate ids are rejected.
func (req CreateRequest) controlPoints() ([]ControlPoint, error) {
	if req.Name == "" || len(req.Checkpoints) == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "name and checkpoints required")
	}
	checkpoints, err := AssignIDs(req.Checkpoints)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return ToControlPoints(checkpoints), nil
}

func RegisterRoutes(r fiber.Router, store *Store, remover Remover, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		var req CreateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		points, err := req.controlPoints()
		if err != nil {
			return err
		}
		m, err := store.Create(c.Context(), Map{
			UserID:        userID,
			Name:          req.Name,
			Description:   req.Description,
			Location:      req.Location,
			ControlPoints: points,
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(m)
	})

	// Only maps that never reached the server can be edited; the server has
	// no update call.
	r.Put("/:id", authMiddleware, func(c *fiber.Ctx) error {
		m, err := ownedMap(c, store)
		if err != nil {
			return err
		}
		if !m.Local() {
			return fiber.NewError(fiber.StatusConflict, "synced maps cannot be edited")
		}
		var req CreateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		points, err := req.controlPoints()
		if err != nil {
			return err
		}
		m.Name = req.Name
		m.Description = req.Description
		m.Location = req.Location
		m.ControlPoints = points
		m.SyncedWithServer = false
		if err := store.Update(c.Context(), m); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "map not found")
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(m)
	})

	r.Get("/:id/checkpoints", authMiddleware, func(c *fiber.Ctx) error {
		m, err := ownedMap(c, store)
		if err != nil {
			return err
		}
		return c.JSON(ToCheckpoints(m.ControlPoints))
	})

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		maps, err := store.ListByUser(c.Context(), userID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if maps == nil {
			maps = []Map{}
		}
		return c.JSON(maps)
	})

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		m, err := ownedMap(c, store)
		if err != nil {
			return err
		}
		return c.JSON(m)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		m, err := ownedMap(c, store)
		if err != nil {
			return err
		}
		if err := remover.DeleteMap(c.Context(), m.UserID, m.ID); err != nil {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func ownedMap(c *fiber.Ctx, store *Store) (Map, error) {
	userID, ok := auth.UserID(c)
	if !ok {
		return Map{}, fiber.ErrUnauthorized
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return Map{}, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	m, err := store.Get(c.Context(), id)
	if errors.Is(err, ErrNotFound) || (err == nil && m.UserID != userID) {
		return Map{}, fiber.NewError(fiber.StatusNotFound, "map not found")
	}
	if err != nil {
		return Map{}, fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return m, nil
}

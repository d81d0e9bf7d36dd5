package settings

import (
	"errors"

	"backend-orienteering/internal/auth"

	"github.com/gofiber/fiber/v2"
)

type Response struct {
	Accuracy     Accuracy `json:"gps_accuracy"`
	VisitRadiusM int      `json:"visit_radius_m"`
}

type accuracyRequest struct {
	Accuracy string `json:"gps_accuracy"`
}

func RegisterRoutes(r fiber.Router, provider *Provider, authMiddleware fiber.Handler) {
	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		a := provider.For(userID).Accuracy(c.Context())
		return c.JSON(Response{Accuracy: a, VisitRadiusM: a.RadiusMeters()})
	})

	r.Put("/accuracy", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		var req accuracyRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		a, err := ParseAccuracy(req.Accuracy)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := provider.For(userID).SetAccuracy(c.Context(), a); err != nil {
			if errors.Is(err, ErrUnknownAccuracy) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return c.JSON(Response{Accuracy: a, VisitRadiusM: a.RadiusMeters()})
	})
}

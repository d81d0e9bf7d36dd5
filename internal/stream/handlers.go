package stream

import (
	"strconv"

	"backend-orienteering/internal/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes serves a user's live run progress. Only that user may
// subscribe.
func RegisterRoutes(r fiber.Router, hub *Hub, authMiddleware fiber.Handler) {
	r.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})

	r.Get("/ws/:userID", authMiddleware, ownStream, websocket.New(func(c *websocket.Conn) {
		client := hub.Register(c.Params("userID"))
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}

func ownStream(c *fiber.Ctx) error {
	userID, ok := auth.UserID(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	if c.Params("userID") != strconv.FormatInt(userID, 10) {
		return fiber.NewError(fiber.StatusForbidden, "not your stream")
	}
	return c.Next()
}

package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/clawwork/livebench/internal/hub"
	"github.com/clawwork/livebench/internal/middleware"
)

// BroadcastHandler lets workers push messages to the tenant's
// websocket clients.
type BroadcastHandler struct {
	hub *hub.BroadcastHub
}

func NewBroadcastHandler(h *hub.BroadcastHub) *BroadcastHandler {
	return &BroadcastHandler{hub: h}
}

// Send broadcasts the request body to every client of the caller's
// tenant.
func (h *BroadcastHandler) Send(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)

	var message map[string]any
	if err := c.BodyParser(&message); err != nil {
		return middleware.BadRequest(c, "Invalid JSON body")
	}

	delivered := h.hub.Broadcast(tctx.Key, message)
	return c.JSON(fiber.Map{"status": "broadcast sent", "delivered": delivered})
}

package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// RootHandler serves the API index and liveness probe.
type RootHandler struct {
	version string
}

func NewRootHandler(version string) *RootHandler {
	return &RootHandler{version: version}
}

// Index describes the API surface.
func (h *RootHandler) Index(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "LiveBench API",
		"version": h.version,
		"endpoints": fiber.Map{
			"agents":          "/api/agents",
			"agent_detail":    "/api/agents/:signature",
			"tasks":           "/api/agents/:signature/tasks",
			"learning":        "/api/agents/:signature/learning",
			"economic":        "/api/agents/:signature/economic",
			"leaderboard":     "/api/leaderboard",
			"artifacts":       "/api/artifacts/random",
			"websocket":       "/ws",
			"simulations":     "/api/simulations",
			"stop_simulation": "/api/simulations/:id/stop",
		},
	})
}

// Health is the liveness probe.
func (h *RootHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

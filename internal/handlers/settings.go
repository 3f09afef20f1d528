package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/clawwork/livebench/internal/logger"
	"github.com/clawwork/livebench/internal/middleware"
	"github.com/clawwork/livebench/internal/store"
)

// SettingsHandler serves the per-tenant UI preference endpoints.
type SettingsHandler struct {
	settings *store.Settings
}

func NewSettingsHandler(settings *store.Settings) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// GetHiddenAgents returns the tenant's hidden agent signatures.
func (h *SettingsHandler) GetHiddenAgents(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)
	return c.JSON(fiber.Map{"hidden": h.settings.HiddenAgents(tctx)})
}

// SetHiddenAgents replaces the tenant's hidden agent list.
func (h *SettingsHandler) SetHiddenAgents(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)

	body := struct {
		Hidden []string `json:"hidden"`
	}{}
	if err := c.BodyParser(&body); err != nil {
		return middleware.BadRequest(c, "Invalid JSON body")
	}

	if err := h.settings.SetHiddenAgents(tctx, body.Hidden); err != nil {
		middleware.GetLogger(c).Error("Failed to save hidden agents", logger.Error(err))
		return middleware.InternalError(c, "Failed to save settings")
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// GetDisplayNames returns the tenant's display-name mapping.
func (h *SettingsHandler) GetDisplayNames(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)
	return c.JSON(h.settings.DisplayNames(tctx))
}

// SetDisplayNames replaces the tenant's display-name mapping.
func (h *SettingsHandler) SetDisplayNames(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)

	var names map[string]string
	if err := c.BodyParser(&names); err != nil {
		return middleware.BadRequest(c, "Invalid JSON body")
	}

	if err := h.settings.SetDisplayNames(tctx, names); err != nil {
		middleware.GetLogger(c).Error("Failed to save display names", logger.Error(err))
		return middleware.InternalError(c, "Failed to save settings")
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

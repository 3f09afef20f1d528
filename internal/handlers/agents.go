package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/clawwork/livebench/internal/logger"
	"github.com/clawwork/livebench/internal/middleware"
	"github.com/clawwork/livebench/internal/store"
)

// AgentHandler serves the agent telemetry read endpoints.
type AgentHandler struct {
	data           *store.AgentData
	terminalLogMax int64
}

func NewAgentHandler(data *store.AgentData, terminalLogMax int64) *AgentHandler {
	return &AgentHandler{data: data, terminalLogMax: terminalLogMax}
}

// List returns every agent's latest status.
func (h *AgentHandler) List(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)
	return c.JSON(fiber.Map{"agents": h.data.Agents(tctx)})
}

// Detail returns one agent's full history.
func (h *AgentHandler) Detail(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)
	signature := c.Params("signature")

	detail, err := h.data.Detail(tctx, signature)
	if err != nil {
		return h.agentError(c, signature, err)
	}
	return c.JSON(detail)
}

// Tasks returns the agent's tasks merged with evaluations.
func (h *AgentHandler) Tasks(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)
	signature := c.Params("signature")

	tasks, err := h.data.Tasks(tctx, signature)
	if err != nil {
		return h.agentError(c, signature, err)
	}
	if tasks == nil {
		tasks = []store.Entry{}
	}
	return c.JSON(fiber.Map{"tasks": tasks})
}

// Learning returns the agent's memory entries and rendered summary.
func (h *AgentHandler) Learning(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)
	signature := c.Params("signature")

	learning, err := h.data.Learning(tctx, signature)
	if err != nil {
		return h.agentError(c, signature, err)
	}
	return c.JSON(learning)
}

// Economic returns the agent's balance series.
func (h *AgentHandler) Economic(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)
	signature := c.Params("signature")

	econ, err := h.data.Economic(tctx, signature)
	if err != nil {
		if errors.Is(err, store.ErrNoEconomicData) {
			return middleware.NotFound(c, "No economic data found")
		}
		return h.agentError(c, signature, err)
	}
	return c.JSON(econ)
}

// TerminalLog returns the agent's terminal log for a date, capped at
// the configured size.
func (h *AgentHandler) TerminalLog(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)
	signature := c.Params("signature")
	date := c.Params("date")

	content, err := h.data.TerminalLog(tctx, signature, date, h.terminalLogMax)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidDate):
			return middleware.BadRequest(c, "Invalid date")
		case errors.Is(err, store.ErrLogNotFound):
			return middleware.NotFound(c, "Log not found")
		default:
			return h.agentError(c, signature, err)
		}
	}
	return c.JSON(fiber.Map{"date": date, "content": content})
}

// Leaderboard returns the per-agent summary rows.
func (h *AgentHandler) Leaderboard(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)
	return c.JSON(fiber.Map{"agents": h.data.Leaderboard(tctx)})
}

func (h *AgentHandler) agentError(c *fiber.Ctx, signature string, err error) error {
	if errors.Is(err, store.ErrAgentNotFound) {
		return middleware.NotFound(c, "Agent not found")
	}
	middleware.GetLogger(c).Error("Agent data read failed",
		logger.String("signature", signature),
		logger.Error(err))
	return middleware.InternalError(c, "Failed to read agent data")
}

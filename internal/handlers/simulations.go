package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/clawwork/livebench/internal/logger"
	"github.com/clawwork/livebench/internal/middleware"
	"github.com/clawwork/livebench/internal/simulation"
)

// SimulationHandler exposes the simulation lifecycle endpoints.
type SimulationHandler struct {
	supervisor *simulation.Supervisor
}

func NewSimulationHandler(supervisor *simulation.Supervisor) *SimulationHandler {
	return &SimulationHandler{supervisor: supervisor}
}

// Start spawns a new simulation worker for the caller's tenant.
func (h *SimulationHandler) Start(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)
	log := middleware.GetLogger(c)

	var req simulation.StartRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("Failed to parse simulation request", logger.Error(err))
		return middleware.BadRequest(c, "Invalid JSON body")
	}
	if req.Config == nil {
		return middleware.BadRequest(c, "Missing simulation config")
	}

	rec, err := h.supervisor.Start(tctx, req)
	if err != nil {
		if errors.Is(err, simulation.ErrEnvKeyNotAllowed) {
			return middleware.BadRequest(c, err.Error())
		}
		log.Error("Failed to start simulation", logger.Error(err))
		return middleware.InternalError(c, "Failed to start simulation")
	}

	return c.JSON(fiber.Map{
		"status":        "success",
		"message":       "Simulation started",
		"simulation_id": rec.ID,
		"pid":           rec.PID,
		"config_path":   rec.ConfigPath,
	})
}

// List returns the tenant's registry with liveness reconciled.
func (h *SimulationHandler) List(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)

	records, err := h.supervisor.List(tctx)
	if err != nil {
		middleware.GetLogger(c).Error("Failed to list simulations", logger.Error(err))
		return middleware.InternalError(c, "Failed to list simulations")
	}
	if records == nil {
		records = []simulation.Record{}
	}
	return c.JSON(fiber.Map{"simulations": records})
}

// Stop signals a running simulation. Stopping an already terminal
// record succeeds without side effects.
func (h *SimulationHandler) Stop(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)
	id := c.Params("id")

	rec, err := h.supervisor.Stop(tctx, id)
	if err != nil {
		if errors.Is(err, simulation.ErrNotFound) {
			return middleware.NotFound(c, "Simulation not found")
		}
		middleware.GetLogger(c).Error("Failed to stop simulation",
			logger.String("simulation_id", id),
			logger.Error(err))
		return middleware.InternalError(c, "Failed to stop simulation")
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Simulation stopped",
		"result":  rec.Status,
	})
}

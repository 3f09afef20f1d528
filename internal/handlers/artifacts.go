package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/clawwork/livebench/internal/middleware"
	"github.com/clawwork/livebench/internal/store"
)

const (
	defaultArtifactCount = 30
	maxArtifactCount     = 100
)

// ArtifactHandler serves agent-produced document files.
type ArtifactHandler struct {
	data *store.AgentData
}

func NewArtifactHandler(data *store.AgentData) *ArtifactHandler {
	return &ArtifactHandler{data: data}
}

// Random returns a sample of artifact documents across the tenant's
// agents.
func (h *ArtifactHandler) Random(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)

	count := c.QueryInt("count", defaultArtifactCount)
	if count < 1 || count > maxArtifactCount {
		return middleware.BadRequest(c, "count must be between 1 and 100")
	}

	return c.JSON(fiber.Map{"artifacts": h.data.RandomArtifacts(tctx, count)})
}

// File streams one artifact, confined to the tenant's data dir.
func (h *ArtifactHandler) File(c *fiber.Ctx) error {
	tctx := middleware.GetTenant(c)

	relPath := c.Query("path")
	resolved, mime, err := h.data.ResolveArtifact(tctx, relPath)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidPath):
			return middleware.BadRequest(c, "Invalid path")
		case errors.Is(err, store.ErrOutsideRoot):
			return middleware.Forbidden(c, "Access denied")
		case errors.Is(err, store.ErrFileNotFound):
			return middleware.NotFound(c, "File not found")
		default:
			return middleware.InternalError(c, "Failed to resolve artifact")
		}
	}

	c.Set(fiber.HeaderContentType, mime)
	return c.SendFile(resolved)
}

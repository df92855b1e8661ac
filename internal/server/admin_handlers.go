package server

import (
	"errors"

	"momentum/internal/jobs"
	"momentum/internal/models"
	"momentum/internal/queue"

	"github.com/gofiber/fiber/v2"
)

// GetDeadLetters handles GET /api/admin/dead-letters/:kind
func (s *Server) GetDeadLetters(c *fiber.Ctx) error {
	kind := queue.Kind(c.Params("kind"))
	if !kind.Valid() {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Unknown job kind"))
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	dead, err := s.queue.DeadLetters(c.UserContext(), kind, limit)
	if err != nil {
		return models.RespondWithAppError(c, models.NewInternalError(err))
	}
	if dead == nil {
		dead = []*queue.Job{}
	}
	return c.JSON(fiber.Map{"kind": kind, "jobs": dead})
}

// Reconcile handles POST /api/admin/reconcile. With ?dryRun=true it only
// reports mismatches.
func (s *Server) Reconcile(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if c.QueryBool("dryRun", false) {
		mismatches, err := s.reconciler.Check(ctx)
		if err != nil {
			return models.RespondWithAppError(c, models.NewInternalError(err))
		}
		if mismatches == nil {
			mismatches = []jobs.Mismatch{}
		}
		return c.JSON(fiber.Map{"mismatches": mismatches})
	}

	report, err := s.reconciler.Rebuild(ctx)
	if err != nil {
		if errors.Is(err, jobs.ErrLocked) {
			return models.RespondWithError(c, fiber.StatusConflict,
				models.NewConflictError("Reconcile already running"))
		}
		return models.RespondWithAppError(c, models.NewInternalError(err))
	}
	return c.JSON(report)
}

package server

import (
	"errors"

	"driftchat/internal/models"
	"driftchat/internal/ratelimit"
	"driftchat/internal/safety"

	"github.com/gofiber/fiber/v2"
)

// GetSafetyStatus reports the caller's own standing: whether pending reports
// currently keep them out of matchmaking, and how many blocks they hold.
func (s *Server) GetSafetyStatus(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)

	restricted, err := s.guard.IsRestricted(ctx, userID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}
	blocks, err := s.guard.Blocks(ctx, userID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(fiber.Map{
		"restricted": restricted,
		"blocks":     len(blocks),
	})
}

// GetMyBlocks returns the list of users blocked by the current user.
func (s *Server) GetMyBlocks(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)

	blocks, err := s.guard.Blocks(ctx, userID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(blocks)
}

// BlockUser blocks the target user for the current user. Blocking is
// one-directional but excludes the pair from matching in both directions.
func (s *Server) BlockUser(c *fiber.Ctx) error {
	ctx := c.UserContext()
	blockerID := currentUserID(c)
	targetID, err := s.parseUserID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for blocks.
	_ = c.BodyParser(&req)

	if err := s.guard.Block(ctx, blockerID, targetID, req.Reason); err != nil {
		if errors.Is(err, safety.ErrSelfTarget) {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("cannot block yourself"))
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(fiber.Map{"message": "User blocked"})
}

// UnblockUser removes the block of the target user.
func (s *Server) UnblockUser(c *fiber.Ctx) error {
	ctx := c.UserContext()
	blockerID := currentUserID(c)
	targetID, err := s.parseUserID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.guard.Unblock(ctx, blockerID, targetID); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	// A lifted block may unblock two waiting searchers.
	s.hub.Wake()
	return c.JSON(fiber.Map{"message": "User unblocked"})
}

// ReportUser files an abuse report against the target user. Reports count
// against a daily budget so the report button cannot itself become a
// harassment tool.
func (s *Server) ReportUser(c *fiber.Ctx) error {
	ctx := c.UserContext()
	reporterID := currentUserID(c)
	targetID, err := s.parseUserID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Reason      string `json:"reason"`
		Description string `json:"description"`
	}
	if bodyErr := c.BodyParser(&req); bodyErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	if d := s.limiter.Allow(reporterID, ratelimit.ActionReports); !d.Allowed {
		return models.RespondWithError(c, fiber.StatusTooManyRequests,
			models.NewRateLimitedError("reports", d.RetryAfterSeconds()))
	}

	report, createErr := s.guard.Report(ctx, reporterID, targetID,
		models.ReportReason(req.Reason), req.Description)
	if createErr != nil {
		switch {
		case errors.Is(createErr, safety.ErrSelfTarget):
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("cannot report yourself"))
		case errors.Is(createErr, safety.ErrInvalidReason):
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("unknown report reason"))
		default:
			return models.RespondWithError(c, fiber.StatusInternalServerError, createErr)
		}
	}

	s.limiter.Record(reporterID, ratelimit.ActionReports)
	return c.Status(fiber.StatusCreated).JSON(report)
}

// EmergencyDisconnectUser is the panic button: block, high-priority report
// and immediate end of the live chat in one request. It bypasses the report
// budget; cutting off an abusive partner must always work.
func (s *Server) EmergencyDisconnectUser(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	targetID, err := s.parseUserID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.BodyParser(&req)
	reason := models.ReportReason(req.Reason)
	if !reason.Valid() {
		reason = models.ReasonHarassment
	}

	report, derr := s.hub.EmergencyDisconnect(ctx, userID, targetID, reason)
	if derr != nil {
		if errors.Is(derr, safety.ErrSelfTarget) {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("cannot target yourself"))
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError, derr)
	}

	return c.Status(fiber.StatusCreated).JSON(report)
}

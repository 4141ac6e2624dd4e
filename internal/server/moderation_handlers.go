package server

import (
	"errors"

	"driftchat/internal/models"
	"driftchat/internal/safety"

	"github.com/gofiber/fiber/v2"
)

// GetReports returns reports for the moderation queue, optionally filtered
// by status, newest first. High-priority reports come from emergency
// disconnects and sort ahead of the rest.
func (s *Server) GetReports(c *fiber.Ctx) error {
	ctx := c.UserContext()
	page := parsePagination(c, 50)

	status := models.ReportStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("unknown report status"))
	}

	reports, err := s.guard.ListReports(ctx, status, page.Limit, page.Offset)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(fiber.Map{
		"reports": reports,
		"limit":   page.Limit,
		"offset":  page.Offset,
	})
}

// UpdateReportStatus moves a report through the moderation workflow. A
// resolved or dismissed report stops counting toward the reported user's
// restriction, which can put them back into matchmaking immediately.
func (s *Server) UpdateReportStatus(c *fiber.Ctx) error {
	ctx := c.UserContext()
	reportID := c.Params("id")
	if reportID == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid report ID"))
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	status := models.ReportStatus(req.Status)
	if !status.Valid() {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("unknown report status"))
	}

	report, err := s.guard.SetReportStatus(ctx, reportID, status)
	if err != nil {
		switch {
		case errors.Is(err, safety.ErrReportNotFound):
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundError("Report", reportID))
		case errors.Is(err, safety.ErrInvalidTransition):
			return models.RespondWithError(c, fiber.StatusConflict,
				models.NewValidationError("report cannot move to that status"))
		default:
			return models.RespondWithError(c, fiber.StatusInternalServerError, err)
		}
	}

	// Restriction is derived from pending counts, so a resolution may free
	// a waiting searcher right now.
	s.hub.Wake()
	return c.JSON(report)
}

// EraseUser removes everything stored about an identity: reports filed by
// and against it, and blocks in both directions. Any live session is cut.
func (s *Server) EraseUser(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID, err := s.parseUserID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.guard.EraseUser(ctx, userID); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}
	s.hub.Disconnect(userID)

	return c.JSON(fiber.Map{"message": "User data erased"})
}

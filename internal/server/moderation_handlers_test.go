package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"driftchat/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// adminApp registers the admin routes with the moderator gate already
// satisfied.
func adminApp(s *Server) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("userID", "mod-1")
		c.Locals("isModerator", true)
		return c.Next()
	})
	g := app.Group("/api/admin")
	g.Get("/reports", s.GetReports)
	g.Post("/reports/:id/status", s.UpdateReportStatus)
	g.Delete("/users/:id", s.EraseUser)
	return app
}

func TestGetReportsFiltersByStatus(t *testing.T) {
	s := newSafetyTestServer(t)
	app := adminApp(s)
	ctx := context.Background()

	r1, err := s.guard.Report(ctx, "alice", "bob", models.ReasonSpam, "")
	require.NoError(t, err)
	_, err = s.guard.Report(ctx, "carol", "bob", models.ReasonHarassment, "")
	require.NoError(t, err)
	_, err = s.guard.SetReportStatus(ctx, r1.ID, models.ReportStatusResolved)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/admin/reports?status=pending", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Reports []models.SafetyReport `json:"reports"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Reports, 1)
	assert.Equal(t, "carol", body.Reports[0].ReporterID)
	_ = resp.Body.Close()

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/admin/reports?status=sideways", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateReportStatus(t *testing.T) {
	s := newSafetyTestServer(t)
	app := adminApp(s)
	ctx := context.Background()

	report, err := s.guard.Report(ctx, "alice", "bob", models.ReasonSpam, "")
	require.NoError(t, err)

	t.Run("pending to reviewed", func(t *testing.T) {
		resp, err := app.Test(jsonReq(http.MethodPost,
			"/api/admin/reports/"+report.ID+"/status", fiber.Map{"status": "reviewed"}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var updated models.SafetyReport
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
		assert.Equal(t, models.ReportStatusReviewed, updated.Status)
		_ = resp.Body.Close()
	})

	t.Run("reviewed back to pending is refused", func(t *testing.T) {
		resp, err := app.Test(jsonReq(http.MethodPost,
			"/api/admin/reports/"+report.ID+"/status", fiber.Map{"status": "pending"}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unknown report", func(t *testing.T) {
		resp, err := app.Test(jsonReq(http.MethodPost,
			"/api/admin/reports/no-such-id/status", fiber.Map{"status": "resolved"}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unknown status", func(t *testing.T) {
		resp, err := app.Test(jsonReq(http.MethodPost,
			"/api/admin/reports/"+report.ID+"/status", fiber.Map{"status": "sideways"}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestResolvingReportsLiftsRestriction(t *testing.T) {
	s := newSafetyTestServer(t)
	app := adminApp(s)
	ctx := context.Background()

	var ids []string
	for _, reporter := range []string{"r1", "r2", "r3"} {
		r, err := s.guard.Report(ctx, reporter, "bob", models.ReasonSpam, "")
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	restricted, err := s.guard.IsRestricted(ctx, "bob")
	require.NoError(t, err)
	require.True(t, restricted)

	resp, err := app.Test(jsonReq(http.MethodPost,
		"/api/admin/reports/"+ids[0]+"/status", fiber.Map{"status": "dismissed"}))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	restricted, err = s.guard.IsRestricted(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, restricted, "dropping below the threshold clears the restriction")
}

func TestEraseUser(t *testing.T) {
	s := newSafetyTestServer(t)
	app := adminApp(s)
	ctx := context.Background()

	_, err := s.guard.Report(ctx, "alice", "bob", models.ReasonSpam, "")
	require.NoError(t, err)
	require.NoError(t, s.guard.Block(ctx, "bob", "carol", ""))

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/api/admin/users/bob", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	reports, err := s.guard.ListReports(ctx, "", 50, 0)
	require.NoError(t, err)
	assert.Empty(t, reports)

	blocks, err := s.guard.Blocks(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestAdminRequired(t *testing.T) {
	s := newSafetyTestServer(t)
	app := fiber.New()
	app.Get("/admin-only", func(c *fiber.Ctx) error {
		c.Locals("userID", "user-1")
		c.Locals("isModerator", false)
		return c.Next()
	}, s.AdminRequired(), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/admin-only", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"driftchat/internal/config"
	"driftchat/internal/models"
	"driftchat/internal/ratelimit"
	"driftchat/internal/safety"
	"driftchat/internal/signaling"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSafetyTestServer(t *testing.T) *Server {
	t.Helper()
	guard := safety.NewGuard(safety.NewMemoryStore(), 0)
	limiter := ratelimit.NewLimiter(ratelimit.DefaultRules())
	registry := signaling.NewRegistry()

	s := &Server{
		config:          &config.Config{JWTSecret: "test-secret"},
		guard:           guard,
		limiter:         limiter,
		registry:        registry,
		consumedTickets: make(map[string]consumedTicketEntry),
	}
	s.hub = signaling.NewHub(registry, limiter, guard, signaling.HubConfig{})
	return s
}

// safetyApp registers the safety routes with a fixed identity, skipping the
// real auth middleware.
func safetyApp(s *Server, userID string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("userID", userID)
		return c.Next()
	})
	g := app.Group("/api/safety")
	g.Get("/status", s.GetSafetyStatus)
	g.Get("/blocks", s.GetMyBlocks)
	g.Post("/blocks/:id", s.BlockUser)
	g.Delete("/blocks/:id", s.UnblockUser)
	g.Post("/reports/:id", s.ReportUser)
	g.Post("/emergency-disconnect/:id", s.EmergencyDisconnectUser)
	return app
}

func jsonReq(method, target string, payload any) *http.Request {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestBlockAndUnblockUser(t *testing.T) {
	s := newSafetyTestServer(t)
	app := safetyApp(s, "alice")

	resp, err := app.Test(jsonReq(http.MethodPost, "/api/safety/blocks/bob", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/safety/blocks", nil))
	require.NoError(t, err)
	var blocks []models.UserBlock
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&blocks))
	require.Len(t, blocks, 1)
	assert.Equal(t, "bob", blocks[0].BlockedID)
	_ = resp.Body.Close()

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/safety/blocks/bob", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/safety/blocks", nil))
	require.NoError(t, err)
	blocks = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&blocks))
	assert.Empty(t, blocks)
	_ = resp.Body.Close()
}

func TestBlockYourself(t *testing.T) {
	s := newSafetyTestServer(t)
	app := safetyApp(s, "alice")

	resp, err := app.Test(jsonReq(http.MethodPost, "/api/safety/blocks/alice", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReportUser(t *testing.T) {
	s := newSafetyTestServer(t)
	app := safetyApp(s, "alice")

	t.Run("creates a pending report", func(t *testing.T) {
		resp, err := app.Test(jsonReq(http.MethodPost, "/api/safety/reports/bob", fiber.Map{
			"reason":      "spam",
			"description": "kept pasting the same link",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var report models.SafetyReport
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
		assert.Equal(t, "alice", report.ReporterID)
		assert.Equal(t, "bob", report.ReportedID)
		assert.Equal(t, models.ReportStatusPending, report.Status)
		assert.False(t, report.HighPriority)
		_ = resp.Body.Close()
	})

	t.Run("unknown reason", func(t *testing.T) {
		resp, err := app.Test(jsonReq(http.MethodPost, "/api/safety/reports/bob", fiber.Map{
			"reason": "vibes",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("self report", func(t *testing.T) {
		resp, err := app.Test(jsonReq(http.MethodPost, "/api/safety/reports/alice", fiber.Map{
			"reason": "spam",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestReportBudgetExhausted(t *testing.T) {
	s := newSafetyTestServer(t)
	app := safetyApp(s, "alice")

	// The daily budget admits 5 reports; the 6th gets a cooldown.
	for i := 0; i < 5; i++ {
		resp, err := app.Test(jsonReq(http.MethodPost,
			fmt.Sprintf("/api/safety/reports/user-%d", i), fiber.Map{"reason": "spam"}))
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, err := app.Test(jsonReq(http.MethodPost, "/api/safety/reports/user-6", fiber.Map{
		"reason": "spam",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotZero(t, body["retry_after"])
	_ = resp.Body.Close()
}

func TestSafetyStatusReflectsRestriction(t *testing.T) {
	s := newSafetyTestServer(t)
	app := safetyApp(s, "bob")
	ctx := context.Background()

	status := func() map[string]interface{} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/safety/status", nil))
		require.NoError(t, err)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		_ = resp.Body.Close()
		return body
	}

	assert.Equal(t, false, status()["restricted"])

	for i := 0; i < 3; i++ {
		_, err := s.guard.Report(ctx, fmt.Sprintf("reporter-%d", i), "bob", models.ReasonSpam, "")
		require.NoError(t, err)
	}
	assert.Equal(t, true, status()["restricted"])
}

func TestEmergencyDisconnectHandler(t *testing.T) {
	s := newSafetyTestServer(t)
	app := safetyApp(s, "alice")

	resp, err := app.Test(jsonReq(http.MethodPost, "/api/safety/emergency-disconnect/bob", fiber.Map{
		"reason": "harassment",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var report models.SafetyReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.True(t, report.HighPriority)
	_ = resp.Body.Close()

	// The pair is blocked in both directions afterwards.
	elig, err := s.guard.CanInteract(context.Background(), "bob", "alice")
	require.NoError(t, err)
	assert.False(t, elig.Allowed)
}

package server

import (
	"context"
	"time"

	"driftchat/internal/middleware"
	"driftchat/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// wsTicketTTL is how long an issued ticket stays redeemable. Tickets are
// single-use: redeeming one deletes it.
const wsTicketTTL = 30 * time.Second

// IssueWSTicket mints a short-lived single-use ticket the client presents on
// the WebSocket upgrade. Browsers cannot set an Authorization header on the
// upgrade request, and putting the JWT in the query string would leak it.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewInternalError(nil))
	}

	ticket := uuid.NewString()
	key := "ws_ticket:" + ticket
	if err := s.redis.Set(c.Context(), key, userID, wsTicketTTL).Err(); err != nil {
		middleware.RedisErrors.WithLabelValues("set").Inc()
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(fiber.Map{
		"wsTicket":  ticket,
		"expiresIn": int(wsTicketTTL.Seconds()),
	})
}

// wsTicketGrace keeps a redeemed ticket valid in-process for a moment.
// Fiber's websocket upgrade can run the middleware chain more than once for
// the same handshake, and the second pass must still authenticate.
const wsTicketGrace = 10 * time.Second

type consumedTicketEntry struct {
	userID    string
	expiresAt time.Time
}

// consumeWSTicket redeems a ticket. The Redis copy is taken with GETDEL so a
// ticket can never authenticate two different connections; re-entry within
// the same handshake is served from the in-process cache.
func (s *Server) consumeWSTicket(ctx context.Context, ticket string) (string, bool) {
	if ticket == "" {
		return "", false
	}

	now := time.Now()
	s.consumedTicketsMu.Lock()
	if e, ok := s.consumedTickets[ticket]; ok {
		if now.Before(e.expiresAt) {
			s.consumedTicketsMu.Unlock()
			return e.userID, true
		}
		delete(s.consumedTickets, ticket)
	}
	s.consumedTicketsMu.Unlock()

	if s.redis == nil {
		return "", false
	}
	userID, err := s.redis.GetDel(ctx, "ws_ticket:"+ticket).Result()
	if err != nil || userID == "" {
		return "", false
	}

	s.consumedTicketsMu.Lock()
	for t, e := range s.consumedTickets {
		if now.After(e.expiresAt) {
			delete(s.consumedTickets, t)
		}
	}
	s.consumedTickets[ticket] = consumedTicketEntry{userID: userID, expiresAt: now.Add(wsTicketGrace)}
	s.consumedTicketsMu.Unlock()

	return userID, true
}

package server

import (
	"errors"
	"log"

	"driftchat/internal/signaling"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// WebSocketRouletteHandler handles WebSocket connections for the roulette.
// AuthRequired has already redeemed the ticket by the time the upgrade runs,
// so the identity comes from locals. Registration is implicit: a successful
// upgrade is the session.
func (s *Server) WebSocketRouletteHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals("userID").(string)
		if !ok || userID == "" {
			_ = conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"type":"error","code":"UNAUTHORIZED","message":"authentication required"}`))
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			if errors.Is(err, signaling.ErrAlreadyRegistered) {
				_ = conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"type":"error","code":"ALREADY_CONNECTED","message":"another connection is active for this identity"}`))
			} else {
				log.Printf("Roulette WS: register failed for user %s: %v", userID, err)
			}
			_ = conn.Close()
			return
		}

		go client.WritePump()
		// ReadPump blocks until the connection drops and tears the session
		// down on the way out.
		client.ReadPump()
	})
}

package server

import (
	"github.com/gofiber/fiber/v2"
)

// iceServer mirrors the RTCIceServer shape WebRTC clients feed to
// RTCPeerConnection.
type iceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// GetRouletteConfig hands the client everything it needs before connecting:
// ICE servers and the tuning values that shape UX (how long until a rematch
// with the same partner is possible again).
func (s *Server) GetRouletteConfig(c *fiber.Ctx) error {
	servers := []iceServer{}
	if s.config.STUNURL != "" {
		servers = append(servers, iceServer{URLs: []string{s.config.STUNURL}})
	}
	if s.config.TURNURL != "" {
		servers = append(servers, iceServer{
			URLs:       []string{s.config.TURNURL},
			Username:   s.config.TURNUsername,
			Credential: s.config.TURNPassword,
		})
	}

	return c.JSON(fiber.Map{
		"iceServers":             servers,
		"rematchCooldownSeconds": s.config.RematchCooldownSeconds,
	})
}

// GetRouletteStats reports how many sessions are currently live.
func (s *Server) GetRouletteStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"online": s.hub.OnlineCount(),
	})
}

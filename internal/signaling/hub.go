package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"driftchat/internal/models"
	"driftchat/internal/observability"
	"driftchat/internal/ratelimit"
	"driftchat/internal/safety"

	"github.com/gofiber/websocket/v2"
)

// Hub ties the registry, matchmaker, rate limiter and safety guard together
// and relays signaling between paired sessions. It never looks inside SDP,
// ICE or chat payloads: validation stops at "the sender is who they claim
// and has an active partner".
type Hub struct {
	registry   *Registry
	limiter    *ratelimit.Limiter
	guard      *safety.Guard
	matchmaker *Matchmaker

	mu      sync.RWMutex
	clients map[string]*Client
}

// HubConfig carries matchmaking tunables into the hub.
type HubConfig struct {
	RematchCooldown int // seconds; 0 means default
	SearchKeepalive int // seconds; 0 means default
}

// NewHub wires a Hub and its matchmaker.
func NewHub(registry *Registry, limiter *ratelimit.Limiter, guard *safety.Guard, cfg HubConfig) *Hub {
	h := &Hub{
		registry: registry,
		limiter:  limiter,
		guard:    guard,
		clients:  make(map[string]*Client),
	}
	h.matchmaker = NewMatchmaker(registry, guard, MatchmakerConfig{
		RematchCooldown: secondsOrZero(cfg.RematchCooldown),
		SearchKeepalive: secondsOrZero(cfg.SearchKeepalive),
		OnPaired:        h.notifyPaired,
		OnSearching:     h.notifySearching,
	})
	return h
}

// Run starts the matchmaker loop. Blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.matchmaker.Run(ctx)
}

// Register creates a session and attaches the connection. Fails with
// ErrAlreadyRegistered while a previous session for the same user is live.
func (h *Hub) Register(userID string, conn *websocket.Conn) (*Client, error) {
	if _, err := h.registry.Register(userID); err != nil {
		return nil, err
	}

	client := NewClient(h, conn, userID)
	h.mu.Lock()
	h.clients[userID] = client
	h.mu.Unlock()

	log.Printf("Hub: user %s registered (%d online)", userID, h.registry.Count())
	return client, nil
}

// Disconnect unwinds the session from any point in its lifecycle: leaves the
// waiting queue, unpairs with a partner-left notification, and removes the
// session and client. Idempotent.
func (h *Hub) Disconnect(userID string) {
	h.matchmaker.Remove(userID)

	partnerID, existed := h.registry.Disconnect(userID)
	if partnerID != "" {
		h.sendTo(partnerID, Signal{Type: EventPartnerLeft})
	}

	h.mu.Lock()
	client, ok := h.clients[userID]
	if ok {
		delete(h.clients, userID)
	}
	h.mu.Unlock()

	if ok {
		close(client.Send)
	}
	if existed {
		log.Printf("Hub: user %s disconnected (%d online)", userID, h.registry.Count())
	}
}

// HandleIncoming dispatches one parsed event from a connection. Runs on that
// connection's read goroutine.
func (h *Hub) HandleIncoming(c *Client, raw []byte) {
	var sig Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		log.Printf("Hub: invalid message from user %s: %v", c.UserID, err)
		h.sendTo(c.UserID, errorSignal(CodeBadEvent, "malformed event", 0))
		return
	}

	h.registry.Touch(c.UserID)

	switch sig.Type {
	case EventStartSearch:
		h.StartSearch(c.UserID)
	case EventOffer, EventAnswer, EventICECandidate:
		h.RelaySignal(c.UserID, sig)
	case EventMessage:
		h.RelayChat(c.UserID, sig.Payload)
	case EventEndChat:
		h.EndChat(c.UserID)
	default:
		log.Printf("Hub: unknown event type %q from user %s", sig.Type, c.UserID)
		h.sendTo(c.UserID, errorSignal(CodeBadEvent, fmt.Sprintf("unknown event type %q", sig.Type), 0))
	}
}

// StartSearch moves the session into the waiting queue, gated by the
// connection and session-cooldown budgets.
func (h *Hub) StartSearch(userID string) {
	for _, action := range []ratelimit.Action{ratelimit.ActionConnection, ratelimit.ActionSessionCooldown} {
		if d := h.limiter.Allow(userID, action); !d.Allowed {
			h.sendTo(userID, errorSignal(CodeRateLimited,
				"searching again too soon", d.RetryAfterSeconds()))
			return
		}
	}

	if err := h.registry.Transition(userID, StateSearching); err != nil {
		if s, getErr := h.registry.Get(userID); getErr == nil && s.State == StateSearching {
			// Duplicate start-search while already waiting: just re-ack.
			h.sendTo(userID, Signal{Type: EventSearching})
			return
		}
		log.Printf("Hub: start-search rejected for user %s: %v", userID, err)
		h.sendTo(userID, errorSignal(CodeInvalidState, "cannot search from current state", 0))
		return
	}

	h.limiter.Record(userID, ratelimit.ActionConnection)
	h.sendTo(userID, Signal{Type: EventSearching})
	h.matchmaker.Enqueue(userID)
}

// RelaySignal forwards an offer, answer or ICE candidate to the sender's
// current partner, verbatim.
func (h *Hub) RelaySignal(fromID string, sig Signal) {
	partnerID, err := h.registry.PartnerOf(fromID)
	if err != nil {
		h.noPartner(fromID, err)
		return
	}

	sig.From = fromID
	sig.To = partnerID
	observability.SignalsRelayed.WithLabelValues(sig.Type).Inc()
	h.sendTo(partnerID, sig)
}

// RelayChat forwards a lightweight chat message, subject to the messages
// budget.
func (h *Hub) RelayChat(fromID string, payload json.RawMessage) {
	if d := h.limiter.Allow(fromID, ratelimit.ActionMessages); !d.Allowed {
		h.sendTo(fromID, errorSignal(CodeRateLimited,
			"sending messages too fast", d.RetryAfterSeconds()))
		return
	}

	partnerID, err := h.registry.PartnerOf(fromID)
	if err != nil {
		h.noPartner(fromID, err)
		return
	}

	h.limiter.Record(fromID, ratelimit.ActionMessages)
	observability.SignalsRelayed.WithLabelValues(EventMessage).Inc()
	h.sendTo(partnerID, Signal{Type: EventMessage, From: fromID, To: partnerID, Payload: payload})
}

// EndChat ends the current pairing: the partner gets partner-left, both
// sessions return to Idle, and the ender picks up a session cooldown before
// the next search.
func (h *Hub) EndChat(userID string) {
	if d := h.limiter.Allow(userID, ratelimit.ActionSkip); !d.Allowed {
		h.sendTo(userID, errorSignal(CodeRateLimited,
			"skipping too often", d.RetryAfterSeconds()))
		return
	}

	partnerID, err := h.registry.Unpair(userID)
	if err != nil {
		log.Printf("Hub: end-chat for unknown session %s: %v", userID, err)
		return
	}
	if partnerID == "" {
		// Not paired; nothing to end.
		return
	}

	h.limiter.Record(userID, ratelimit.ActionSkip)
	h.limiter.Record(userID, ratelimit.ActionSessionCooldown)
	h.sendTo(partnerID, Signal{Type: EventPartnerLeft})
}

// EmergencyDisconnect blocks and reports the target in one action and, when
// the target is the user's current partner, ends the pairing immediately.
// Unlike EndChat it is never rate limited: cutting off an abusive partner
// must always work.
func (h *Hub) EmergencyDisconnect(ctx context.Context, userID, targetID string, reason models.ReportReason) (*models.SafetyReport, error) {
	report, err := h.guard.EmergencyDisconnect(ctx, userID, targetID, reason)
	if err != nil {
		return nil, err
	}

	if partnerID, perr := h.registry.PartnerOf(userID); perr == nil && partnerID == targetID {
		if _, uerr := h.registry.Unpair(userID); uerr == nil {
			h.limiter.Record(userID, ratelimit.ActionSessionCooldown)
			h.sendTo(targetID, Signal{Type: EventPartnerLeft})
		}
	}
	return report, nil
}

// Wake nudges the matchmaker after out-of-band safety changes (for example a
// moderation action clearing a restriction).
func (h *Hub) Wake() {
	h.matchmaker.Wake()
}

// OnlineCount reports the number of live sessions.
func (h *Hub) OnlineCount() int {
	return h.registry.Count()
}

// Shutdown closes every live connection.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		close(c.Send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
	return nil
}

func (h *Hub) notifyPaired(userA, userB string) {
	h.sendTo(userA, Signal{Type: EventPartnerFound, PartnerID: userB})
	h.sendTo(userB, Signal{Type: EventPartnerFound, PartnerID: userA})
}

func (h *Hub) notifySearching(userID string) {
	h.sendTo(userID, Signal{Type: EventSearching})
}

// noPartner tells the sender their partner is gone. Not an error state: the
// client should simply return to search.
func (h *Hub) noPartner(userID string, err error) {
	if !errors.Is(err, ErrNoActivePartner) && !errors.Is(err, ErrNotFound) {
		log.Printf("Hub: partner lookup failed for user %s: %v", userID, err)
	}
	h.sendTo(userID, errorSignal(CodeNoActivePartner, "partner left", 0))
}

func (h *Hub) sendTo(userID string, sig Signal) {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	client.TrySend(sig.Encode())
}

func secondsOrZero(s int) (d time.Duration) {
	if s > 0 {
		d = time.Duration(s) * time.Second
	}
	return
}

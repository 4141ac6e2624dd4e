// Package signaling implements anonymous random pairing and WebRTC signaling
// relay: the connection registry, the matchmaker, and the relay hub.
package signaling

import "time"

// State is the lifecycle state of a live session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateIdle         State = "idle"
	StateSearching    State = "searching"
	StatePaired       State = "paired"
	StateEnded        State = "ended"
)

// legalTransitions is the session state machine. A session is born Idle (the
// Disconnected -> Idle edge is the Register call itself) and removal from the
// registry is the edge into Disconnected, allowed from any state. Disconnected
// never reaches Paired directly: pairing requires both sides Searching.
var legalTransitions = map[State][]State{
	StateDisconnected: {StateIdle},
	StateIdle:         {StateSearching, StateDisconnected},
	StateSearching:    {StatePaired, StateIdle, StateDisconnected},
	StatePaired:       {StateIdle, StateEnded, StateDisconnected},
	StateEnded:        {StateIdle, StateDisconnected},
}

func canTransition(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is the ephemeral state of one connected anonymous user. It lives
// only as long as the connection; durable records (rate limits, reports,
// blocks) are keyed by the user ID and survive it.
type Session struct {
	ID        string
	State     State
	PartnerID string

	ConnectedAt    time.Time
	LastActivityAt time.Time

	// Last partner and when that pairing ended, for the no-immediate-rematch
	// cooldown. Tracked explicitly rather than inferred from skip limiting.
	LastPartnerID string
	LastUnpaired  time.Time
}

package signaling

import (
	"sync"
	"time"

	"driftchat/internal/observability"
)

// Registry is the single source of truth for who is online and in what
// state. Every mutation happens under one mutex, which is what makes Pair,
// Unpair and Disconnect atomic with respect to each other: two concurrent
// pairing attempts can never both claim the same session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock injects a clock, used by tests.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a fresh Idle session for the user.
func (r *Registry) Register(userID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[userID]; exists {
		return Session{}, ErrAlreadyRegistered
	}

	now := r.now()
	s := &Session{
		ID:             userID,
		State:          StateIdle,
		ConnectedAt:    now,
		LastActivityAt: now,
	}
	r.sessions[userID] = s
	observability.SessionsByState.WithLabelValues(string(StateIdle)).Inc()
	return *s, nil
}

// Get returns a copy of the user's session.
func (r *Registry) Get(userID string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

// Transition moves the session to the target state if the state machine
// allows it.
func (r *Registry) Transition(userID string, target State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok {
		return ErrNotFound
	}
	if !canTransition(s.State, target) {
		return ErrInvalidTransition
	}
	r.setState(s, target)
	s.LastActivityAt = r.now()
	return nil
}

// Pair atomically claims both sessions as mutual partners and moves them to
// Paired. Both must be Searching and unclaimed; otherwise nothing changes.
func (r *Registry) Pair(userA, userB string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.sessions[userA]
	if !ok {
		return ErrNotFound
	}
	b, ok := r.sessions[userB]
	if !ok {
		return ErrNotFound
	}
	if a.PartnerID != "" || b.PartnerID != "" {
		return ErrAlreadyPaired
	}
	if a.State != StateSearching || b.State != StateSearching {
		return ErrInvalidTransition
	}

	now := r.now()
	a.PartnerID = userB
	b.PartnerID = userA
	r.setState(a, StatePaired)
	r.setState(b, StatePaired)
	a.LastActivityAt = now
	b.LastActivityAt = now

	observability.MatchesTotal.Inc()
	return nil
}

// Unpair clears the pairing from both sides and returns both sessions to
// Idle. Idempotent: unpairing an unpaired session is a no-op. Returns the
// former partner's ID, if any.
func (r *Registry) Unpair(userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok {
		return "", ErrNotFound
	}
	return r.unpairLocked(s), nil
}

// unpairLocked clears both sides of a pairing. Caller holds the lock.
func (r *Registry) unpairLocked(s *Session) string {
	partnerID := s.PartnerID
	if partnerID == "" {
		return ""
	}

	now := r.now()
	s.PartnerID = ""
	s.LastPartnerID = partnerID
	s.LastUnpaired = now
	r.setState(s, StateIdle)
	s.LastActivityAt = now

	if partner, ok := r.sessions[partnerID]; ok && partner.PartnerID == s.ID {
		partner.PartnerID = ""
		partner.LastPartnerID = s.ID
		partner.LastUnpaired = now
		r.setState(partner, StateIdle)
		partner.LastActivityAt = now
	}
	return partnerID
}

// PartnerOf resolves the user's current partner.
func (r *Registry) PartnerOf(userID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[userID]
	if !ok {
		return "", ErrNotFound
	}
	if s.PartnerID == "" {
		return "", ErrNoActivePartner
	}
	return s.PartnerID, nil
}

// Touch updates the session's activity timestamp.
func (r *Registry) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		s.LastActivityAt = r.now()
	}
}

// Disconnect removes the session entirely, unpairing first if needed. It
// returns the former partner's ID so the caller can emit partner-left, and
// whether a session existed at all. Idempotent.
func (r *Registry) Disconnect(userID string) (partnerID string, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok {
		return "", false
	}
	partnerID = r.unpairLocked(s)
	observability.SessionsByState.WithLabelValues(string(s.State)).Dec()
	delete(r.sessions, userID)
	return partnerID, true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RematchBlocked reports whether pairing a and b would violate the
// no-immediate-rematch cooldown: either side's most recent pairing was with
// the other and ended within the cooldown.
func (r *Registry) RematchBlocked(userA, userB string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.now().Add(-cooldown)
	if a, ok := r.sessions[userA]; ok {
		if a.LastPartnerID == userB && a.LastUnpaired.After(cutoff) {
			return true
		}
	}
	if b, ok := r.sessions[userB]; ok {
		if b.LastPartnerID == userA && b.LastUnpaired.After(cutoff) {
			return true
		}
	}
	return false
}

// setState swaps the session's state and keeps the per-state gauge accurate.
// Caller holds the lock.
func (r *Registry) setState(s *Session, target State) {
	observability.SessionsByState.WithLabelValues(string(s.State)).Dec()
	observability.SessionsByState.WithLabelValues(string(target)).Inc()
	s.State = target
}

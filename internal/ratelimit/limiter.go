// Package ratelimit bounds per-user action rates with fixed windows and
// exponential-backoff blocking.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"driftchat/internal/observability"
)

// Action identifies a rate-limited user action.
type Action string

const (
	ActionMessages        Action = "messages"
	ActionSkip            Action = "skip"
	ActionConnection      Action = "connection"
	ActionReports         Action = "reports"
	ActionSessionCooldown Action = "session_cooldown"
)

// maxBackoffExponent caps block growth at 32x the base duration.
const maxBackoffExponent = 5

// Rule bounds one action: at most Limit occurrences per Window, with blocks
// starting at BaseBlock and doubling per repeated violation.
type Rule struct {
	Limit     int
	Window    time.Duration
	BaseBlock time.Duration
}

// DefaultRules returns the per-action defaults. These are tuning values, not
// invariants; the server may override them from configuration.
func DefaultRules() map[Action]Rule {
	return map[Action]Rule{
		ActionMessages:        {Limit: 30, Window: time.Minute, BaseBlock: 30 * time.Second},
		ActionSkip:            {Limit: 20, Window: time.Hour, BaseBlock: time.Minute},
		ActionConnection:      {Limit: 50, Window: time.Hour, BaseBlock: 5 * time.Minute},
		ActionReports:         {Limit: 5, Window: 24 * time.Hour, BaseBlock: time.Hour},
		ActionSessionCooldown: {Limit: 1, Window: 2 * time.Minute, BaseBlock: 2 * time.Minute},
	}
}

// Decision is the typed result of an Allow check. Denials are expected and
// frequent, so they are returned inline rather than as errors.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the cooldown up to whole seconds for clients.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

type entryKey struct {
	userID string
	action Action
}

// entry is a per-(user, action) counter. It is either counting (count below
// the limit, no future block) or blocked (blockedUntil in the future); the
// two states never both feed an allow decision.
type entry struct {
	count         int
	windowResetAt time.Time
	blockedUntil  time.Time
	violations    int
}

// Limiter tracks per-(user, action) fixed windows in memory. All state is
// keyed by the durable user ID, so entries survive session churn until the
// sweeper collects them.
type Limiter struct {
	mu      sync.Mutex
	rules   map[Action]Rule
	entries map[entryKey]*entry
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a clock, used by tests to control time.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a Limiter with the given rules. Unknown actions are
// always allowed.
func NewLimiter(rules map[Action]Rule, opts ...Option) *Limiter {
	l := &Limiter{
		rules:   rules,
		entries: make(map[entryKey]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow checks whether the user may perform the action right now. It does not
// consume budget: callers that go through with the action must call Record.
// The split lets callers validate without committing.
func (l *Limiter) Allow(userID string, action Action) Decision {
	rule, ok := l.rules[action]
	if !ok {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := entryKey{userID: userID, action: action}
	e, ok := l.entries[key]
	if !ok {
		e = &entry{windowResetAt: now.Add(rule.Window)}
		l.entries[key] = e
	}

	if e.blockedUntil.After(now) {
		observability.RateLimitDenials.WithLabelValues(string(action)).Inc()
		return Decision{RetryAfter: e.blockedUntil.Sub(now)}
	}

	if now.After(e.windowResetAt) {
		e.count = 0
		e.windowResetAt = now.Add(rule.Window)
		e.blockedUntil = time.Time{}
	}

	if e.count >= rule.Limit {
		block := backoff(rule.BaseBlock, e.violations)
		e.violations++
		e.blockedUntil = now.Add(block)
		observability.RateLimitDenials.WithLabelValues(string(action)).Inc()
		return Decision{RetryAfter: block}
	}

	return Decision{Allowed: true}
}

// Record consumes one unit of the user's budget for the action. Call it only
// after Allow returned an allowed decision and the action was performed.
func (l *Limiter) Record(userID string, action Action) {
	rule, ok := l.rules[action]
	if !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := entryKey{userID: userID, action: action}
	e, ok := l.entries[key]
	if !ok {
		e = &entry{windowResetAt: now.Add(rule.Window)}
		l.entries[key] = e
	}
	if now.After(e.windowResetAt) {
		e.count = 0
		e.windowResetAt = now.Add(rule.Window)
		e.blockedUntil = time.Time{}
	}
	e.count++
}

func backoff(base time.Duration, violations int) time.Duration {
	exp := violations
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	return base * (1 << exp)
}

// Sweep removes entries whose window has reset and whose block, if any, has
// expired. Without it the map grows without bound as anonymous users churn.
// Returns the number of entries removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, e := range l.entries {
		if now.After(e.windowResetAt) && !e.blockedUntil.After(now) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on the given interval until the context is
// cancelled.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// Len reports the number of live entries. Exposed for tests and diagnostics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

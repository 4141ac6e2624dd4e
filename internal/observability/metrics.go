// Package observability provides logging and metrics for the signaling service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsByState is the gauge of live roulette sessions per lifecycle state.
	SessionsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "driftchat_sessions",
		Help: "Number of live sessions by lifecycle state",
	}, []string{"state"})

	// WaitingQueueDepth is the current number of sessions waiting for a match.
	WaitingQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "driftchat_waiting_queue_depth",
		Help: "Number of sessions currently in the matchmaking queue",
	})

	// MatchesTotal counts successful pairings.
	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driftchat_matches_total",
		Help: "Total number of successful pairings",
	})

	// MatchRejections counts candidates skipped during a matchmaking pass by reason.
	MatchRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftchat_match_rejections_total",
		Help: "Total matchmaking candidates rejected by reason",
	}, []string{"reason"})

	// SignalsRelayed counts relayed signaling messages by type.
	SignalsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftchat_signals_relayed_total",
		Help: "Total signaling messages relayed by type",
	}, []string{"type"})

	// RateLimitDenials counts rate-limit denials by action.
	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftchat_rate_limit_denials_total",
		Help: "Total rate-limit denials by action",
	}, []string{"action"})

	// ReportsFiled counts abuse reports by reason.
	ReportsFiled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftchat_reports_filed_total",
		Help: "Total abuse reports filed by reason",
	}, []string{"reason"})

	// BlocksTotal counts user-initiated blocks.
	BlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driftchat_blocks_total",
		Help: "Total user blocks created",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftchat_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"reason"})
)

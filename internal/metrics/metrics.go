// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BetsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Name:      "bets_placed_total",
		Help:      "Sportsbook bets accepted, by kind.",
	}, []string{"kind"})

	BetsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Name:      "bets_rejected_total",
		Help:      "Sportsbook placements rejected, by error kind.",
	}, []string{"reason"})

	BetsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Name:      "bets_settled_total",
		Help:      "Sportsbook bets moved to a terminal status.",
	}, []string{"kind", "status"})

	SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wager",
		Name:      "settlement_failures_total",
		Help:      "Per-bet settlement attempts that failed and were skipped.",
	})

	CrashRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Name:      "crash_rounds_total",
		Help:      "Crash rounds finished, by outcome (crashed, aborted).",
	}, []string{"outcome"})

	CrashPoints = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wager",
		Name:      "crash_point",
		Help:      "Crash multipliers of finished rounds.",
		Buckets:   []float64{1, 1.01, 1.5, 2, 3, 5, 10, 25, 100, 1000},
	})

	CrashBets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Name:      "crash_bets_total",
		Help:      "Crash bets by resolution (placed, rejected, manual, auto, lost, refunded).",
	}, []string{"resolution"})

	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wager",
		Name:      "broadcasts_dropped_total",
		Help:      "Round events dropped because the websocket hub queue was full.",
	})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wager",
		Name:      "notifications_dropped_total",
		Help:      "Outcome notifications dropped because the queue was full or delivery failed.",
	})
)

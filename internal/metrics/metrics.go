// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_sessions_started_total",
		Help: "Sessions created, by either pairing or challenge.",
	})
	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_sessions_ended_total",
		Help: "Terminated sessions by termination reason.",
	}, []string{"reason"})
	MovesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_moves_total",
		Help: "Legal moves committed.",
	})
	IllegalMoves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_illegal_moves_total",
		Help: "Moves rejected by the rules engine.",
	})
	Pairings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_pairings_total",
		Help: "Queue promotions into sessions.",
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_queue_waiting",
		Help: "Participants currently waiting in the matchmaking queue.",
	})
)

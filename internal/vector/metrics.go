package vector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openmemory",
		Subsystem: "vector",
		Name:      "search_total",
		Help:      "Similarity searches by backend and execution mode.",
	}, []string{"backend", "mode"})

	fallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openmemory",
		Subsystem: "vector",
		Name:      "search_fallback_total",
		Help:      "Searches that degraded from an indexed path to a full scan.",
	}, []string{"backend"})
)

// Package metrics holds the Prometheus collectors shared by every pipeline stage.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded for consumed messages.
const (
	OutcomeAcked      = "acked"
	OutcomeRetried    = "retried"
	OutcomeDeadLetter = "dead_letter"
)

var (
	// MessagesPublished counts messages published by type.
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindcast_bus_published_total",
			Help: "Messages published to the bus.",
		},
		[]string{"type"},
	)

	// MessagesConsumed counts deliveries per consumer group and outcome.
	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindcast_bus_consumed_total",
			Help: "Messages consumed from the bus by group and outcome.",
		},
		[]string{"group", "outcome"},
	)

	// MessagesRouted counts router dispatch decisions per stage and type.
	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindcast_router_messages_total",
			Help: "Messages seen by stage routers, split into handled and unhandled.",
		},
		[]string{"stage", "type", "handled"},
	)

	// LockContention counts failed non-blocking lock acquisitions.
	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mindcast_assistant_lock_contention_total",
		Help: "Assistant upserts rejected because the per-user lock was held.",
	})

	// AssistantsCreated counts assistants created by the upsert.
	AssistantsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mindcast_assistants_created_total",
		Help: "Assistants and vector stores created.",
	})

	// SagaOutcomes counts assistant-sync saga results.
	SagaOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindcast_sync_saga_total",
			Help: "Assistant sync saga runs by source and result.",
		},
		[]string{"source", "result"},
	)

	// HTTPRequests counts API requests by route pattern and status class.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindcast_http_requests_total",
			Help: "HTTP requests served, by service, route pattern and status code.",
		},
		[]string{"service", "route", "status"},
	)

	// StatusTransitions counts lifecycle transitions applied or rejected.
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindcast_status_transitions_total",
			Help: "Lifecycle status transitions by target status and result.",
		},
		[]string{"to", "result"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// README: Prometheus collectors for dispatch, offers, presence and the HTTP gateway.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ecoshare"

var (
	AssignmentsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_assignments_total", Help: "Ride requests offered to a driver by the trigger"})
	PoolResetsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_pool_resets_total", Help: "Candidate pool resets performed"})
	TriggerErrors    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_trigger_errors_total", Help: "Trigger invocations that failed"})
	SelectLatency    = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "dispatch_select_seconds", Help: "Candidate load and selection latency"})

	OffersShown   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_shown_total", Help: "Offers that reached OfferReady"})
	OfferOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offer_outcomes_total", Help: "Offer results by outcome"},
		[]string{"outcome"},
	)
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "driver_sessions_active", Help: "Driver sessions held by the gateway"})

	PresenceDemotions = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "presence_demotions_total", Help: "Drivers demoted to offline for stale location"})
	PresenceErrors    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "presence_errors_total", Help: "Presence store calls that failed"}, []string{"op"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

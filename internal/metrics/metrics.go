// Package metrics holds the Prometheus collectors shared by the sync
// pipeline, the ticketing gateway and the entity matcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "enfsync"

var (
	// Runs counts completed reconciliation runs.
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Reconciliation runs by record type, mode and outcome.",
	}, []string{"record_type", "mode", "status"})

	// RunDuration observes wall time per run.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Reconciliation run duration.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"record_type"})

	// Changes counts detected changes.
	Changes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "changes_total",
		Help:      "Detected record changes by type and kind (new or updated).",
	}, []string{"record_type", "kind"})

	// Actions counts external actions dispatched per change.
	Actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_total",
		Help:      "External actions dispatched by record type and action.",
	}, []string{"record_type", "action"})

	// ActionErrors counts per-change processing failures.
	ActionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "action_errors_total",
		Help:      "Per-change processing errors by record type.",
	}, []string{"record_type"})

	// GatewayRequests counts ticketing API responses.
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_requests_total",
		Help:      "Ticketing API requests by method and status code.",
	}, []string{"method", "code"})

	// GatewayRetries counts retried ticketing requests.
	GatewayRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_retries_total",
		Help:      "Ticketing API retries by reason.",
	}, []string{"reason"})

	// MatchOutcomes counts entity matcher results by resolution tier.
	MatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "match_outcomes_total",
		Help:      "Entity matcher outcomes by match method.",
	}, []string{"method"})

	// ReviewsEnqueued counts review queue insertions by reason.
	ReviewsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reviews_enqueued_total",
		Help:      "Records routed to manual review by reason.",
	}, []string{"reason"})

	// ReviewBacklog is the pending review count at the last health check.
	ReviewBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "review_backlog",
		Help:      "Pending manual review items.",
	})

	// MatchCost accumulates estimated classifier spend.
	MatchCost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "match_cost_usd_total",
		Help:      "Estimated language model spend on heuristic matching.",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

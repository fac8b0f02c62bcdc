// Package metrics defines and registers all custom Prometheus metrics for the
// portal auth context. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics are registered with the default Prometheus registry on package init
// through promauto; GET /metrics exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "portal_auth"

// ── Auth state metrics ───────────────────────────────────────────────────────

// ReconciliationsTotal counts reconciliations of local state with a session
// reported by the backend.
// Label:
//   - outcome: "signed_in" (session with user) or "cleared" (no session)
var ReconciliationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliations_total",
		Help:      "Total number of auth state reconciliations, by outcome.",
	},
	[]string{"outcome"},
)

// EnrichmentFetchTotal counts role/profile/department fetches.
// Labels:
//   - field: "role", "profile" or "department"
//   - result: "ok", "error", "empty" or "stale"
var EnrichmentFetchTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_fetch_total",
		Help:      "Total number of auxiliary user data fetches, by field and result.",
	},
	[]string{"field", "result"},
)

// EnrichmentDuration measures how long each auxiliary fetch takes.
var EnrichmentDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "enrichment_fetch_duration_seconds",
		Help:      "Duration of auxiliary user data fetches.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"field"},
)

// SignOutsTotal counts sign-outs.
// Label:
//   - result: "ok" or "backend_error" (local state is cleared either way)
var SignOutsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sign_outs_total",
		Help:      "Total number of sign-outs, by backend call result.",
	},
	[]string{"result"},
)

// StateSubscribers tracks the number of live state subscribers (websocket clients, CLI watchers).
var StateSubscribers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "state_subscribers",
		Help:      "Current number of auth state subscribers.",
	},
)

// ── Backend client metrics ───────────────────────────────────────────────────

// TokenRefreshTotal counts access token refresh attempts.
// Label:
//   - result: "ok", "rejected" (session dropped) or "error"
var TokenRefreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refresh_total",
		Help:      "Total number of access token refresh attempts, by result.",
	},
	[]string{"result"},
)

// ── Audit metrics ────────────────────────────────────────────────────────────

// AuditEventsRecordedTotal counts auth transitions written to the audit trail.
// Label:
//   - event: the auth change event (e.g. "SIGNED_IN")
var AuditEventsRecordedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_events_recorded_total",
		Help:      "Total number of auth transitions recorded in the audit trail.",
	},
	[]string{"event"},
)

// AuditErrorsTotal counts audit events that failed processing.
// Label:
//   - reason: short description of the failure (e.g. "insert_failed")
var AuditErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_errors_total",
		Help:      "Total number of audit events that failed processing.",
	},
	[]string{"reason"},
)

// AuditDedupTotal counts deduplication decisions.
// Label:
//   - result: "hit" (duplicate, skipped) or "miss" (new transition, recorded)
var AuditDedupTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_dedup_total",
		Help:      "Total number of audit deduplication checks, labelled by result (hit/miss).",
	},
	[]string{"result"},
)

// AuditQueueDepth tracks the current number of audit events waiting in each worker channel.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var AuditQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_queue_depth",
		Help:      "Current number of audit events pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

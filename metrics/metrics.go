/*
Package metrics defines the Prometheus instrumentation for the civic engine.

Counters only; the interesting rates (duplicate votes absorbed, grants
issued) are derived in the dashboard. Everything is registered on the
default registry and served by promhttp at /metrics.
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IssuesReported counts issue creations, labeled by category.
	IssuesReported = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civic",
		Name:      "issues_reported_total",
		Help:      "Issues created, by category.",
	}, []string{"category"})

	// StatusTransitions counts committed lifecycle transitions.
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civic",
		Name:      "status_transitions_total",
		Help:      "Committed issue status transitions, by target status.",
	}, []string{"to"})

	// IllegalTransitions counts transition attempts rejected by the policy.
	IllegalTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "civic",
		Name:      "illegal_transitions_total",
		Help:      "Transition attempts rejected by the transition policy.",
	})

	// Upvotes counts first-time upvotes that landed.
	Upvotes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "civic",
		Name:      "upvotes_total",
		Help:      "Upvotes recorded.",
	})

	// DuplicateVotes counts repeat votes absorbed as no-ops.
	DuplicateVotes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "civic",
		Name:      "duplicate_votes_total",
		Help:      "Repeat upvotes absorbed by the uniqueness constraint.",
	})

	// AchievementsGranted counts grants, labeled by achievement id.
	AchievementsGranted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civic",
		Name:      "achievements_granted_total",
		Help:      "Achievement grants issued, by achievement.",
	}, []string{"achievement"})

	// PointsAwarded sums positive ledger deltas, labeled by entry kind.
	PointsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civic",
		Name:      "points_awarded_total",
		Help:      "Points credited through the ledger, by entry kind.",
	}, []string{"kind"})
)

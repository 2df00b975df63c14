package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the multisig module.
// All methods are safe on a nil receiver.
type Metrics struct {
	// Notifications by route and routing outcome
	NotificationOutcome *prometheus.CounterVec

	// Deferred notifications currently buffered
	PendingNotifications prometheus.Gauge

	// Proposal terminal states by kind
	ProposalOutcome *prometheus.CounterVec

	// Notifications dropped after exhausting their retries
	StaleDropped prometheus.Counter

	// Router apply latency
	ApplyDuration prometheus.Histogram

	// Group lifecycle transitions by target state
	GroupTransitions *prometheus.CounterVec

	// Failed groups by reason
	GroupFailures *prometheus.CounterVec

	// Agent round trips by operation
	AgentLatency *prometheus.HistogramVec

	// Feed polling passes
	FeedPollDuration prometheus.Histogram
}

// New registers the multisig metrics with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		NotificationOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veridian_multisig_notifications_total",
			Help: "Inbound multisig notifications by route and outcome",
		}, []string{"route", "outcome"}), // outcome: applied, duplicate, deferred, dropped, rejected

		PendingNotifications: f.NewGauge(prometheus.GaugeOpts{
			Name: "veridian_multisig_pending_notifications",
			Help: "Notifications deferred until their proposal or group is known",
		}),

		ProposalOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veridian_multisig_proposal_outcomes_total",
			Help: "Proposals reaching a final state by kind",
		}, []string{"kind", "state"}),

		StaleDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "veridian_multisig_stale_notifications_total",
			Help: "Deferred notifications dropped after their retry budget",
		}),

		ApplyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "veridian_multisig_router_apply_duration_seconds",
			Help:    "Duration of routing one notification",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		GroupTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veridian_multisig_group_transitions_total",
			Help: "Group lifecycle transitions by target state",
		}, []string{"state"}),

		GroupFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veridian_multisig_group_failures_total",
			Help: "Groups that failed formation by reason",
		}, []string{"reason"}),

		AgentLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veridian_multisig_agent_duration_seconds",
			Help:    "Duration of agent calls by operation",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),

		FeedPollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "veridian_multisig_feed_poll_duration_seconds",
			Help:    "Duration of one notification feed polling pass",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) IncrementNotification(route, outcome string) {
	if m != nil {
		m.NotificationOutcome.WithLabelValues(route, outcome).Inc()
	}
}

func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.PendingNotifications.Set(float64(n))
	}
}

func (m *Metrics) IncrementProposalOutcome(kind, state string) {
	if m != nil {
		m.ProposalOutcome.WithLabelValues(kind, state).Inc()
	}
}

func (m *Metrics) IncrementGroupTransition(state string) {
	if m != nil {
		m.GroupTransitions.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) IncrementStaleDropped() {
	if m != nil {
		m.StaleDropped.Inc()
	}
}

func (m *Metrics) ObserveApply(start time.Time) {
	if m != nil {
		m.ApplyDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) IncrementGroupFailure(reason string) {
	if m != nil {
		m.GroupFailures.WithLabelValues(reason).Inc()
	}
}

// ObserveAgent records an agent call started at start.
func (m *Metrics) ObserveAgent(operation string, start time.Time) {
	if m != nil {
		m.AgentLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) ObserveFeedPoll(d time.Duration) {
	if m != nil {
		m.FeedPollDuration.Observe(d.Seconds())
	}
}

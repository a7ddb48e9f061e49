package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/massgen/massgen/internal/tracker"
)

// Metrics holds the coordination counters and histograms. Most are
// driven from tracker events via Subscriber; permission denials and
// attempt durations are reported directly by their owners.
type Metrics struct {
	AnswersSubmitted  *prometheus.CounterVec
	VotesCast         *prometheus.CounterVec
	Restarts          prometheus.Counter
	PermissionDenials *prometheus.CounterVec
	AttemptDuration   prometheus.Histogram
	TurnsCompleted    prometheus.Counter
}

// NewMetrics registers the coordination metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AnswersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "massgen_answers_submitted_total",
			Help: "Candidate answers submitted, by agent.",
		}, []string{"agent_id"}),
		VotesCast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "massgen_votes_cast_total",
			Help: "Votes cast, by voting agent.",
		}, []string{"agent_id"}),
		Restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "massgen_restarts_total",
			Help: "Attempt restarts across all turns.",
		}),
		PermissionDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "massgen_permission_denials_total",
			Help: "Filesystem tool calls denied by the permission manager.",
		}, []string{"agent_id", "tool"}),
		AttemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "massgen_attempt_duration_seconds",
			Help:    "Wall time per coordination attempt.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		TurnsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "massgen_turns_completed_total",
			Help: "Turns closed with a successful attempt.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.AnswersSubmitted, m.VotesCast, m.Restarts,
			m.PermissionDenials, m.AttemptDuration, m.TurnsCompleted,
		)
	}
	return m
}

// Subscriber returns a tracker subscriber that keeps the counters
// current as coordination events are recorded.
func (m *Metrics) Subscriber() tracker.Subscriber {
	return func(e tracker.Event) {
		switch e.Type {
		case tracker.EventNewAnswer:
			m.AnswersSubmitted.WithLabelValues(e.AgentID).Inc()
		case tracker.EventVoteCast:
			m.VotesCast.WithLabelValues(e.AgentID).Inc()
		case tracker.EventRestartCompleted:
			m.Restarts.Inc()
		case tracker.EventFinalAnswer:
			m.TurnsCompleted.Inc()
		}
	}
}

// ObserveAttempt records one attempt's duration.
func (m *Metrics) ObserveAttempt(d time.Duration) {
	m.AttemptDuration.Observe(d.Seconds())
}

// DenialHook adapts the denial counter to the tool registry's hook.
func (m *Metrics) DenialHook() func(agentID, tool string) {
	return func(agentID, tool string) {
		m.PermissionDenials.WithLabelValues(agentID, tool).Inc()
	}
}

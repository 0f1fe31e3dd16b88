package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EventCounter tracks the events processed by the guard, by kind.
	EventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lockguard_events_total",
		Help: "Total number of events processed by the lock guard",
	}, []string{"kind"})
	// ChallengeCounter tracks the number of challenges issued.
	ChallengeCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockguard_challenges_total",
		Help: "Total number of authentication challenges issued",
	})
	// OutcomeCounter tracks challenge outcomes, by outcome and whether
	// the guard consumed or discarded them.
	OutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lockguard_challenge_outcomes_total",
		Help: "Total number of challenge outcomes received",
	}, []string{"outcome", "disposition"})
	// ChallengeDuration observes how long challenges take to resolve.
	ChallengeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lockguard_challenge_duration_seconds",
		Help:    "Time from issuing a challenge to its outcome",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
	// ObscuredGauge is 1 while the app is obscured.
	ObscuredGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lockguard_obscured",
		Help: "Whether the application is currently obscured",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterGuardMetrics registers the lock guard metrics on the provided registry.
func RegisterGuardMetrics(reg prometheus.Registerer) {
	reg.MustRegister(EventCounter, ChallengeCounter, OutcomeCounter, ChallengeDuration, ObscuredGauge)
}

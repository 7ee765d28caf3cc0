package security

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for authentication runs.
type Metrics struct {
	attemptsTotal    *prometheus.CounterVec
	outcomesTotal    *prometheus.CounterVec
	runDuration      prometheus.Histogram
	challengesTotal  *prometheus.CounterVec
	sessionShortcuts prometheus.Counter
	loginsTotal      *prometheus.CounterVec
	logoutsTotal     prometheus.Counter
	registerer       prometheus.Registerer
}

// NewMetrics creates a new Metrics instance.
// Metrics are registered with prometheus.DefaultRegisterer so they are
// automatically exposed on the default /metrics endpoint.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a new Metrics instance with a custom registerer.
// This is useful for testing where a private registry is preferred.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "authgate"
	}

	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registerer: registerer,
	}

	m.attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "mechanism_attempts_total",
			Help:      "Total number of mechanism attempts by outcome",
		},
		[]string{"mechanism", "outcome"},
	)

	m.outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "run_outcomes_total",
			Help:      "Total number of authentication runs by final outcome",
		},
		[]string{"outcome"},
	)

	m.runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "run_duration_seconds",
			Help:      "Authentication run duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	m.challengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "challenges_total",
			Help:      "Total number of challenges sent by mechanism",
		},
		[]string{"mechanism"},
	)

	m.sessionShortcuts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "session_shortcuts_total",
			Help:      "Total number of runs resolved by an established session",
		},
	)

	m.loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "logins_total",
			Help:      "Total number of programmatic login attempts by status",
		},
		[]string{"status"},
	)

	m.logoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "logouts_total",
			Help:      "Total number of logouts",
		},
	)

	// Register all metrics with the provided registerer, ignoring duplicates.
	collectors := []prometheus.Collector{
		m.attemptsTotal,
		m.outcomesTotal,
		m.runDuration,
		m.challengesTotal,
		m.sessionShortcuts,
		m.loginsTotal,
		m.logoutsTotal,
	}
	for _, c := range collectors {
		_ = m.registerer.Register(c)
	}

	return m
}

// RecordAttempt records a single mechanism attempt.
func (m *Metrics) RecordAttempt(mechanism string, outcome Outcome) {
	m.attemptsTotal.WithLabelValues(mechanism, outcome.String()).Inc()
}

// RecordRun records a completed authentication run.
func (m *Metrics) RecordRun(outcome Outcome, duration time.Duration) {
	m.outcomesTotal.WithLabelValues(outcome.String()).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// RecordChallenge records a challenge sent on behalf of a mechanism.
func (m *Metrics) RecordChallenge(mechanism string) {
	m.challengesTotal.WithLabelValues(mechanism).Inc()
}

// RecordSessionShortcut records a run resolved by an established session.
func (m *Metrics) RecordSessionShortcut() {
	m.sessionShortcuts.Inc()
}

// RecordLogin records a programmatic login attempt.
func (m *Metrics) RecordLogin(success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	m.loginsTotal.WithLabelValues(status).Inc()
}

// RecordLogout records a logout.
func (m *Metrics) RecordLogout() {
	m.logoutsTotal.Inc()
}

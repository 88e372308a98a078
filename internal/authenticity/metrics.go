package authenticity

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricPenaltiesTotal         = "authenticity_penalties_total"
	MetricDisqualificationsTotal = "authenticity_disqualifications_total"
	MetricSpikeFlagsTotal        = "authenticity_spike_flags_total"
	MetricScoreHistogram         = "authenticity_score"
)

// Metrics contains Prometheus metrics for authenticity operations.
// All operations are thread-safe.
type Metrics struct {
	penalties         prometheus.Counter
	disqualifications prometheus.Counter
	spikeFlags        prometheus.Counter
	scores            prometheus.Histogram
}

// NewMetrics creates a new Metrics instance. The metrics are not
// registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		penalties: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPenaltiesTotal,
			Help: "Total number of authenticity score penalties applied to trending posts",
		}),
		disqualifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDisqualificationsTotal,
			Help: "Total number of posts removed from trending for low authenticity",
		}),
		spikeFlags: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSpikeFlagsTotal,
			Help: "Total number of engagement spike flags raised",
		}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricScoreHistogram,
			Help:    "Distribution of computed authenticity scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.penalties,
		m.disqualifications,
		m.spikeFlags,
		m.scores,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncPenalties increments the penalty counter.
func (m *Metrics) IncPenalties() { m.penalties.Inc() }

// IncDisqualifications increments the disqualification counter.
func (m *Metrics) IncDisqualifications() { m.disqualifications.Inc() }

// IncSpikeFlags increments the spike flag counter.
func (m *Metrics) IncSpikeFlags() { m.spikeFlags.Inc() }

// ObserveScore records a computed authenticity score.
func (m *Metrics) ObserveScore(score float64) { m.scores.Observe(score) }

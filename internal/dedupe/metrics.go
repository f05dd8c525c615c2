package dedupe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records ingest outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	Outcomes *prometheus.CounterVec
	Tiers    *prometheus.CounterVec
	Failures *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics registers ingest metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lead_ingest",
			Name:      "outcomes_total",
			Help:      "Ingested candidates by outcome and source",
		}, []string{"outcome", "source"}),

		Tiers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lead_ingest",
			Name:      "match_tier_total",
			Help:      "Identity matches by tier",
		}, []string{"tier"}),

		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lead_ingest",
			Name:      "failures_total",
			Help:      "Candidates that failed to ingest by reason",
		}, []string{"reason"}),

		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lead_ingest",
			Name:      "ingest_duration_seconds",
			Help:      "Duration of one candidate ingest including replays",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

func (m *Metrics) observe(res Result, source string, d time.Duration) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(string(res.Outcome), source).Inc()
	if res.Tier != TierNone {
		m.Tiers.WithLabelValues(res.Tier.String()).Inc()
	}
	m.Duration.Observe(d.Seconds())
}

func (m *Metrics) fail(reason string) {
	if m != nil {
		m.Failures.WithLabelValues(reason).Inc()
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit pipeline.
// All methods are safe to call on a nil receiver.
type Metrics struct {
	AuditsStarted       prometheus.Counter
	AuditsFinished      *prometheus.CounterVec
	PublicationOutcomes *prometheus.CounterVec
	MentionsValidated   *prometheus.CounterVec
	BatchDuration       prometheus.Histogram
	UpstreamDuration    *prometheus.HistogramVec
}

// New registers the audit metrics with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		AuditsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "brandaudit_audits_started_total",
			Help: "Total number of audits that began processing",
		}),
		AuditsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brandaudit_audits_finished_total",
			Help: "Total number of audits that reached a terminal status",
		}, []string{"status"}),
		PublicationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brandaudit_publication_outcomes_total",
			Help: "Per-publication outcomes (mentioned, not_mentioned, error)",
		}, []string{"outcome"}),
		MentionsValidated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brandaudit_mentions_validated_total",
			Help: "Mentions accepted by the classifier, by validation method",
		}, []string{"method"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "brandaudit_batch_duration_seconds",
			Help:    "Duration of one publication batch",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		UpstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brandaudit_upstream_duration_seconds",
			Help:    "Duration of calls to search and language-model providers",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider", "outcome"}),
	}
}

func (m *Metrics) IncrementAuditsStarted() {
	if m == nil {
		return
	}
	m.AuditsStarted.Inc()
}

// IncrementAuditsFinished records a terminal status.
func (m *Metrics) IncrementAuditsFinished(status string) {
	if m == nil {
		return
	}
	m.AuditsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementPublicationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.PublicationOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddMentionsValidated(method string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MentionsValidated.WithLabelValues(method).Add(float64(n))
}

// ObserveBatch records the duration of a batch.
// Call with time.Now() at the start of the batch.
func (m *Metrics) ObserveBatch(start time.Time) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(time.Since(start).Seconds())
}

// ObserveUpstream records an upstream call. outcome is "ok" or an error
// category.
func (m *Metrics) ObserveUpstream(provider, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.UpstreamDuration.WithLabelValues(provider, outcome).Observe(time.Since(start).Seconds())
}

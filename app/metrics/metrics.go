// Package metrics provides Prometheus collectors for outbound fetching,
// ingestion and identity verification.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SafetyViolationsTotal counts requests rejected by the SSRF guard.
	SafetyViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustfetch",
			Name:      "safety_violations_total",
			Help:      "Total number of outbound requests rejected by the URL safety validator",
		},
		[]string{"kind"},
	)

	// SourceFailuresTotal counts adapter fetches that degraded to zero items.
	SourceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustfetch",
			Name:      "source_failures_total",
			Help:      "Total number of source fetches that failed and contributed no items",
		},
		[]string{"adapter"},
	)

	// IngestedItems holds the item counts of the latest ingestion run.
	IngestedItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "trustfetch",
			Name:      "ingested_items",
			Help:      "Item counts reported by the latest ingestion run",
		},
		[]string{"origin"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "trustfetch",
			Name:      "ingest_duration_seconds",
			Help:      "Duration of ingestion runs in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustfetch",
			Name:      "verifications_total",
			Help:      "Total number of agent identity verifications by resulting tier",
		},
		[]string{"tier", "cached"},
	)
)

// RecordViolation records a rejected outbound request.
func RecordViolation(kind string) {
	SafetyViolationsTotal.WithLabelValues(kind).Inc()
}

// RecordSourceFailure records a failed adapter fetch.
func RecordSourceFailure(adapter string) {
	SourceFailuresTotal.WithLabelValues(adapter).Inc()
}

// RecordIngest records the outcome of an ingestion run.
func RecordIngest(total, rss, community int, seconds float64) {
	IngestedItems.WithLabelValues("total").Set(float64(total))
	IngestedItems.WithLabelValues("rss").Set(float64(rss))
	IngestedItems.WithLabelValues("community").Set(float64(community))
	IngestDuration.Observe(seconds)
}

// RecordVerification records a verification verdict.
func RecordVerification(tier string, cached bool) {
	label := "false"
	if cached {
		label = "true"
	}
	VerificationsTotal.WithLabelValues(tier, label).Inc()
}

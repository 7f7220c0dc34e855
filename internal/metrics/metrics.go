// Package metrics holds the Prometheus collectors for comparison runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for Comparisons.
const (
	OutcomeComputed = "computed"
	OutcomeCached   = "cached"
	OutcomeSkipped  = "skipped"
)

// OtherExt labels uploads whose extension is not accepted.
const OtherExt = "other"

var (
	// Comparisons counts comparison runs by outcome.
	Comparisons = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docproof_comparisons_total",
		Help: "Comparison runs by outcome",
	}, []string{"outcome"})

	ComputeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "docproof_compute_latency_seconds",
		Help: "Diff and annotation time for uncached comparisons",
		// 15 buckets from 100us to 10s.
		Buckets: prometheus.ExponentialBucketsRange(0.0001, 10, 15),
	})

	Differences = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docproof_differences",
		Help:    "Number of differences per comparison",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docproof_subscribers",
		Help: "Open comparison subscriptions",
	})

	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docproof_uploads_total",
		Help: "Document uploads by extension",
	}, []string{"ext"})
)

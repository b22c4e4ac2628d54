package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	AdmissionDecisions = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_admission_decisions_total",
			Help: "Admission decisions by rule and outcome",
		},
		[]string{"rule", "outcome"},
	)

	StoreFailures = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_store_failures_total",
			Help: "Shared-store round trips that failed open",
		},
	)

	LoadFactor = promauto.With(registerer).NewGauge(
		prometheus.GaugeOpts{
			Name: "gatekeeper_load_factor",
			Help: "Current adaptive budget scaling factor",
		},
	)

	BlacklistedKeys = promauto.With(registerer).NewGauge(
		prometheus.GaugeOpts{
			Name: "gatekeeper_blacklisted_keys",
			Help: "Keys currently blacklisted",
		},
	)

	PenaltyDelaySeconds = promauto.With(registerer).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_penalty_delay_seconds",
			Help:    "Progressive penalty delays applied before processing",
			Buckets: []float64{0.1, 0.2, 0.4, 0.8, 1.6, 3.2, 5},
		},
	)
)

func Registry() *prometheus.Registry {
	return registry
}

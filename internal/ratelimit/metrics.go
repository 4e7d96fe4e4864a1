package ratelimit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// decisionsTotal counts admission decisions by outcome.
	decisionsTotal *prometheus.CounterVec

	// metricsOnce ensures metrics are only registered once.
	metricsOnce sync.Once

	// metricsRegistered indicates if metrics have been registered.
	metricsRegistered bool
)

// InitMetrics initializes the Prometheus metrics for admission control.
// This should be called once at startup if Prometheus metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		decisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credops_ratelimit_decisions_total",
				Help: "Total number of admission decisions by outcome",
			},
			[]string{"outcome"},
		)
		metricsRegistered = true
	})
}

// recordDecision increments the decision counter. Safe to call even if
// metrics have not been initialized.
func recordDecision(outcome string) {
	if metricsRegistered && decisionsTotal != nil {
		decisionsTotal.WithLabelValues(outcome).Inc()
	}
}

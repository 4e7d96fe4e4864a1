package rotation

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// outcomeTotal counts rotation sessions by the state they reached.
	outcomeTotal *prometheus.CounterVec

	// metricsOnce ensures metrics are only registered once.
	metricsOnce sync.Once

	// metricsRegistered indicates if metrics have been registered.
	metricsRegistered bool
)

// InitMetrics initializes the Prometheus metrics for rotation.
// This should be called once at startup if Prometheus metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		outcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credops_rotation_outcomes_total",
			Help: "Total rotation sessions by reached state",
		}, []string{"outcome"})
		metricsRegistered = true
	})
}

// recordOutcome records a session reaching a state of interest.
// Safe to call when metrics are not initialized.
func recordOutcome(outcome string) {
	if metricsRegistered && outcomeTotal != nil {
		outcomeTotal.WithLabelValues(outcome).Inc()
	}
}

package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	healthCheckDuration *prometheus.HistogramVec
	healthCheckStatus   *prometheus.GaugeVec

	metricsOnce       sync.Once
	metricsRegistered bool
)

// InitMetrics initializes the Prometheus metrics for health checks.
// This should be called once at startup if Prometheus metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		healthCheckDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credops_health_check_duration_seconds",
				Help:    "Duration of health check probes in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"service_type"},
		)

		healthCheckStatus = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "credops_health_check_status",
				Help: "Latest health check status (1=healthy, 0.5=degraded, 0=unhealthy)",
			},
			[]string{"service_type"},
		)

		metricsRegistered = true
	})
}

// recordHealthCheck records one probe outcome. Safe to call even if
// metrics have not been initialized.
func recordHealthCheck(serviceType string, status Status, durationSeconds float64) {
	if !metricsRegistered {
		return
	}

	if healthCheckDuration != nil {
		healthCheckDuration.WithLabelValues(serviceType).Observe(durationSeconds)
	}

	if healthCheckStatus != nil {
		value := 0.0
		switch status {
		case StatusHealthy:
			value = 1.0
		case StatusDegraded:
			value = 0.5
		}
		healthCheckStatus.WithLabelValues(serviceType).Set(value)
	}
}

// Package metrics exposes Prometheus collectors for the fleet poller.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fleetUnits             prometheus.Gauge
	provisionTotal         *prometheus.CounterVec
	provisionDuration      *prometheus.HistogramVec
	queuePullsTotal        *prometheus.CounterVec
	promotionsTotal        *prometheus.CounterVec
	targetsProcessedTotal  *prometheus.CounterVec
	observationChangeTotal *prometheus.CounterVec
	busyWorkers            prometheus.Gauge
	retryAttemptsTotal     *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times; helpers are no-ops until it runs.
func Init() {
	once.Do(func() {
		fleetUnits = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fleetpoller_fleet_units",
			Help: "Number of live proxy units in the fleet.",
		})

		provisionTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetpoller_provision_total",
				Help: "Provisioning attempts partitioned by region and outcome.",
			},
			[]string{"region", "outcome"},
		)

		provisionDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleetpoller_provision_duration_seconds",
				Help:    "Wall time from submission to readiness per unit.",
				Buckets: []float64{5, 15, 30, 60, 120, 180, 300},
			},
			[]string{"region"},
		)

		queuePullsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetpoller_queue_pulls_total",
				Help: "Target pulls partitioned by kind (base or priority).",
			},
			[]string{"kind"},
		)

		promotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetpoller_promotions_total",
				Help: "Priority promotions partitioned by tier.",
			},
			[]string{"tier"},
		)

		targetsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetpoller_targets_processed_total",
				Help: "Targets processed partitioned by group and outcome.",
			},
			[]string{"group", "outcome"},
		)

		observationChangeTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetpoller_observation_changes_total",
				Help: "Persisted observation changes partitioned by group.",
			},
			[]string{"group"},
		)

		busyWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fleetpoller_busy_workers",
			Help: "Number of workers currently processing a target.",
		})

		retryAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetpoller_retry_attempts_total",
				Help: "Cloud call retries partitioned by operation label.",
			},
			[]string{"op"},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetFleetSize records the current number of live proxy units.
func SetFleetSize(n int) {
	if fleetUnits == nil {
		return
	}
	fleetUnits.Set(float64(n))
}

// ObserveProvision counts one provisioning outcome for a region.
func ObserveProvision(region, outcome string) {
	if provisionTotal == nil {
		return
	}
	provisionTotal.WithLabelValues(region, outcome).Inc()
}

// ObserveProvisionDuration records submission-to-ready latency.
func ObserveProvisionDuration(region string, d time.Duration) {
	if provisionDuration == nil {
		return
	}
	provisionDuration.WithLabelValues(region).Observe(d.Seconds())
}

// ObserveQueuePull counts one scheduler pull of the given kind.
func ObserveQueuePull(kind string) {
	if queuePullsTotal == nil {
		return
	}
	queuePullsTotal.WithLabelValues(kind).Inc()
}

// ObservePromotion counts one priority promotion.
func ObservePromotion(tier string) {
	if promotionsTotal == nil {
		return
	}
	promotionsTotal.WithLabelValues(tier).Inc()
}

// ObserveTarget counts one processed target.
func ObserveTarget(group, outcome string) {
	if targetsProcessedTotal == nil {
		return
	}
	targetsProcessedTotal.WithLabelValues(group, outcome).Inc()
}

// ObserveObservationChange counts one persisted state change.
func ObserveObservationChange(group string) {
	if observationChangeTotal == nil {
		return
	}
	observationChangeTotal.WithLabelValues(group).Inc()
}

// IncBusyWorkers increments the busy workers gauge.
func IncBusyWorkers() {
	if busyWorkers == nil {
		return
	}
	busyWorkers.Inc()
}

// DecBusyWorkers decrements the busy workers gauge.
func DecBusyWorkers() {
	if busyWorkers == nil {
		return
	}
	busyWorkers.Dec()
}

// ObserveRetry counts one retry of a labeled cloud operation.
func ObserveRetry(op string) {
	if retryAttemptsTotal == nil {
		return
	}
	retryAttemptsTotal.WithLabelValues(op).Inc()
}

package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dropsignal/fleetpoller/internal/notify"
)

// PrometheusSink exports poll progress via Prometheus. It owns the collectors
// for check starts/finishes and observation change events.
type PrometheusSink struct {
	checksStarted  *prometheus.CounterVec
	checksFinished *prometheus.CounterVec
	checkDuration  *prometheus.HistogramVec
	changeEvents   *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		checksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetpoller_checks_started_total",
			Help: "Checks started partitioned by proxy region.",
		}, []string{"region"}),
		checksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetpoller_checks_finished_total",
			Help: "Checks finished partitioned by outcome.",
		}, []string{"outcome"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetpoller_check_duration_seconds",
			Help:    "Check latency partitioned by outcome.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"outcome"}),
		changeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetpoller_change_events_total",
			Help: "Observation change events partitioned by group.",
		}, []string{"group"}),
	}
	for _, collector := range []prometheus.Collector{
		s.checksStarted,
		s.checksFinished,
		s.checkDuration,
		s.changeEvents,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register notify collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []notify.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt notify.Event) {
	switch evt.Kind {
	case notify.KindCheckStarted:
		region := evt.Region
		if region == "" {
			region = "unknown"
		}
		s.checksStarted.WithLabelValues(region).Inc()
	case notify.KindCheckFinished:
		outcome := "ok"
		if evt.Note != "" {
			outcome = "error"
		}
		s.checksFinished.WithLabelValues(outcome).Inc()
		if evt.Dur > 0 {
			s.checkDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
		}
	case notify.KindChange:
		s.changeEvents.WithLabelValues(string(evt.Group)).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

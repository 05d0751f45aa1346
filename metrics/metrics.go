// Package metrics exports observable slot activity to Prometheus.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thomasbaden/observable"
	"github.com/thomasbaden/observable/internal/log"
)

// DefaultNamespace prefixes every metric name when none is configured.
const DefaultNamespace = "observable"

const subsystem = "slot"

var _ observable.Recorder = (*Collector)(nil)

// Collector counts sets, notification passes, observer failures and live
// registrations per slot. Pass it to slots with observable.WithRecorder.
type Collector struct {
	sets          *prometheus.CounterVec
	notifications *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	failures      *prometheus.CounterVec
	registrations *prometheus.GaugeVec
}

// NewCollector builds an unregistered collector. An empty namespace uses
// DefaultNamespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Collector{
		sets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sets_total",
				Help:      "Total number of Set calls, by whether the value changed",
			},
			[]string{"slot", "changed"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "notifications_total",
				Help:      "Total number of notification passes",
			},
			[]string{"slot"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "observers_notified_total",
				Help:      "Total number of observers scheduled across notification passes",
			},
			[]string{"slot"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "observer_failures_total",
				Help:      "Total number of observer errors returned during notification",
			},
			[]string{"slot"},
		),
		registrations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "registrations",
				Help:      "Live observer registrations across all hosts",
			},
			[]string{"slot"},
		),
	}
}

// Register adds the collector's metrics to reg. On failure nothing stays
// registered, so Register can be retried.
func (c *Collector) Register(reg prometheus.Registerer) error {
	all := []prometheus.Collector{c.sets, c.notifications, c.deliveries, c.failures, c.registrations}
	for i, m := range all {
		if err := reg.Register(m); err != nil {
			for _, done := range all[:i] {
				reg.Unregister(done)
			}
			log.ErrorErr(log.CatMetrics, "Failed to register slot metrics", err)
			return fmt.Errorf("registering slot metrics: %w", err)
		}
	}
	log.Debug(log.CatMetrics, "Slot metrics registered")
	return nil
}

// RecordSet implements observable.Recorder.
func (c *Collector) RecordSet(slot string, changed bool) {
	c.sets.WithLabelValues(slot, strconv.FormatBool(changed)).Inc()
}

// RecordNotify implements observable.Recorder.
func (c *Collector) RecordNotify(slot string, observers int, failures int) {
	c.notifications.WithLabelValues(slot).Inc()
	c.deliveries.WithLabelValues(slot).Add(float64(observers))
	if failures > 0 {
		c.failures.WithLabelValues(slot).Add(float64(failures))
	}
}

// RecordRegistrations implements observable.Recorder.
func (c *Collector) RecordRegistrations(slot string, delta int) {
	c.registrations.WithLabelValues(slot).Add(float64(delta))
}

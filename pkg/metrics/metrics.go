// Package metrics exports interpreter activity to Prometheus. All methods
// are safe to call on a nil *Collector, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes of a processed event.
const (
	Transitioned = "transitioned"
	Ignored      = "ignored"
	Dropped      = "dropped"
	Failed       = "failed"
)

type Collector struct {
	// events counts processed events, labeled by:
	//   - machine: the definition id
	//   - outcome: one of Transitioned, Ignored, Dropped, Failed
	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	overflows   *prometheus.CounterVec
	activities  *prometheus.GaugeVec
	timers      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// New registers the collector's metrics with registerer. A nil registerer
// uses a private registry, which keeps tests from colliding on the default one.
func New(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)
	return &Collector{
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "machine_events_total",
				Help: "A count of processed events by outcome.",
			},
			[]string{"machine", "outcome"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "machine_transitions_total",
				Help: "A count of transitions taken, by source and target state.",
			},
			[]string{"machine", "from", "to"},
		),
		overflows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "machine_raise_overflows_total",
				Help: "A count of raise cascades abandoned at the depth bound.",
			},
			[]string{"machine"},
		),
		activities: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "machine_activities_running",
				Help: "The number of activities currently running.",
			},
			[]string{"machine"},
		),
		timers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "machine_timers_total",
				Help: "A count of delay timers by what became of them.",
			},
			[]string{"machine", "result"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "machine_event_duration_seconds",
				Help:    "Time spent processing one event to completion.",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"machine"},
		),
	}
}

func (collector *Collector) Event(machine, outcome string) {
	if collector == nil {
		return
	}
	collector.events.WithLabelValues(machine, outcome).Inc()
}

func (collector *Collector) Transition(machine, from, to string) {
	if collector == nil {
		return
	}
	collector.transitions.WithLabelValues(machine, from, to).Inc()
}

func (collector *Collector) Overflow(machine string) {
	if collector == nil {
		return
	}
	collector.overflows.WithLabelValues(machine).Inc()
}

func (collector *Collector) ActivityStarted(machine string) {
	if collector == nil {
		return
	}
	collector.activities.WithLabelValues(machine).Inc()
}

func (collector *Collector) ActivityStopped(machine string) {
	if collector == nil {
		return
	}
	collector.activities.WithLabelValues(machine).Dec()
}

// Timer records a timer outcome: "scheduled", "fired", "cancelled" or "stale".
func (collector *Collector) Timer(machine, result string) {
	if collector == nil {
		return
	}
	collector.timers.WithLabelValues(machine, result).Inc()
}

func (collector *Collector) Observe(machine string, elapsed time.Duration) {
	if collector == nil {
		return
	}
	collector.duration.WithLabelValues(machine).Observe(elapsed.Seconds())
}

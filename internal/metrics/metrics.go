// Package metrics holds the Prometheus collectors for the session core. A nil
// *Metrics is valid and records nothing, so components can run without it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chess_session"

type Metrics struct {
	gatherer prometheus.Gatherer

	Commands    *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Sweep       prometheus.Histogram
	Dirty       prometheus.Gauge
	Live        prometheus.Gauge
	Dropped     *prometheus.CounterVec
	SaveRetries prometheus.Counter
	Results     *prometheus.CounterVec
}

// New registers every collector on reg. Passing a fresh registry keeps tests
// independent of the global default one.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled by the dispatcher, by command and outcome code.",
		}, []string{"command", "code"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Applied transitions by event type.",
		}, []string{"event"}),
		Sweep: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent ticking every live session once.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		Dirty: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dirty_sessions",
			Help:      "Sessions whose latest state has not been persisted yet.",
		}),
		Live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Sessions held in the live registry.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Subscribers disconnected because their buffer was full.",
		}, []string{"channel"}),
		SaveRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_retries_total",
			Help:      "Background save attempts after a failed synchronous save.",
		}),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Finished sessions by end reason.",
		}, []string{"end_reason"}),
	}
	reg.MustRegister(m.Commands, m.Transitions, m.Sweep, m.Dirty, m.Live, m.Dropped, m.SaveRetries, m.Results)
	return m
}

func (m *Metrics) ObserveCommand(command, code string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(command, code).Inc()
}

func (m *Metrics) ObserveTransition(event string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.Sweep.Observe(d.Seconds())
}

func (m *Metrics) AddDirty(delta float64) {
	if m == nil {
		return
	}
	m.Dirty.Add(delta)
}

func (m *Metrics) SetLive(n int) {
	if m == nil {
		return
	}
	m.Live.Set(float64(n))
}

func (m *Metrics) SubscriberDropped(channel string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(channel).Inc()
}

func (m *Metrics) SaveRetried() {
	if m == nil {
		return
	}
	m.SaveRetries.Inc()
}

func (m *Metrics) ObserveResult(endReason string) {
	if m == nil {
		return
	}
	m.Results.WithLabelValues(endReason).Inc()
}

// Handler serves the registry m was built with.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Package prometheus exposes the coordinator's operational metrics: command
// throughput, elections, aux action outcomes and listener fan-out.
package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the default Prometheus registry.
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer labels every metric with the coordinator service name.
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "stream_coordinator"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds every Prometheus collector the coordinator publishes.
type Metrics struct {
	CommandsApplied  *prometheus.CounterVec
	ApplyDuration    *prometheus.HistogramVec
	Elections        *prometheus.CounterVec
	StreamEpoch      *prometheus.GaugeVec
	AuxActionsTotal  *prometheus.CounterVec
	AuxActionLatency *prometheus.HistogramVec
	AuxInFlight      prometheus.Gauge
	ListenersTotal   prometheus.Gauge
	Notifications    *prometheus.CounterVec
	Streams          prometheus.Gauge
	ReleaseCursors   prometheus.Counter

	customMu         sync.RWMutex
	CustomCounters   map[string]*prometheus.CounterVec
	CustomGauges     map[string]*prometheus.GaugeVec
	CustomHistograms map[string]*prometheus.HistogramVec
}

// GetMetrics returns the process-wide metrics instance, creating it on first use.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics builds a fresh Metrics collection registered against registerer.
// Tests typically pass a private prometheus.NewRegistry() to avoid collisions
// with the process-wide default.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}

	return &Metrics{
		CommandsApplied: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_commands_applied_total",
				Help: "Total number of commands applied by the dispatcher, by command kind and outcome.",
			},
			[]string{"command", "outcome"},
		),
		ApplyDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coordinator_apply_duration_seconds",
				Help:    "Wall time spent inside apply() per command.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		Elections: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_elections_total",
				Help: "Total number of writer elections performed, by outcome.",
			},
			[]string{"outcome"},
		),
		StreamEpoch: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coordinator_stream_epoch",
				Help: "Current epoch of each stream.",
			},
			[]string{"stream"},
		),
		AuxActionsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_aux_actions_total",
				Help: "Total aux actions submitted, by action tag and terminal outcome.",
			},
			[]string{"action", "outcome"},
		),
		AuxActionLatency: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coordinator_aux_action_duration_seconds",
				Help:    "Time from aux action submission to its terminal outcome.",
				Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"action"},
		),
		AuxInFlight: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "coordinator_aux_actions_in_flight",
				Help: "Number of aux actions currently in flight across all members.",
			},
		),
		ListenersTotal: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "coordinator_listeners_total",
				Help: "Number of registered listeners across all streams.",
			},
		),
		Notifications: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_notifications_total",
				Help: "Total listener notifications emitted, by kind.",
			},
			[]string{"kind"},
		),
		Streams: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "coordinator_streams_total",
				Help: "Number of live streams tracked by the machine.",
			},
		),
		ReleaseCursors: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_release_cursors_total",
				Help: "Total release_cursor effects emitted to the runtime.",
			},
		),
		CustomCounters:   make(map[string]*prometheus.CounterVec),
		CustomGauges:     make(map[string]*prometheus.GaugeVec),
		CustomHistograms: make(map[string]*prometheus.HistogramVec),
	}
}

// RecordApply records the outcome and latency of one dispatcher.Apply call.
func (m *Metrics) RecordApply(command, outcome string, d time.Duration) {
	m.CommandsApplied.WithLabelValues(command, outcome).Inc()
	m.ApplyDuration.WithLabelValues(command).Observe(d.Seconds())
}

// RecordElection records a completed (or aborted) election attempt.
func (m *Metrics) RecordElection(outcome string) {
	m.Elections.WithLabelValues(outcome).Inc()
}

// SetStreamEpoch publishes the current epoch for a stream.
func (m *Metrics) SetStreamEpoch(streamID string, epoch uint64) {
	m.StreamEpoch.WithLabelValues(streamID).Set(float64(epoch))
}

// RecordAuxAction records a terminal aux action outcome and its latency.
func (m *Metrics) RecordAuxAction(action, outcome string, d time.Duration) {
	m.AuxActionsTotal.WithLabelValues(action, outcome).Inc()
	if d > 0 {
		m.AuxActionLatency.WithLabelValues(action).Observe(d.Seconds())
	}
}

// SetAuxInFlight publishes the number of aux actions currently outstanding.
func (m *Metrics) SetAuxInFlight(n int) {
	m.AuxInFlight.Set(float64(n))
}

// SetListenersTotal publishes the number of registered listeners.
func (m *Metrics) SetListenersTotal(n int) {
	m.ListenersTotal.Set(float64(n))
}

// RecordNotification records one listener notification of the given kind
// (leader_change, local_member_change, eol).
func (m *Metrics) RecordNotification(kind string) {
	m.Notifications.WithLabelValues(kind).Inc()
}

// SetStreamsTotal publishes the number of live streams.
func (m *Metrics) SetStreamsTotal(n int) {
	m.Streams.Set(float64(n))
}

// RecordReleaseCursor records one release_cursor effect emission.
func (m *Metrics) RecordReleaseCursor() {
	m.ReleaseCursors.Inc()
}

// Counter returns (creating if necessary) a custom counter metric.
func (m *Metrics) Counter(name, help string, labels ...string) *prometheus.CounterVec {
	m.customMu.RLock()
	if c, ok := m.CustomCounters[name]; ok {
		m.customMu.RUnlock()
		return c
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()
	if c, ok := m.CustomCounters[name]; ok {
		return c
	}
	c := promauto.With(DefaultRegisterer).NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	m.CustomCounters[name] = c
	return c
}

// Gauge returns (creating if necessary) a custom gauge metric.
func (m *Metrics) Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	m.customMu.RLock()
	if g, ok := m.CustomGauges[name]; ok {
		m.customMu.RUnlock()
		return g
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()
	if g, ok := m.CustomGauges[name]; ok {
		return g
	}
	g := promauto.With(DefaultRegisterer).NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	m.CustomGauges[name] = g
	return g
}

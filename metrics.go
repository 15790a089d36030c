package fabrichost

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects host and listener counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	hostState         *prometheus.GaugeVec
	startsTotal       *prometheus.CounterVec
	startDuration     prometheus.Histogram
	initializersTotal *prometheus.CounterVec
	listenerOpens     *prometheus.CounterVec
	listenerCloses    *prometheus.CounterVec
	listenersOpen     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on registry.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: registry,

		hostState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fabrichost_host_state",
				Help: "Current host state (1 for the active state, 0 otherwise)",
			},
			[]string{"state"},
		),
		startsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fabrichost_host_starts_total",
				Help: "Total number of host start attempts by result",
			},
			[]string{"result"},
		),
		startDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fabrichost_host_start_duration_seconds",
				Help:    "Time from Start until the instance reported started",
				Buckets: prometheus.DefBuckets,
			},
		),
		initializersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fabrichost_initializers_total",
				Help: "Total number of host initializer runs by result",
			},
			[]string{"result"},
		),
		listenerOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fabrichost_listener_opens_total",
				Help: "Total number of listener open attempts by result",
			},
			[]string{"result"},
		),
		listenerCloses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fabrichost_listener_closes_total",
				Help: "Total number of listener shutdowns by kind",
			},
			[]string{"kind"},
		),
		listenersOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fabrichost_listeners_open",
				Help: "Number of listeners currently open",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.hostState,
		m.startsTotal,
		m.startDuration,
		m.initializersTotal,
		m.listenerOpens,
		m.listenerCloses,
		m.listenersOpen,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) setHostState(state HostState) {
	if m == nil {
		return
	}
	for s := HostCreated; s <= HostFaulted; s++ {
		v := 0.0
		if s == state {
			v = 1
		}
		m.hostState.WithLabelValues(s.String()).Set(v)
	}
}

func (m *Metrics) observeStart(result string, seconds float64) {
	if m == nil {
		return
	}
	m.startsTotal.WithLabelValues(result).Inc()
	if result == "success" {
		m.startDuration.Observe(seconds)
	}
}

func (m *Metrics) incInitializer(result string) {
	if m == nil {
		return
	}
	m.initializersTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) listenerOpened(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.listenerOpens.WithLabelValues("success").Inc()
		m.listenersOpen.Inc()
		return
	}
	m.listenerOpens.WithLabelValues("error").Inc()
}

func (m *Metrics) listenerClosed(kind string) {
	if m == nil {
		return
	}
	m.listenerCloses.WithLabelValues(kind).Inc()
	m.listenersOpen.Dec()
}

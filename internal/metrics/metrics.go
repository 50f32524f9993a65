package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the taproom counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Server side
	SessionsStarted  *prometheus.CounterVec // result: created, resumed, conflict
	SessionsFinished *prometheus.CounterVec // status: completed, cancelled
	CountsSaved      *prometheus.CounterVec // kind: bottle, keg
	SensorReadings   prometheus.Counter

	// Station side
	OfflineQueued  prometheus.Counter
	ReplayResults  *prometheus.CounterVec // result: replayed, rejected, failed
	QueueDepth     prometheus.Gauge
	ConnectivityUp prometheus.Gauge
	BreakerStateTo *prometheus.CounterVec // state
}

// New creates and registers all metrics on a fresh registry
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Session start requests by outcome",
		}, []string{"result"}),
		SessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Sessions finalized by status",
		}, []string{"status"}),
		CountsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counts_saved_total",
			Help:      "Product counts persisted",
		}, []string{"kind"}),
		SensorReadings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keg_sensor_readings_total",
			Help:      "Keg sensor readings ingested",
		}),
		OfflineQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_counts_queued_total",
			Help:      "Counts captured while offline",
		}),
		ReplayResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_replay_total",
			Help:      "Offline queue replay outcomes per entry",
		}, []string{"result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_queue_depth",
			Help:      "Counts waiting in the offline queue",
		}),
		ConnectivityUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "station_online",
			Help:      "1 when the station can reach the server",
		}),
		BreakerStateTo: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_breaker_transitions_total",
			Help:      "Circuit breaker transitions by target state",
		}, []string{"state"}),
	}

	reg.MustRegister(
		m.SessionsStarted,
		m.SessionsFinished,
		m.CountsSaved,
		m.SensorReadings,
		m.OfflineQueued,
		m.ReplayResults,
		m.QueueDepth,
		m.ConnectivityUp,
		m.BreakerStateTo,
	)
	return m
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry (tests gather from it)
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) SessionStarted(result string) {
	if m != nil {
		m.SessionsStarted.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SessionFinished(status string) {
	if m != nil {
		m.SessionsFinished.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) CountSaved(isKeg bool) {
	if m == nil {
		return
	}
	kind := "bottle"
	if isKeg {
		kind = "keg"
	}
	m.CountsSaved.WithLabelValues(kind).Inc()
}

func (m *Metrics) SensorReading() {
	if m != nil {
		m.SensorReadings.Inc()
	}
}

func (m *Metrics) Queued(depth int) {
	if m != nil {
		m.OfflineQueued.Inc()
		m.QueueDepth.Set(float64(depth))
	}
}

func (m *Metrics) Replay(result string) {
	if m != nil {
		m.ReplayResults.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Depth(depth int) {
	if m != nil {
		m.QueueDepth.Set(float64(depth))
	}
}

func (m *Metrics) Online(up bool) {
	if m == nil {
		return
	}
	if up {
		m.ConnectivityUp.Set(1)
	} else {
		m.ConnectivityUp.Set(0)
	}
}

func (m *Metrics) BreakerTransition(state string) {
	if m != nil {
		m.BreakerStateTo.WithLabelValues(state).Inc()
	}
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors of one process. All methods are safe on a
// nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	enrichments   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	alertLevel    *prometheus.GaugeVec
	resolutions   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskeye_cycles_total",
				Help: "Orchestration cycles by result",
			},
			[]string{"result"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "riskeye_cycle_duration_seconds",
				Help:    "Duration of orchestration cycles",
				Buckets: prometheus.DefBuckets,
			},
		),
		enrichments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskeye_enrichments_total",
				Help: "Metric fetches by outcome",
			},
			[]string{"outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskeye_level_transitions_total",
				Help: "Alert level transitions by new level",
			},
			[]string{"level"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskeye_notifications_total",
				Help: "Notification attempts by notifier and outcome",
			},
			[]string{"notifier", "outcome"},
		),
		alertLevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskeye_alert_level",
				Help: "Current alert level (0 NORMAL .. 3 HIGH)",
			},
			[]string{"alert_id", "alert_type"},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskeye_threshold_resolutions_total",
				Help: "Threshold resolutions by monitor and winning source",
			},
			[]string{"monitor", "source"},
		),
	}

	m.registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.enrichments,
		m.transitions,
		m.notifications,
		m.alertLevel,
		m.resolutions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) Enrichment(outcome string) {
	if m == nil {
		return
	}
	m.enrichments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(level string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(level).Inc()
}

func (m *Metrics) Notification(notifier, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(notifier, outcome).Inc()
}

func (m *Metrics) SetAlertLevel(alertID, alertType string, rank int) {
	if m == nil {
		return
	}
	m.alertLevel.WithLabelValues(alertID, alertType).Set(float64(rank))
}

func (m *Metrics) Resolution(monitor, source string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(monitor, source).Inc()
}

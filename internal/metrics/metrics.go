// Package metrics exposes Prometheus collectors for the outage poller.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "planned_outage"

// Metrics holds the collectors on a dedicated registry so the exposition
// only contains what this daemon reports
type Metrics struct {
	registry      *prometheus.Registry
	polls         *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	fetchFailure  prometheus.Gauge
	lastRefresh   prometheus.Gauge
	outageCount   prometheus.Gauge
	nextStart     *prometheus.GaugeVec
	nextEnd       *prometheus.GaugeVec
	publishErrors *prometheus.CounterVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_total",
				Help:      "Number of polls of the planned outage API by outcome",
			},
			[]string{"outcome"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Time taken by one request to the planned outage API",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		fetchFailure: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fetch_failure",
				Help:      "1 if the last poll failed to fetch or parse, 0 if successful",
			},
		),
		lastRefresh: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_refresh_timestamp_seconds",
				Help:      "Unix timestamp of the last successful poll",
			},
		),
		outageCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "future_outages",
				Help:      "Number of future planned outages returned by the last successful poll",
			},
		),
		nextStart: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "next_start_timestamp_seconds",
				Help:      "Unix timestamp of the next planned outage start, absent when none",
			},
			[]string{"icp"},
		),
		nextEnd: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "next_end_timestamp_seconds",
				Help:      "Unix timestamp of the next planned outage end, absent when none",
			},
			[]string{"icp"},
		),
		publishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_errors_total",
				Help:      "Number of failed sensor publishes to Home Assistant",
			},
			[]string{"entity_id"},
		),
	}

	m.registry.MustRegister(
		m.polls,
		m.fetchDuration,
		m.fetchFailure,
		m.lastRefresh,
		m.outageCount,
		m.nextStart,
		m.nextEnd,
		m.publishErrors,
	)
	return m
}

// Registry returns the registry holding every collector
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePoll records one poll. failed covers both fetch and parse failures.
func (m *Metrics) ObservePoll(outcome string, failed bool, duration time.Duration, at time.Time, outages int) {
	m.polls.WithLabelValues(outcome).Inc()
	m.fetchDuration.Observe(duration.Seconds())

	if failed {
		m.fetchFailure.Set(1)
		return
	}
	m.fetchFailure.Set(0)
	m.lastRefresh.Set(float64(at.Unix()))
	m.outageCount.Set(float64(outages))
}

// SetNextOutage updates the next-outage gauges. A nil time removes the series.
func (m *Metrics) SetNextOutage(icp string, start, end *time.Time) {
	setOrDelete(m.nextStart, icp, start)
	setOrDelete(m.nextEnd, icp, end)
}

// IncPublishError counts a failed publish for an entity
func (m *Metrics) IncPublishError(entityID string) {
	m.publishErrors.WithLabelValues(entityID).Inc()
}

func setOrDelete(vec *prometheus.GaugeVec, icp string, t *time.Time) {
	if t == nil {
		vec.DeleteLabelValues(icp)
		return
	}
	vec.WithLabelValues(icp).Set(float64(t.Unix()))
}

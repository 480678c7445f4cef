// Package telemetry exposes the client's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	pollCalls     *prometheus.CounterVec
	joinAttempts  *prometheus.CounterVec
	ticks         prometheus.Counter
	tickLateness  prometheus.Histogram
	outputsBegun  prometheus.Counter
	eventsTotal   *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	locationFixes *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	wsConnections prometheus.Gauge
}

// NewMetrics registers every collector on reg. Pass a fresh registry in
// tests; the process uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		pollCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mobflare_poll_calls_total",
			Help: "Coordinator fetches issued while waiting for quorum, by outcome.",
		}, []string{"outcome"}),
		joinAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mobflare_join_attempts_total",
			Help: "Join calls by outcome.",
		}, []string{"outcome"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mobflare_countdown_ticks_total",
			Help: "Countdown scheduler ticks handled.",
		}),
		tickLateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mobflare_countdown_tick_lateness_seconds",
			Help:    "How far past its scheduled instant each tick ran.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
		outputsBegun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mobflare_outputs_begun_total",
			Help: "Output cycles started.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mobflare_events_published_total",
			Help: "Flare events published, by type and status.",
		}, []string{"event_type", "status"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mobflare_event_publish_duration_seconds",
			Help:    "Time spent publishing a flare event.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),
		locationFixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mobflare_location_requests_total",
			Help: "Location lookups by source (cache, last_known, fresh, failed).",
		}, []string{"source"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mobflare_gateway_requests_total",
			Help: "Gateway HTTP requests by route and status.",
		}, []string{"route", "status"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mobflare_gateway_websocket_connections",
			Help: "Open gateway websocket connections.",
		}),
	}

	reg.MustRegister(
		m.pollCalls,
		m.joinAttempts,
		m.ticks,
		m.tickLateness,
		m.outputsBegun,
		m.eventsTotal,
		m.eventDuration,
		m.locationFixes,
		m.httpRequests,
		m.wsConnections,
	)

	return m
}

// NewDefaultMetrics registers on the process-wide registry.
func NewDefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests per route. Websocket routes should not be
// wrapped: the recorder hides http.Hijacker.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
	})
}

func (m *Metrics) PollCall(outcome string) {
	if m == nil {
		return
	}
	m.pollCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) JoinAttempt(outcome string) {
	if m == nil {
		return
	}
	m.joinAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Tick(lateness time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	if lateness < 0 {
		lateness = 0
	}
	m.tickLateness.Observe(lateness.Seconds())
}

func (m *Metrics) OutputBegun() {
	if m == nil {
		return
	}
	m.outputsBegun.Inc()
}

func (m *Metrics) LocationRequest(source string) {
	if m == nil {
		return
	}
	m.locationFixes.WithLabelValues(source).Inc()
}

func (m *Metrics) WebsocketOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) WebsocketClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

// RecordEventProcessed satisfies eventbus.MetricsCollector.
func (m *Metrics) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.eventsTotal.WithLabelValues(eventType, status).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

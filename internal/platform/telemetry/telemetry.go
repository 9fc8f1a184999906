// Package telemetry exposes Prometheus metrics for the HTTP layer and for the
// consultation lifecycle.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vivamoms/consult/internal/platform/apperror"
)

const namespace = "consult"

// Metrics holds every collector. Services accept a *Metrics and treat nil as
// "metrics disabled", so tests can pass nil.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	transitions       *prometheus.CounterVec
	guardDenials      *prometheus.CounterVec
	messagesSent      *prometheus.CounterVec
	durationAnomalies prometheus.Counter
	durationMinutes   prometheus.Histogram
	eventFailures     *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consultation_transitions_total",
			Help:      "Successful consultation state transitions.",
		}, []string{"transition"}),
		guardDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_denials_total",
			Help:      "Access guard denials by action and rule.",
		}, []string{"action", "rule"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages persisted, by message type.",
		}, []string{"type"}),
		durationAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consultation_duration_anomalies_total",
			Help:      "Completions whose end time preceded their start time.",
		}),
		durationMinutes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consultation_duration_minutes",
			Help:      "Duration of completed consultations.",
			Buckets:   []float64{5, 10, 15, 30, 45, 60, 90, 120, 240},
		}),
		eventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_publish_failures_total",
			Help:      "Notification events that could not be delivered, by publisher.",
		}, []string{"publisher"}),
	}
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.transitions, m.guardDenials,
		m.messagesSent, m.durationAnomalies, m.durationMinutes, m.eventFailures,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Transition(name string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(name).Inc()
}

func (m *Metrics) Denied(action, rule string) {
	if m == nil {
		return
	}
	m.guardDenials.WithLabelValues(action, rule).Inc()
}

func (m *Metrics) MessageSent(msgType string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(msgType).Inc()
}

// Completed records the duration of a completed consultation; anomalous
// completions are counted but not observed.
func (m *Metrics) Completed(minutes int, anomaly bool) {
	if m == nil {
		return
	}
	if anomaly {
		m.durationAnomalies.Inc()
		return
	}
	m.durationMinutes.Observe(float64(minutes))
}

func (m *Metrics) PublishFailed(publisher string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(publisher).Inc()
}

// Middleware records request counts and latency keyed by the matched route
// template, so /consultations/:id is one series rather than one per id.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			switch {
			case errors.As(err, &he):
				status = he.Code
			case err != nil:
				status = apperror.HTTPStatus(apperror.KindOf(err))
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the relay's Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	wsConnections     prometheus.Gauge
	eventsRoutedTotal *prometheus.CounterVec
	callsActive       prometheus.Gauge
	messagesTotal     prometheus.Counter
}

// NewMetrics creates and registers the relay metrics
func NewMetrics(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint"},
		),
		wsConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "ws_connections",
				Help:        "Currently connected WebSocket clients",
				ConstLabels: labels,
			},
		),
		eventsRoutedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ws_events_routed_total",
				Help:        "Events routed through the relay by name",
				ConstLabels: labels,
			},
			[]string{"event"},
		),
		callsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Calls currently in the active state",
				ConstLabels: labels,
			},
		),
		messagesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "messages_relayed_total",
				Help:        "Chat messages relayed",
				ConstLabels: labels,
			},
		),
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.wsConnections,
		m.eventsRoutedTotal,
		m.callsActive,
		m.messagesTotal,
	)

	return m
}

// GetRegistry returns the metrics registry for the /metrics handler
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records one served HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusLabel(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// ClientConnected tracks a new WebSocket connection
func (m *Metrics) ClientConnected() { m.wsConnections.Inc() }

// ClientDisconnected tracks a dropped WebSocket connection
func (m *Metrics) ClientDisconnected() { m.wsConnections.Dec() }

// RecordEvent counts one routed event by name
func (m *Metrics) RecordEvent(event string) {
	m.eventsRoutedTotal.WithLabelValues(event).Inc()
}

// RecordMessage counts one relayed chat message
func (m *Metrics) RecordMessage() { m.messagesTotal.Inc() }

// CallStarted tracks a call transitioning to active
func (m *Metrics) CallStarted() { m.callsActive.Inc() }

// CallEnded tracks a call leaving the active state
func (m *Metrics) CallEnded() { m.callsActive.Dec() }

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

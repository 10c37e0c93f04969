package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metrics for the service. Each instance owns its
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec
	websocketDroppedTotal  *prometheus.CounterVec

	// Call Metrics
	callsTotal       *prometheus.CounterVec
	callsActive      prometheus.Gauge
	callsDuration    *prometheus.HistogramVec
	callsFailedTotal *prometheus.CounterVec

	// Relay Metrics
	relaySessions     prometheus.Gauge
	relayFramesTotal  *prometheus.CounterVec
	pubsubErrorsTotal *prometheus.CounterVec

	// Message Metrics
	messagesTotal *prometheus.CounterVec

	// Cassandra Metrics
	cassandraQueryTotal    *prometheus.CounterVec
	cassandraQueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,

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
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		websocketConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of registered signaling connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of signaling messages",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),
		websocketErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of signaling errors",
				ConstLabels: labels,
			},
			[]string{"error"},
		),
		websocketDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_dropped_messages_total",
				Help:        "Messages dropped because a connection queue was full or closed",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),

		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of call state transitions",
				ConstLabels: labels,
			},
			[]string{"call_type", "status"},
		),
		callsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of calls activated by this instance and not yet ended",
				ConstLabels: labels,
			},
		),
		callsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of answered calls",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"call_type"},
		),
		callsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_failed_total",
				Help:        "Total number of rejected call operations",
				ConstLabels: labels,
			},
			[]string{"operation", "reason"},
		),

		relaySessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "relay_sessions_active",
				Help:        "Number of running relay sessions",
				ConstLabels: labels,
			},
		),
		relayFramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "relay_frames_total",
				Help:        "Frames pumped by relay sessions",
				ConstLabels: labels,
			},
			[]string{"direction"},
		),
		pubsubErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "pubsub_errors_total",
				Help:        "Pub/sub backend errors",
				ConstLabels: labels,
			},
			[]string{"backend", "operation"},
		),

		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "chat_messages_total",
				Help:        "Total number of chat messages relayed",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),

		cassandraQueryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "cassandra_query_total",
				Help:        "Total number of Cassandra queries executed",
				ConstLabels: labels,
			},
			[]string{"operation", "status"},
		),
		cassandraQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "cassandra_query_duration_seconds",
				Help:        "Cassandra query latency in seconds",
				ConstLabels: labels,
				Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(
		m.httpRequestsTotal, m.httpRequestDuration, m.httpRequestsInFlight,
		m.websocketConnections, m.websocketMessagesTotal, m.websocketErrorsTotal, m.websocketDroppedTotal,
		m.callsTotal, m.callsActive, m.callsDuration, m.callsFailedTotal,
		m.relaySessions, m.relayFramesTotal, m.pubsubErrorsTotal,
		m.messagesTotal,
		m.cassandraQueryTotal, m.cassandraQueryDuration,
	)

	return m
}

// GetRegistry returns the registry backing /metrics
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// WebSocket Metrics Methods

// SetWebSocketConnections sets the number of active WebSocket connections
func (m *Metrics) SetWebSocketConnections(count int) {
	m.websocketConnections.Set(float64(count))
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// RecordWebSocketError records a WebSocket error
func (m *Metrics) RecordWebSocketError(reason string) {
	m.websocketErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordDroppedMessage records a frame that could not be enqueued
func (m *Metrics) RecordDroppedMessage(reason string) {
	m.websocketDroppedTotal.WithLabelValues(reason).Inc()
}

// Call Metrics Methods

// RecordCall records a call state transition
func (m *Metrics) RecordCall(callType, status string) {
	m.callsTotal.WithLabelValues(callType, status).Inc()
}

// IncActiveCalls marks a call as active on this instance
func (m *Metrics) IncActiveCalls() {
	m.callsActive.Inc()
}

// DecActiveCalls marks an active call as ended
func (m *Metrics) DecActiveCalls() {
	m.callsActive.Dec()
}

// RecordCallDuration records the duration of a call
func (m *Metrics) RecordCallDuration(callType string, duration time.Duration) {
	m.callsDuration.WithLabelValues(callType).Observe(duration.Seconds())
}

// RecordCallFailure records a rejected call operation
func (m *Metrics) RecordCallFailure(operation, reason string) {
	m.callsFailedTotal.WithLabelValues(operation, reason).Inc()
}

// Relay Metrics Methods

// IncRelaySessions marks a relay session as started
func (m *Metrics) IncRelaySessions() {
	m.relaySessions.Inc()
}

// DecRelaySessions marks a relay session as finished
func (m *Metrics) DecRelaySessions() {
	m.relaySessions.Dec()
}

// RecordRelayFrame records one frame pumped in the given direction (inbound, outbound, echo)
func (m *Metrics) RecordRelayFrame(direction string) {
	m.relayFramesTotal.WithLabelValues(direction).Inc()
}

// RecordPubSubError records a pub/sub backend error
func (m *Metrics) RecordPubSubError(backend, operation string) {
	m.pubsubErrorsTotal.WithLabelValues(backend, operation).Inc()
}

// Message Metrics Methods

// RecordMessage records a relayed chat message
func (m *Metrics) RecordMessage(kind string) {
	m.messagesTotal.WithLabelValues(kind).Inc()
}

// Cassandra Metrics Methods

// RecordCassandraQuery records one query with its outcome (ok, timeout, error)
func (m *Metrics) RecordCassandraQuery(operation, status string, duration time.Duration) {
	m.cassandraQueryTotal.WithLabelValues(operation, status).Inc()
	m.cassandraQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

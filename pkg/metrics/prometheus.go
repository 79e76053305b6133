package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call service.
// Every method is safe to call on a nil receiver so collaborators can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Storage Metrics
	dbQueryDuration    *prometheus.HistogramVec
	dbQueryErrorsTotal *prometheus.CounterVec

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec
	rateLimitBlockedTotal  *prometheus.CounterVec

	// Signaling Metrics
	signalingEventsTotal *prometheus.CounterVec
	callErrorsTotal      *prometheus.CounterVec
	participantsActive   *prometheus.GaugeVec

	// Call Metrics
	callsTotal    *prometheus.CounterVec
	callsActive   prometheus.Gauge
	callsDuration prometheus.Histogram

	// Collaborator Metrics
	sinkFailuresTotal       *prometheus.CounterVec
	pushNotificationsTotal  *prometheus.CounterVec
	pushNotificationsFailed *prometheus.CounterVec

	// Redis Metrics
	redisDegraded       prometheus.Gauge
	redisFallbacksTotal *prometheus.CounterVec

	// Resilience Metrics
	circuitBreakerState    *prometheus.GaugeVec
	circuitBreakerRejected *prometheus.CounterVec
	cacheLookupsTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on a private registry
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "db_query_duration_seconds",
				Help:        "Storage query latency in seconds",
				ConstLabels: labels,
				Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"store", "operation"},
		),
		dbQueryErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "db_query_errors_total",
				Help:        "Total number of failed storage queries",
				ConstLabels: labels,
			},
			[]string{"store", "operation"},
		),

		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of open signaling WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket frames",
				ConstLabels: labels,
			},
			[]string{"direction"},
		),
		websocketErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of WebSocket transport errors",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		rateLimitBlockedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "rate_limit_blocked_total",
				Help:        "Requests and signaling frames rejected by a rate limiter",
				ConstLabels: labels,
			},
			[]string{"scope"},
		),

		signalingEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_events_total",
				Help:        "Inbound signaling events handled by the controller",
				ConstLabels: labels,
			},
			[]string{"event"},
		),
		callErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_call_errors_total",
				Help:        "Domain errors reported to clients",
				ConstLabels: labels,
			},
			[]string{"code"},
		),
		participantsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "signaling_participants_active",
				Help:        "Registered participants by role",
				ConstLabels: labels,
			},
			[]string{"role"},
		),

		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Call attempts by final status",
				ConstLabels: labels,
			},
			[]string{"status", "reason"},
		),
		callsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of live call sessions",
				ConstLabels: labels,
			},
		),
		callsDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of answered calls",
				ConstLabels: labels,
				Buckets:     []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
		),

		sinkFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "collaborator_failures_total",
				Help:        "Swallowed failures of best-effort collaborator writes",
				ConstLabels: labels,
			},
			[]string{"collaborator"},
		),
		pushNotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Total number of push notifications sent",
				ConstLabels: labels,
			},
			[]string{"type", "provider"},
		),
		pushNotificationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_failed_total",
				Help:        "Total number of failed push notifications",
				ConstLabels: labels,
			},
			[]string{"type", "provider"},
		),

		redisDegraded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "redis_degraded_mode",
				Help:        "1 while Redis is unreachable and the service runs without it",
				ConstLabels: labels,
			},
		),
		redisFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "redis_fallback_total",
				Help:        "Operations skipped because Redis was unavailable",
				ConstLabels: labels,
			},
			[]string{"operation"},
		),

		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "circuit_breaker_state",
				Help:        "State of a circuit breaker (0=closed, 1=half_open, 2=open)",
				ConstLabels: labels,
			},
			[]string{"breaker"},
		),
		circuitBreakerRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "circuit_breaker_rejected_total",
				Help:        "Calls rejected while a circuit breaker was open",
				ConstLabels: labels,
			},
			[]string{"breaker"},
		),
		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "cache_lookups_total",
				Help:        "In-memory cache lookups by result",
				ConstLabels: labels,
			},
			[]string{"cache", "result"},
		),
	}
}

// GetRegistry returns the registry every metric is registered on
func (m *Metrics) GetRegistry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Dec()
}

// Storage Metrics Methods

// RecordDBQuery records a query against one of the backing stores
func (m *Metrics) RecordDBQuery(store, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
	if err != nil {
		m.dbQueryErrorsTotal.WithLabelValues(store, operation).Inc()
	}
}

// WebSocket Metrics Methods

// SetWebSocketConnections sets the number of active WebSocket connections
func (m *Metrics) SetWebSocketConnections(count int) {
	if m == nil {
		return
	}
	m.websocketConnections.Set(float64(count))
}

// RecordWebSocketMessage records a WebSocket frame, direction is "in" or "out"
func (m *Metrics) RecordWebSocketMessage(direction string) {
	if m == nil {
		return
	}
	m.websocketMessagesTotal.WithLabelValues(direction).Inc()
}

// RecordWebSocketError records a WebSocket error
func (m *Metrics) RecordWebSocketError(kind string) {
	if m == nil {
		return
	}
	m.websocketErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordRateLimitBlocked records a rejection; scope is "http" or "websocket"
func (m *Metrics) RecordRateLimitBlocked(scope string) {
	if m == nil {
		return
	}
	m.rateLimitBlockedTotal.WithLabelValues(scope).Inc()
}

// Signaling Metrics Methods

// RecordSignalingEvent records one handled inbound event
func (m *Metrics) RecordSignalingEvent(event string) {
	if m == nil {
		return
	}
	m.signalingEventsTotal.WithLabelValues(event).Inc()
}

// RecordCallError records a domain error sent to a client
func (m *Metrics) RecordCallError(code string) {
	if m == nil {
		return
	}
	m.callErrorsTotal.WithLabelValues(code).Inc()
}

// SetParticipants sets the number of registered participants for a role
func (m *Metrics) SetParticipants(role string, count int) {
	if m == nil {
		return
	}
	m.participantsActive.WithLabelValues(role).Set(float64(count))
}

// Call Metrics Methods

// RecordCallOutcome records a call reaching a terminal status
func (m *Metrics) RecordCallOutcome(status, reason string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(status, reason).Inc()
}

// SetActiveCalls sets the number of active calls
func (m *Metrics) SetActiveCalls(count int) {
	if m == nil {
		return
	}
	m.callsActive.Set(float64(count))
}

// RecordCallDuration records the duration of an answered call
func (m *Metrics) RecordCallDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.callsDuration.Observe(duration.Seconds())
}

// Collaborator Metrics Methods

// RecordSinkFailure records a swallowed failure of a best-effort write
func (m *Metrics) RecordSinkFailure(collaborator string) {
	if m == nil {
		return
	}
	m.sinkFailuresTotal.WithLabelValues(collaborator).Inc()
}

// RecordPushNotifications records delivered push notifications
func (m *Metrics) RecordPushNotifications(notifType, provider string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.pushNotificationsTotal.WithLabelValues(notifType, provider).Add(float64(count))
}

// RecordPushNotificationFailures records failed push notifications
func (m *Metrics) RecordPushNotificationFailures(notifType, provider string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.pushNotificationsFailed.WithLabelValues(notifType, provider).Add(float64(count))
}

// Redis Metrics Methods

// SetRedisDegraded flags whether the Redis client runs in degraded mode
func (m *Metrics) SetRedisDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.redisDegraded.Set(1)
		return
	}
	m.redisDegraded.Set(0)
}

// RecordRedisFallback records an operation skipped because Redis is unavailable
func (m *Metrics) RecordRedisFallback(operation string) {
	if m == nil {
		return
	}
	m.redisFallbacksTotal.WithLabelValues(operation).Inc()
}

// Resilience Metrics Methods

// SetCircuitBreakerState publishes the numeric state of a named breaker
func (m *Metrics) SetCircuitBreakerState(breaker string, state int) {
	if m == nil {
		return
	}
	m.circuitBreakerState.WithLabelValues(breaker).Set(float64(state))
}

// RecordCircuitBreakerRejected records a call refused by an open breaker
func (m *Metrics) RecordCircuitBreakerRejected(breaker string) {
	if m == nil {
		return
	}
	m.circuitBreakerRejected.WithLabelValues(breaker).Inc()
}

// RecordCacheLookup records a cache hit or miss
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

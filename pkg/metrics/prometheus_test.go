package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordSignalingEvent("user-joined")
		m.RecordCallOutcome("ended", "hangup")
		m.SetActiveCalls(3)
		m.RecordSinkFailure("cockroach")
		m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
		m.RecordRateLimitBlocked("http")
		m.SetCircuitBreakerState("push", 2)
		m.RecordCacheLookup("users", true)
	})
	assert.Nil(t, m.GetRegistry())
}

func TestMetricsUseIsolatedRegistries(t *testing.T) {
	a := NewMetrics("call-service")
	b := NewMetrics("call-service")

	a.RecordCallOutcome("ended", "hangup")
	a.RecordCallOutcome("ended", "hangup")
	b.RecordCallOutcome("expired", "expired")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.callsTotal.WithLabelValues("ended", "hangup")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.callsTotal.WithLabelValues("ended", "hangup")))
}

func TestRecordDBQueryCountsErrors(t *testing.T) {
	m := NewMetrics("call-service")

	m.RecordDBQuery("cockroach", "upsert_call", time.Millisecond, nil)
	m.RecordDBQuery("cockroach", "upsert_call", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbQueryErrorsTotal.WithLabelValues("cockroach", "upsert_call")))
}

func TestGauges(t *testing.T) {
	m := NewMetrics("call-service")

	m.SetActiveCalls(4)
	m.SetParticipants("doctor", 2)
	m.SetWebSocketConnections(7)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.callsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.participantsActive.WithLabelValues("doctor")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.websocketConnections))
}

func TestResilienceMetrics(t *testing.T) {
	m := NewMetrics("call-service")

	m.SetCircuitBreakerState("push", 2)
	m.RecordCircuitBreakerRejected("push")
	m.RecordCacheLookup("users", true)
	m.RecordCacheLookup("users", false)
	m.RecordCacheLookup("users", false)
	m.RecordRateLimitBlocked("websocket")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.circuitBreakerState.WithLabelValues("push")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.circuitBreakerRejected.WithLabelValues("push")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues("users", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues("users", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitBlockedTotal.WithLabelValues("websocket")))
}

package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.OrderCreated("one-time", "square", "USD", 4999)
	m.OrderCreated("one-time", "square", "USD", 4999)
	m.WebhookEvent("stripe", "duplicate")
	m.NotifyResult("push", nil)
	m.NotifyResult("push", errors.New("timeout"))
	m.GatewayError("square", "")
	m.SetMonitoredValue("cpu_usage", 42.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersCreated.WithLabelValues("one-time", "square")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("stripe", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifyDeliveries.WithLabelValues("push", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gatewayErrors.WithLabelValues("square", "UNKNOWN")))
	assert.Equal(t, 42.5, testutil.ToFloat64(m.systemMetric.WithLabelValues("cpu_usage")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OrderCreated("one-time", "square", "USD", 1)
		m.OrderTransition("confirmed", "applied")
		m.AlertFired("threshold", "critical")
		m.JobFailed("monitor")
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New()
	m.AlertFired("container_down", "critical")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics/prometheus", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `agistaffers_alerts_fired_total{kind="container_down",severity="critical"} 1`))
}

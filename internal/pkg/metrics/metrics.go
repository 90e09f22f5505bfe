// Package metrics exposes back-office counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agistaffers"

// Metrics owns its registry so tests can build isolated instances.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ordersCreated      *prometheus.CounterVec
	orderTransitions   *prometheus.CounterVec
	orderAmount        *prometheus.HistogramVec
	gatewayErrors      *prometheus.CounterVec
	webhookEvents      *prometheus.CounterVec
	alertsFired        *prometheus.CounterVec
	notifyDeliveries   *prometheus.CounterVec
	systemMetric       *prometheus.GaugeVec
	schedulerJobErrors *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ordersCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created, by order type and gateway.",
		}, []string{"type", "gateway"}),
		orderTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Applied order status transitions, by target status and outcome.",
		}, []string{"status", "outcome"}),
		orderAmount: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_amount_minor_units",
			Help:      "Order amounts in minor currency units.",
			Buckets:   prometheus.ExponentialBuckets(1000, 4, 6),
		}, []string{"currency"}),
		gatewayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Payment gateway errors, by provider and code.",
		}, []string{"provider", "code"}),
		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		alertsFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Alerts emitted by the monitor, by kind and severity.",
		}, []string{"kind", "severity"}),
		notifyDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Notification delivery attempts, by sink and result.",
		}, []string{"sink", "result"}),
		systemMetric: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitored_value",
			Help:      "Latest value of each monitored host metric.",
		}, []string{"metric"}),
		schedulerJobErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_errors_total",
			Help:      "Failed scheduled job runs, by job.",
		}, []string{"job"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry for /metrics/prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderCreated(orderType, gateway, currency string, amount int64) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(orderType, gateway).Inc()
	m.orderAmount.WithLabelValues(currency).Observe(float64(amount))
}

// OrderTransition records outcome "applied", "stale" or "conflict".
func (m *Metrics) OrderTransition(status, outcome string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(status, outcome).Inc()
}

func (m *Metrics) GatewayError(provider, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "UNKNOWN"
	}
	m.gatewayErrors.WithLabelValues(provider, code).Inc()
}

// WebhookEvent records outcome "processed", "duplicate", "rejected" or "error".
func (m *Metrics) WebhookEvent(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) AlertFired(kind, severity string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(kind, severity).Inc()
}

// NotifyResult matches the notify.Dispatcher OnResult hook.
func (m *Metrics) NotifyResult(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifyDeliveries.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) SetMonitoredValue(metric string, value float64) {
	if m == nil {
		return
	}
	m.systemMetric.WithLabelValues(metric).Set(value)
}

func (m *Metrics) JobFailed(job string) {
	if m == nil {
		return
	}
	m.schedulerJobErrors.WithLabelValues(job).Inc()
}

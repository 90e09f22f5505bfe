package constants

// Route paths shared by the router and its tests.
const (
	HealthRoute         = "/health"
	CheckoutRoute       = "/checkout/process-payment"
	WebhookRoute        = "/webhooks/:provider"
	BankDepositRoute    = "/payment/bank-deposit"
	AdminPrefix         = "/admin"
	AlertsPrefix        = "/alerts"
	SubscriptionsPrefix = "/subscriptions"
	PrometheusRoute     = "/metrics/prometheus"
	MonitorRoute        = "/metrics"
	DocsBasePath        = "/docs/api/"
)

package billing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testStripeSecret = "whsec_test"

func signStripe(t *testing.T, payload []byte) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testStripeSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestStripeWebhookSignature(t *testing.T) {
	c := NewStripeClient(StripeConfig{SecretKey: "sk_test", WebhookSecret: testStripeSecret})
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`)

	require.NoError(t, c.VerifyWebhookSignature(signStripe(t, payload), payload))

	err := c.VerifyWebhookSignature(signStripe(t, payload), []byte(`{"id":"evt_2"}`))
	assert.True(t, errors.Is(err, apperrors.ErrSignature))

	unconfigured := NewStripeClient(StripeConfig{SecretKey: "sk_test"})
	err = unconfigured.VerifyWebhookSignature(signStripe(t, payload), payload)
	assert.True(t, errors.Is(err, apperrors.ErrSignature))
}

func TestStripeParseWebhookEvent(t *testing.T) {
	c := NewStripeClient(StripeConfig{SecretKey: "sk_test", WebhookSecret: testStripeSecret})

	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, ev *Event)
	}{
		{
			name: "payment intent succeeded",
			body: `{"id":"evt_pi","object":"event","created":1767225600,"type":"payment_intent.succeeded",
				"data":{"object":{"id":"pi_1","object":"payment_intent","status":"succeeded","amount":4999,"currency":"usd","metadata":{"order_number":"AGI-1"}}}}`,
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, EventPaymentUpdated, ev.Type)
				assert.Equal(t, "pi_1", ev.PaymentID)
				assert.Equal(t, "AGI-1", ev.ReferenceID)
				assert.Equal(t, models.PaymentStatusCompleted, ev.PaymentStatus)
				assert.Equal(t, "USD", ev.Currency)
			},
		},
		{
			name: "subscription deleted",
			body: `{"id":"evt_sub","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","status":"canceled"}}}`,
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, EventSubscriptionCanceled, ev.Type)
				assert.Equal(t, "sub_1", ev.SubscriptionID)
			},
		},
		{
			name: "invoice paid with subscription under parent",
			body: `{"id":"evt_inv","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1","amount_paid":9999,"currency":"usd",
				"parent":{"subscription_details":{"subscription":"sub_9"}}}}}`,
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, EventInvoicePaymentMade, ev.Type)
				assert.Equal(t, "in_1", ev.InvoiceID)
				assert.Equal(t, "sub_9", ev.SubscriptionID)
				assert.Equal(t, int64(9999), ev.Amount)
			},
		},
		{
			name: "charge refunded",
			body: `{"id":"evt_ch","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","payment_intent":"pi_1","currency":"usd",
				"refunds":{"data":[{"id":"re_1","status":"succeeded","amount":1000,"reason":"requested_by_customer"}]}}}}`,
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, EventRefundCreated, ev.Type)
				assert.Equal(t, "re_1", ev.RefundID)
				assert.Equal(t, "pi_1", ev.PaymentID)
				assert.Equal(t, int64(1000), ev.Amount)
			},
		},
		{
			name: "unrelated event",
			body: `{"id":"evt_x","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`,
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, EventIgnored, ev.Type)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := c.ParseWebhookEvent([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, models.ProviderStripe, ev.Provider)
			tt.check(t, ev)
		})
	}
}

func TestStripeCardErrorIsDecline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	}))
	defer srv.Close()

	c := NewStripeClient(StripeConfig{SecretKey: "sk_test", APIBaseURL: srv.URL, Timeout: time.Second})
	_, err := c.CreatePayment(context.Background(), PaymentRequest{Amount: 4999, Currency: "USD", SourceToken: "pm_card_visa_chargeDeclined"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPaymentDeclined))

	var gwErr *apperrors.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "card_declined", gwErr.Code)
}

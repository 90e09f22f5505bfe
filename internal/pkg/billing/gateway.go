package billing

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
)

// CardGateway is a card processor adapter. Every method makes a single
// attempt; callers bound it with a context deadline.
type CardGateway interface {
	Name() string
	// CreateCustomer returns the existing provider customer for the email
	// when there is one.
	CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error)
	CreateCard(ctx context.Context, customerID, sourceToken string) (*Card, error)
	CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	UpdateSubscriptionPlan(ctx context.Context, subscriptionID, planRef string) (*Subscription, error)
}

// WebhookProvider authenticates and normalizes provider callbacks.
type WebhookProvider interface {
	Name() string
	VerifyWebhookSignature(signatureHeader string, rawBody []byte) error
	ParseWebhookEvent(rawBody []byte) (*Event, error)
}

// transportError wraps a failed round trip. Timeouts keep a distinct code so
// support can tell them apart from declines.
func transportError(provider string, err error) error {
	code := "NETWORK_ERROR"
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = "TIMEOUT"
	}
	return &apperrors.GatewayError{Provider: provider, Code: code, Category: "API_ERROR", Err: err}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func signatureError(provider, reason string) error {
	return &apperrors.SignatureError{Provider: provider, Reason: reason}
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/agistaffers/backoffice/internal/pkg/env"
	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

const StripeSignatureHeader = "Stripe-Signature"

// StripeClient implements CardGateway and WebhookProvider on stripe-go.
// Each resource client carries its own key so no package globals are touched.
type StripeClient struct {
	webhookSecret string

	customers      *customer.Client
	paymentIntents *paymentintent.Client
	paymentMethods *paymentmethod.Client
	subscriptions  *subscription.Client
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// APIBaseURL overrides api.stripe.com, used by tests.
	APIBaseURL string
	Timeout    time.Duration
}

func StripeConfigFromEnv() StripeConfig {
	return StripeConfig{
		SecretKey:     strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		APIBaseURL:    strings.TrimSpace(env.GetEnv("STRIPE_API_BASE_URL", "")),
		Timeout:       env.GetEnvDuration("GATEWAY_TIMEOUT", 8*time.Second),
	}
}

func NewStripeClient(cfg StripeConfig) *StripeClient {
	backendCfg := &stripe.BackendConfig{
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.Timeout > 0 {
		backendCfg.HTTPClient = newHTTPClient(cfg.Timeout)
	}
	if cfg.APIBaseURL != "" {
		backendCfg.URL = stripe.String(cfg.APIBaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &StripeClient{
		webhookSecret:  cfg.WebhookSecret,
		customers:      &customer.Client{B: backend, Key: cfg.SecretKey},
		paymentIntents: &paymentintent.Client{B: backend, Key: cfg.SecretKey},
		paymentMethods: &paymentmethod.Client{B: backend, Key: cfg.SecretKey},
		subscriptions:  &subscription.Client{B: backend, Key: cfg.SecretKey},
	}
}

func (c *StripeClient) Name() string { return models.ProviderStripe }

func (c *StripeClient) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return nil, apperrors.Validation("email", "is required")
	}

	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)
	it := c.customers.List(listParams)
	for it.Next() {
		return &Customer{ID: it.Customer().ID, Email: email}, nil
	}
	if err := it.Err(); err != nil {
		return nil, stripeError(err)
	}

	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	if name := strings.TrimSpace(in.GivenName + " " + in.FamilyName); name != "" {
		params.Name = stripe.String(name)
	}
	if in.Phone != "" {
		params.Phone = stripe.String(in.Phone)
	}
	if in.ReferenceID != "" {
		params.AddMetadata("customer_ref", in.ReferenceID)
	}
	params.SetIdempotencyKey(uuid.NewString())

	cust, err := c.customers.New(params)
	if err != nil {
		return nil, stripeError(err)
	}
	return &Customer{ID: cust.ID, Email: email, Created: true}, nil
}

// CreateCard attaches a PaymentMethod token to the customer.
func (c *StripeClient) CreateCard(ctx context.Context, customerID, sourceToken string) (*Card, error) {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	pm, err := c.paymentMethods.Attach(sourceToken, params)
	if err != nil {
		return nil, stripeError(err)
	}
	card := &Card{ID: pm.ID}
	if pm.Card != nil {
		card.Last4 = pm.Card.Last4
		card.Brand = string(pm.Card.Brand)
	}
	return card, nil
}

// CreatePayment creates and confirms a PaymentIntent in one call.
func (c *StripeClient) CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	if req.Amount <= 0 {
		return nil, apperrors.Validation("amount", "must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.SourceToken),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.Note != "" {
		params.Description = stripe.String(req.Note)
	}
	if req.ReferenceID != "" {
		params.AddMetadata("order_number", req.ReferenceID)
	}
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	params.SetIdempotencyKey(key)

	pi, err := c.paymentIntents.New(params)
	if err != nil {
		return nil, stripeError(err)
	}
	return normalizeStripePaymentIntent(pi), nil
}

func (c *StripeClient) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.paymentIntents.Get(paymentID, params)
	if err != nil {
		return nil, stripeError(err)
	}
	return normalizeStripePaymentIntent(pi), nil
}

func (c *StripeClient) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(req.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(req.PlanRef)},
		},
	}
	params.Context = ctx
	if req.CardID != "" {
		params.DefaultPaymentMethod = stripe.String(req.CardID)
	}
	if req.ReferenceID != "" {
		params.AddMetadata("order_number", req.ReferenceID)
	}
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	params.SetIdempotencyKey(key)

	sub, err := c.subscriptions.New(params)
	if err != nil {
		return nil, stripeError(err)
	}
	return normalizeStripeSubscription(sub), nil
}

func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	sub, err := c.subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		return nil, stripeError(err)
	}
	return normalizeStripeSubscription(sub), nil
}

// UpdateSubscriptionPlan swaps the price on the first item and lets Stripe prorate.
func (c *StripeClient) UpdateSubscriptionPlan(ctx context.Context, subscriptionID, planRef string) (*Subscription, error) {
	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	current, err := c.subscriptions.Get(subscriptionID, getParams)
	if err != nil {
		return nil, stripeError(err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, &apperrors.GatewayError{Provider: models.ProviderStripe, Code: "NO_SUBSCRIPTION_ITEM", Message: "subscription has no items"}
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(current.Items.Data[0].ID), Price: stripe.String(planRef)},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx
	sub, err := c.subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, stripeError(err)
	}
	return normalizeStripeSubscription(sub), nil
}

func stripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return transportError(models.ProviderStripe, err)
	}
	code := string(se.Code)
	if code == "" {
		code = string(se.Type)
	}
	return &apperrors.GatewayError{
		Provider:   models.ProviderStripe,
		Code:       code,
		Category:   string(se.Type),
		Message:    se.Msg,
		StatusCode: se.HTTPStatusCode,
		Declined:   se.Type == stripe.ErrorTypeCard,
		Err:        err,
	}
}

func normalizeStripePaymentIntent(pi *stripe.PaymentIntent) *Payment {
	p := &Payment{
		ID:        pi.ID,
		RawStatus: string(pi.Status),
		Status:    stripePaymentStatus(string(pi.Status)),
		Amount:    pi.Amount,
		Currency:  upper(string(pi.Currency)),
	}
	if pi.Metadata != nil {
		p.ReferenceID = pi.Metadata["order_number"]
	}
	return p
}

func stripePaymentStatus(raw string) string {
	switch raw {
	case "succeeded":
		return models.PaymentStatusCompleted
	case "requires_capture":
		return models.PaymentStatusAuthorized
	case "canceled", "requires_payment_method":
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusPending
	}
}

func normalizeStripeSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:        sub.ID,
		RawStatus: string(sub.Status),
		Status:    stripeSubscriptionStatus(string(sub.Status)),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PlanRef = sub.Items.Data[0].Price.ID
	}
	return out
}

func stripeSubscriptionStatus(raw string) string {
	switch raw {
	case "active", "trialing":
		return SubscriptionActive
	case "past_due", "unpaid":
		return SubscriptionPastDue
	case "paused":
		return SubscriptionPaused
	case "canceled", "incomplete_expired":
		return SubscriptionCanceled
	default:
		return SubscriptionPending
	}
}

// VerifyWebhookSignature checks the Stripe-Signature header including its
// timestamp tolerance. No secret means no webhook is accepted.
func (c *StripeClient) VerifyWebhookSignature(signatureHeader string, rawBody []byte) error {
	if c.webhookSecret == "" {
		return signatureError(models.ProviderStripe, "webhook secret not configured")
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return signatureError(models.ProviderStripe, "missing signature header")
	}
	if err := webhook.ValidatePayload(rawBody, signatureHeader, c.webhookSecret); err != nil {
		return signatureError(models.ProviderStripe, err.Error())
	}
	return nil
}

// Only the fields the reconciler needs are decoded from data.object, which
// keeps parsing independent of the account's API version.
type stripeObject struct {
	ID            string            `json:"id"`
	Object        string            `json:"object"`
	Status        string            `json:"status"`
	Amount        int64             `json:"amount"`
	AmountPaid    int64             `json:"amount_paid"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
	PaymentIntent json.RawMessage   `json:"payment_intent"`
	Subscription  json.RawMessage   `json:"subscription"`
	Reason        string            `json:"reason"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Refunds *struct {
		Data []stripeObject `json:"data"`
	} `json:"refunds"`
}

// expandableID reads a field that is either an id string or an expanded object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// ParseWebhookEvent maps Stripe event names onto the normalized set.
func (c *StripeClient) ParseWebhookEvent(rawBody []byte) (*Event, error) {
	var se stripe.Event
	if err := json.Unmarshal(rawBody, &se); err != nil {
		return nil, apperrors.Validation("body", "invalid stripe webhook payload")
	}
	if se.ID == "" {
		return nil, apperrors.Validation("id", "is required")
	}

	ev := &Event{
		Provider:   models.ProviderStripe,
		ID:         se.ID,
		RawType:    string(se.Type),
		OccurredAt: time.Unix(se.Created, 0).UTC(),
	}
	if se.Data == nil || len(se.Data.Raw) == 0 {
		ev.Type = EventIgnored
		return ev, nil
	}
	var obj stripeObject
	if err := json.Unmarshal(se.Data.Raw, &obj); err != nil {
		return nil, apperrors.Validation("data", "invalid stripe event object")
	}

	raw := string(se.Type)
	switch {
	case raw == "payment_intent.created":
		ev.Type = EventPaymentCreated
		fillStripePayment(ev, &obj)
	case strings.HasPrefix(raw, "payment_intent."):
		ev.Type = EventPaymentUpdated
		fillStripePayment(ev, &obj)
	case raw == "customer.subscription.created":
		ev.Type = EventSubscriptionCreated
		ev.SubscriptionID = obj.ID
		ev.SubscriptionStatus = stripeSubscriptionStatus(obj.Status)
	case raw == "customer.subscription.deleted":
		ev.Type = EventSubscriptionCanceled
		ev.SubscriptionID = obj.ID
		ev.SubscriptionStatus = SubscriptionCanceled
	case strings.HasPrefix(raw, "customer.subscription."):
		ev.Type = EventSubscriptionUpdated
		ev.SubscriptionID = obj.ID
		ev.SubscriptionStatus = stripeSubscriptionStatus(obj.Status)
		if ev.SubscriptionStatus == SubscriptionCanceled {
			ev.Type = EventSubscriptionCanceled
		}
	case raw == "invoice.paid" || raw == "invoice.payment_succeeded":
		ev.Type = EventInvoicePaymentMade
		ev.InvoiceID = obj.ID
		ev.Amount = obj.AmountPaid
		ev.Currency = upper(obj.Currency)
		ev.PaymentID = expandableID(obj.PaymentIntent)
		ev.SubscriptionID = expandableID(obj.Subscription)
		if ev.SubscriptionID == "" && obj.Parent != nil && obj.Parent.SubscriptionDetails != nil {
			ev.SubscriptionID = expandableID(obj.Parent.SubscriptionDetails.Subscription)
		}
	case raw == "refund.created":
		ev.Type = EventRefundCreated
		ev.RefundID = obj.ID
		ev.RefundStatus = obj.Status
		ev.RefundReason = obj.Reason
		ev.Amount = obj.Amount
		ev.Currency = upper(obj.Currency)
		ev.PaymentID = expandableID(obj.PaymentIntent)
	case raw == "charge.refunded":
		ev.Type = EventRefundCreated
		ev.PaymentID = expandableID(obj.PaymentIntent)
		ev.Currency = upper(obj.Currency)
		if obj.Refunds != nil && len(obj.Refunds.Data) > 0 {
			latest := obj.Refunds.Data[0]
			ev.RefundID = latest.ID
			ev.RefundStatus = latest.Status
			ev.RefundReason = latest.Reason
			ev.Amount = latest.Amount
		} else {
			ev.RefundID = obj.ID
		}
	default:
		ev.Type = EventIgnored
	}
	return ev, nil
}

func fillStripePayment(ev *Event, obj *stripeObject) {
	ev.PaymentID = obj.ID
	ev.PaymentStatus = stripePaymentStatus(obj.Status)
	ev.Amount = obj.Amount
	ev.Currency = upper(obj.Currency)
	if obj.Metadata != nil {
		ev.ReferenceID = obj.Metadata["order_number"]
	}
}

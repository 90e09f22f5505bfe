package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/agistaffers/backoffice/internal/pkg/env"
	"github.com/google/uuid"
)

const (
	squareProductionURL = "https://connect.squareup.com"
	squareSandboxURL    = "https://connect.squareupsandbox.com"
	squareAPIVersion    = "2024-07-17"
)

// Square error codes that mean the card itself was refused.
var squareDeclineCodes = map[string]bool{
	"CARD_DECLINED":                       true,
	"CARD_DECLINED_CALL_ISSUER":           true,
	"CARD_DECLINED_VERIFICATION_REQUIRED": true,
	"GENERIC_DECLINE":                     true,
	"INSUFFICIENT_FUNDS":                  true,
	"CVV_FAILURE":                         true,
	"ADDRESS_VERIFICATION_FAILURE":        true,
	"INVALID_EXPIRATION":                  true,
	"EXPIRATION_FAILURE":                  true,
	"CARD_EXPIRED":                        true,
	"CARD_NOT_SUPPORTED":                  true,
	"INVALID_ACCOUNT":                     true,
	"PAN_FAILURE":                         true,
	"TRANSACTION_LIMIT":                   true,
	"VOICE_FAILURE":                       true,
}

// SquareClient talks to the Square REST API and verifies Square webhooks.
type SquareClient struct {
	AccessToken string
	LocationID  string
	BaseURL     string
	APIVersion  string

	WebhookSignatureKey string
	// WebhookURL is the notification URL registered with Square; it is part
	// of the signed payload.
	WebhookURL string

	HTTPClient *http.Client
}

func NewSquareClientFromEnv() *SquareClient {
	base := squareSandboxURL
	if strings.EqualFold(env.GetEnv("SQUARE_ENVIRONMENT", "sandbox"), "production") {
		base = squareProductionURL
	}

	return &SquareClient{
		AccessToken:         strings.TrimSpace(env.GetEnv("SQUARE_ACCESS_TOKEN", "")),
		LocationID:          strings.TrimSpace(env.GetEnv("SQUARE_LOCATION_ID", "")),
		BaseURL:             strings.TrimSpace(env.GetEnv("SQUARE_API_BASE_URL", base)),
		APIVersion:          strings.TrimSpace(env.GetEnv("SQUARE_API_VERSION", squareAPIVersion)),
		WebhookSignatureKey: strings.TrimSpace(env.GetEnv("SQUARE_WEBHOOK_SIGNATURE_KEY", "")),
		WebhookURL:          strings.TrimSpace(env.GetEnv("SQUARE_WEBHOOK_URL", "")),
		HTTPClient:          newHTTPClient(env.GetEnvDuration("GATEWAY_TIMEOUT", 8*time.Second)),
	}
}

func (c *SquareClient) Name() string { return models.ProviderSquare }

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squareCustomer struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type squareCard struct {
	ID        string `json:"id"`
	Last4     string `json:"last_4"`
	CardBrand string `json:"card_brand"`
}

type squarePayment struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	AmountMoney squareMoney `json:"amount_money"`
	ReferenceID string      `json:"reference_id"`
	ReceiptURL  string      `json:"receipt_url"`
	CardDetails *struct {
		Card squareCard `json:"card"`
	} `json:"card_details,omitempty"`
}

type squareSubscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	PlanVariationID    string `json:"plan_variation_id"`
	ChargedThroughDate string `json:"charged_through_date"`
}

type squareError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Field    string `json:"field"`
}

func (c *SquareClient) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return nil, apperrors.Validation("email", "is required")
	}

	search := map[string]interface{}{
		"query": map[string]interface{}{
			"filter": map[string]interface{}{
				"email_address": map[string]string{"exact": email},
			},
		},
		"limit": 1,
	}
	var found struct {
		Customers []squareCustomer `json:"customers"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/customers/search", search, &found); err != nil {
		return nil, err
	}
	if len(found.Customers) > 0 {
		return &Customer{ID: found.Customers[0].ID, Email: email}, nil
	}

	body := map[string]interface{}{
		"idempotency_key": uuid.NewString(),
		"email_address":   email,
	}
	if in.GivenName != "" {
		body["given_name"] = in.GivenName
	}
	if in.FamilyName != "" {
		body["family_name"] = in.FamilyName
	}
	if in.Phone != "" {
		body["phone_number"] = in.Phone
	}
	if in.ReferenceID != "" {
		body["reference_id"] = in.ReferenceID
	}
	var created struct {
		Customer squareCustomer `json:"customer"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/customers", body, &created); err != nil {
		return nil, err
	}
	return &Customer{ID: created.Customer.ID, Email: email, Created: true}, nil
}

func (c *SquareClient) CreateCard(ctx context.Context, customerID, sourceToken string) (*Card, error) {
	body := map[string]interface{}{
		"idempotency_key": uuid.NewString(),
		"source_id":       sourceToken,
		"card": map[string]string{
			"customer_id": customerID,
		},
	}
	var out struct {
		Card squareCard `json:"card"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/cards", body, &out); err != nil {
		return nil, err
	}
	return &Card{ID: out.Card.ID, Last4: out.Card.Last4, Brand: out.Card.CardBrand}, nil
}

func (c *SquareClient) CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	if req.Amount <= 0 {
		return nil, apperrors.Validation("amount", "must be positive")
	}
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	body := map[string]interface{}{
		"idempotency_key": key,
		"source_id":       req.SourceToken,
		"amount_money":    squareMoney{Amount: req.Amount, Currency: upper(req.Currency)},
		"autocomplete":    true,
	}
	if c.LocationID != "" {
		body["location_id"] = c.LocationID
	}
	if req.CustomerID != "" {
		body["customer_id"] = req.CustomerID
	}
	if req.ReferenceID != "" {
		body["reference_id"] = req.ReferenceID
	}
	if req.Note != "" {
		body["note"] = req.Note
	}

	var out struct {
		Payment squarePayment `json:"payment"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/payments", body, &out); err != nil {
		return nil, err
	}
	return out.Payment.normalize(), nil
}

func (c *SquareClient) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var out struct {
		Payment squarePayment `json:"payment"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return nil, err
	}
	return out.Payment.normalize(), nil
}

func (c *SquareClient) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	body := map[string]interface{}{
		"idempotency_key":   key,
		"location_id":       c.LocationID,
		"plan_variation_id": req.PlanRef,
		"customer_id":       req.CustomerID,
	}
	if req.CardID != "" {
		body["card_id"] = req.CardID
	}

	var out struct {
		Subscription squareSubscription `json:"subscription"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/subscriptions", body, &out); err != nil {
		return nil, err
	}
	return out.Subscription.normalize(), nil
}

func (c *SquareClient) CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var out struct {
		Subscription squareSubscription `json:"subscription"`
	}
	path := "/v2/subscriptions/" + url.PathEscape(subscriptionID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Subscription.normalize(), nil
}

// UpdateSubscriptionPlan swaps the plan variation; proration is Square's call.
func (c *SquareClient) UpdateSubscriptionPlan(ctx context.Context, subscriptionID, planRef string) (*Subscription, error) {
	body := map[string]string{"new_plan_variation_id": planRef}
	var out struct {
		Subscription squareSubscription `json:"subscription"`
	}
	path := "/v2/subscriptions/" + url.PathEscape(subscriptionID) + "/swap-plan"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return out.Subscription.normalize(), nil
}

func (c *SquareClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	if c.AccessToken == "" {
		return &apperrors.GatewayError{Provider: models.ProviderSquare, Code: "NOT_CONFIGURED", Message: "SQUARE_ACCESS_TOKEN is not configured"}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Square-Version", c.APIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return transportError(models.ProviderSquare, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return squareAPIError(resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &apperrors.GatewayError{Provider: models.ProviderSquare, Code: "BAD_RESPONSE", StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func squareAPIError(status int, body []byte) error {
	var payload struct {
		Errors []squareError `json:"errors"`
	}
	gwErr := &apperrors.GatewayError{Provider: models.ProviderSquare, StatusCode: status, Code: fmt.Sprintf("HTTP_%d", status)}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Errors) == 0 {
		gwErr.Message = strings.TrimSpace(string(body))
		return gwErr
	}

	first := payload.Errors[0]
	gwErr.Code = first.Code
	gwErr.Category = first.Category
	gwErr.Message = first.Detail
	gwErr.Declined = squareDeclineCodes[first.Code] || first.Category == "PAYMENT_METHOD_ERROR"
	return gwErr
}

func (p squarePayment) normalize() *Payment {
	out := &Payment{
		ID:          p.ID,
		RawStatus:   p.Status,
		Status:      squarePaymentStatus(p.Status),
		Amount:      p.AmountMoney.Amount,
		Currency:    p.AmountMoney.Currency,
		ReferenceID: p.ReferenceID,
		ReceiptURL:  p.ReceiptURL,
	}
	if p.CardDetails != nil {
		out.CardLast4 = p.CardDetails.Card.Last4
	}
	return out
}

func squarePaymentStatus(raw string) string {
	switch upper(raw) {
	case "COMPLETED":
		return models.PaymentStatusCompleted
	case "APPROVED":
		return models.PaymentStatusAuthorized
	case "FAILED", "CANCELED":
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusPending
	}
}

func (s squareSubscription) normalize() *Subscription {
	out := &Subscription{
		ID:        s.ID,
		RawStatus: s.Status,
		Status:    squareSubscriptionStatus(s.Status),
		PlanRef:   s.PlanVariationID,
	}
	if s.ChargedThroughDate != "" {
		if t, err := time.Parse("2006-01-02", s.ChargedThroughDate); err == nil {
			out.ChargedThroughDate = &t
		}
	}
	return out
}

func squareSubscriptionStatus(raw string) string {
	switch upper(raw) {
	case "ACTIVE":
		return SubscriptionActive
	case "CANCELED", "DEACTIVATED":
		return SubscriptionCanceled
	case "PAUSED":
		return SubscriptionPaused
	default:
		return SubscriptionPending
	}
}

// VerifyWebhookSignature rejects when no signature key is configured.
func (c *SquareClient) VerifyWebhookSignature(signatureHeader string, rawBody []byte) error {
	if c.WebhookSignatureKey == "" || c.WebhookURL == "" {
		return signatureError(models.ProviderSquare, "webhook signature key not configured")
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return signatureError(models.ProviderSquare, "missing signature header")
	}
	if !VerifySquareWebhookSignature(rawBody, signatureHeader, c.WebhookSignatureKey, c.WebhookURL) {
		return signatureError(models.ProviderSquare, "signature mismatch")
	}
	return nil
}

type squareWebhookEnvelope struct {
	MerchantID string `json:"merchant_id"`
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	CreatedAt  string `json:"created_at"`
	Data       struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Object struct {
			Payment      *squarePayment      `json:"payment"`
			Subscription *squareSubscription `json:"subscription"`
			Invoice      *struct {
				ID             string `json:"id"`
				SubscriptionID string `json:"subscription_id"`
				OrderID        string `json:"order_id"`
				Status         string `json:"status"`
			} `json:"invoice"`
			Refund *struct {
				ID          string      `json:"id"`
				PaymentID   string      `json:"payment_id"`
				Status      string      `json:"status"`
				Reason      string      `json:"reason"`
				AmountMoney squareMoney `json:"amount_money"`
			} `json:"refund"`
		} `json:"object"`
	} `json:"data"`
}

// ParseWebhookEvent maps a Square envelope {type, event_id, data} onto Event.
func (c *SquareClient) ParseWebhookEvent(rawBody []byte) (*Event, error) {
	var envelope squareWebhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, apperrors.Validation("body", "invalid square webhook payload")
	}
	if envelope.EventID == "" {
		return nil, apperrors.Validation("event_id", "is required")
	}

	ev := &Event{
		Provider: models.ProviderSquare,
		ID:       envelope.EventID,
		RawType:  envelope.Type,
		Type:     envelope.Type,
	}
	if t, err := time.Parse(time.RFC3339, envelope.CreatedAt); err == nil {
		ev.OccurredAt = t
	}
	obj := envelope.Data.Object

	switch envelope.Type {
	case EventPaymentCreated, EventPaymentUpdated:
		if obj.Payment == nil {
			return nil, errors.New("square payment event without payment object")
		}
		p := obj.Payment.normalize()
		ev.PaymentID = p.ID
		ev.ReferenceID = p.ReferenceID
		ev.PaymentStatus = p.Status
		ev.Amount = p.Amount
		ev.Currency = p.Currency
		ev.CardLast4 = p.CardLast4
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		if obj.Subscription == nil {
			return nil, errors.New("square subscription event without subscription object")
		}
		ev.SubscriptionID = obj.Subscription.ID
		ev.SubscriptionStatus = squareSubscriptionStatus(obj.Subscription.Status)
		if ev.SubscriptionStatus == SubscriptionCanceled {
			ev.Type = EventSubscriptionCanceled
		}
	case EventSubscriptionCanceled:
		ev.SubscriptionStatus = SubscriptionCanceled
		if obj.Subscription != nil {
			ev.SubscriptionID = obj.Subscription.ID
		} else {
			ev.SubscriptionID = envelope.Data.ID
		}
	case EventInvoicePaymentMade:
		if obj.Invoice == nil {
			return nil, errors.New("square invoice event without invoice object")
		}
		ev.InvoiceID = obj.Invoice.ID
		ev.SubscriptionID = obj.Invoice.SubscriptionID
	case EventRefundCreated, "refund.updated":
		if obj.Refund == nil {
			return nil, errors.New("square refund event without refund object")
		}
		ev.Type = EventRefundCreated
		ev.RefundID = obj.Refund.ID
		ev.PaymentID = obj.Refund.PaymentID
		ev.RefundStatus = obj.Refund.Status
		ev.RefundReason = obj.Refund.Reason
		ev.Amount = obj.Refund.AmountMoney.Amount
		ev.Currency = obj.Refund.AmountMoney.Currency
	default:
		ev.Type = EventIgnored
	}
	return ev, nil
}

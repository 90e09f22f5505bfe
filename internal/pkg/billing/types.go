package billing

import "time"

// CustomerInput identifies the buyer to a card gateway. Email is the dedupe key.
type CustomerInput struct {
	Email       string
	GivenName   string
	FamilyName  string
	Phone       string
	ReferenceID string
}

// Customer is the provider-side customer record.
type Customer struct {
	ID      string
	Email   string
	Created bool
}

// Card is a card stored on the provider for recurring charges.
type Card struct {
	ID    string
	Last4 string
	Brand string
}

// PaymentRequest is one charge attempt. Amount is in minor units.
type PaymentRequest struct {
	Amount         int64
	Currency       string
	SourceToken    string
	CustomerID     string
	ReferenceID    string
	IdempotencyKey string
	Note           string
}

// Payment is the provider's view of a charge with Status mapped onto
// models.PaymentStatus* values.
type Payment struct {
	ID          string
	Status      string
	RawStatus   string
	Amount      int64
	Currency    string
	ReferenceID string
	CardLast4   string
	ReceiptURL  string
}

type SubscriptionRequest struct {
	CustomerID     string
	CardID         string
	PlanRef        string
	ReferenceID    string
	IdempotencyKey string
}

// Normalized subscription states.
const (
	SubscriptionPending  = "pending"
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionPaused   = "paused"
	SubscriptionCanceled = "canceled"
)

type Subscription struct {
	ID                 string
	Status             string
	RawStatus          string
	PlanRef            string
	ChargedThroughDate *time.Time
}

// Normalized webhook event types. Provider specific names are mapped onto
// these by each WebhookProvider.
const (
	EventPaymentCreated       = "payment.created"
	EventPaymentUpdated       = "payment.updated"
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
	EventInvoicePaymentMade   = "invoice.payment_made"
	EventRefundCreated        = "refund.created"
	EventIgnored              = "ignored"
)

// Event is a verified, provider-neutral webhook notification.
type Event struct {
	Provider string
	ID       string
	Type     string
	RawType  string

	PaymentID     string
	ReferenceID   string
	PaymentStatus string
	Amount        int64
	Currency      string
	CardLast4     string

	SubscriptionID     string
	SubscriptionStatus string

	InvoiceID string

	RefundID     string
	RefundStatus string
	RefundReason string

	OccurredAt time.Time
}

// DeclineCode names a charge the gateway returned as failed without an error.
func DeclineCode(p *Payment) string {
	if p == nil || p.RawStatus == "" {
		return "CARD_DECLINED"
	}
	return "PAYMENT_" + upper(p.RawStatus)
}

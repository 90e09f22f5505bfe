// Package billingtest provides an in-memory CardGateway for service tests.
package billingtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/internal/pkg/billing"
)

// Gateway records every call. Set the *Err fields to make the next calls fail.
type Gateway struct {
	ProviderName string

	mu sync.Mutex

	PaymentStatus string
	PaymentErr    error
	CustomerErr   error
	CardErr       error
	SubscribeErr  error
	CancelErr     error
	UpdatePlanErr error
	// BeforePayment runs inside CreatePayment, e.g. to race a webhook.
	BeforePayment func(req billing.PaymentRequest)

	Customers     map[string]string
	Payments      map[string]*billing.Payment
	Subscriptions map[string]*billing.Subscription
	Calls         []string
	seq           int
}

func New(name string) *Gateway {
	return &Gateway{
		ProviderName:  name,
		PaymentStatus: models.PaymentStatusCompleted,
		Customers:     map[string]string{},
		Payments:      map[string]*billing.Payment{},
		Subscriptions: map[string]*billing.Subscription{},
	}
}

func (g *Gateway) Name() string { return g.ProviderName }

func (g *Gateway) record(call string) {
	g.Calls = append(g.Calls, call)
}

func (g *Gateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%d", prefix, g.seq)
}

// CallCount counts calls by method name.
func (g *Gateway) CallCount(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.Calls {
		if c == name {
			n++
		}
	}
	return n
}

func (g *Gateway) CreateCustomer(_ context.Context, in billing.CustomerInput) (*billing.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("CreateCustomer")
	if g.CustomerErr != nil {
		return nil, g.CustomerErr
	}
	if id, ok := g.Customers[in.Email]; ok {
		return &billing.Customer{ID: id, Email: in.Email}, nil
	}
	id := g.nextID("cust")
	g.Customers[in.Email] = id
	return &billing.Customer{ID: id, Email: in.Email, Created: true}, nil
}

func (g *Gateway) CreateCard(_ context.Context, _ string, _ string) (*billing.Card, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("CreateCard")
	if g.CardErr != nil {
		return nil, g.CardErr
	}
	return &billing.Card{ID: g.nextID("card"), Last4: "1111", Brand: "VISA"}, nil
}

func (g *Gateway) CreatePayment(_ context.Context, req billing.PaymentRequest) (*billing.Payment, error) {
	g.mu.Lock()
	hook := g.BeforePayment
	g.record("CreatePayment")
	err := g.PaymentErr
	g.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	p := &billing.Payment{
		ID:          g.nextID("pay"),
		Status:      g.PaymentStatus,
		RawStatus:   g.PaymentStatus,
		Amount:      req.Amount,
		Currency:    req.Currency,
		ReferenceID: req.ReferenceID,
		CardLast4:   "1111",
	}
	g.Payments[p.ID] = p
	return p, nil
}

func (g *Gateway) GetPayment(_ context.Context, paymentID string) (*billing.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("GetPayment")
	p, ok := g.Payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %s not found", paymentID)
	}
	return p, nil
}

func (g *Gateway) CreateSubscription(_ context.Context, req billing.SubscriptionRequest) (*billing.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("CreateSubscription")
	if g.SubscribeErr != nil {
		return nil, g.SubscribeErr
	}
	s := &billing.Subscription{ID: g.nextID("sub"), Status: billing.SubscriptionActive, PlanRef: req.PlanRef}
	g.Subscriptions[s.ID] = s
	return s, nil
}

func (g *Gateway) CancelSubscription(_ context.Context, subscriptionID string) (*billing.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("CancelSubscription")
	if g.CancelErr != nil {
		return nil, g.CancelErr
	}
	s, ok := g.Subscriptions[subscriptionID]
	if !ok {
		s = &billing.Subscription{ID: subscriptionID}
	}
	s.Status = billing.SubscriptionCanceled
	return s, nil
}

func (g *Gateway) UpdateSubscriptionPlan(_ context.Context, subscriptionID, planRef string) (*billing.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("UpdateSubscriptionPlan")
	if g.UpdatePlanErr != nil {
		return nil, g.UpdatePlanErr
	}
	s, ok := g.Subscriptions[subscriptionID]
	if !ok {
		s = &billing.Subscription{ID: subscriptionID, Status: billing.SubscriptionActive}
		g.Subscriptions[subscriptionID] = s
	}
	s.PlanRef = planRef
	return s, nil
}

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/internal/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newRepos(t *testing.T) *Repositories {
	t.Helper()
	return NewRepositories(testutil.NewDB(t))
}

func seedOrder(t *testing.T, repos *Repositories, status string) *models.Order {
	t.Helper()
	ctx := context.Background()
	c := &models.Customer{Email: "Buyer@Example.com", Status: models.CustomerStatusActive}
	require.NoError(t, repos.Customer.Create(ctx, c))

	o := &models.Order{
		OrderNumber:   models.NewOrderNumber(time.Now()),
		CustomerID:    c.ID,
		ProductID:     "ai-assistant-starter",
		ProductName:   "AI Assistant Starter",
		UnitPrice:     4999,
		Quantity:      1,
		Amount:        4999,
		Currency:      "USD",
		OrderType:     models.OrderTypeOneTime,
		PaymentMethod: models.PaymentMethodCard,
		Status:        status,
	}
	require.NoError(t, repos.Order.Create(ctx, o))
	return o
}

func TestCustomerEmailIsNormalized(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.Customer.Create(ctx, &models.Customer{Email: " Ops@Example.COM ", Status: models.CustomerStatusActive}))

	got, err := repos.Customer.GetByEmail(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", got.Email)

	_, err = repos.Customer.GetByEmail(ctx, "nobody@example.com")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestOrderCompareAndSetStatus(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	o := seedOrder(t, repos, models.OrderStatusPending)

	ok, err := repos.Order.CompareAndSetStatus(ctx, o.ID, models.OrderStatusPending, map[string]interface{}{
		"status": models.OrderStatusConfirmed,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// The row no longer matches the expected status.
	ok, err = repos.Order.CompareAndSetStatus(ctx, o.ID, models.OrderStatusPending, map[string]interface{}{
		"status": models.OrderStatusFailed,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repos.Order.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)
}

func TestOrderMetadataRoundTrip(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	o := seedOrder(t, repos, models.OrderStatusPending)

	o.SetMeta("card_last4", "4242")
	require.NoError(t, repos.Order.Update(ctx, o.ID, map[string]interface{}{"metadata": o.Metadata}))

	got, err := repos.Order.GetByOrderNumber(ctx, o.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, "4242", got.MetaString("card_last4"))
}

func TestWebhookLedgerDedupes(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()

	first := &models.WebhookEvent{Provider: "square", ProviderEventID: "evt_1", EventType: "payment.created", PayloadJSON: "{}"}
	created, stored, err := repos.WebhookEvent.CreateIfNotExists(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, stored.ID)

	dup := &models.WebhookEvent{Provider: "square", ProviderEventID: "evt_1", EventType: "payment.created", PayloadJSON: "{}"}
	created, again, err := repos.WebhookEvent.CreateIfNotExists(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)

	// Same event id from another provider is a different event.
	other := &models.WebhookEvent{Provider: "stripe", ProviderEventID: "evt_1", EventType: "payment_intent.succeeded", PayloadJSON: "{}"}
	created, _, err = repos.WebhookEvent.CreateIfNotExists(ctx, other)
	require.NoError(t, err)
	assert.True(t, created)

	n, err := repos.WebhookEvent.Count(ctx, "square", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTransactionRollsBack(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()

	boom := errors.New("handler failed")
	err := repos.Transaction(ctx, func(tx *Repositories) error {
		_, _, err := tx.WebhookEvent.CreateIfNotExists(ctx, &models.WebhookEvent{
			Provider: "square", ProviderEventID: "evt_rollback", EventType: "payment.updated", PayloadJSON: "{}",
		})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := repos.WebhookEvent.Count(ctx, "square", "evt_rollback")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInvoiceCreateIfNotExists(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	ref := "pay_123"

	inv := &models.Invoice{InvoiceNumber: "INV-1", CustomerID: 1, Amount: 4999, Currency: "USD", Status: models.InvoiceStatusPaid, ExternalRef: &ref}
	created, err := repos.Invoice.CreateIfNotExists(ctx, inv)
	require.NoError(t, err)
	assert.True(t, created)

	again := &models.Invoice{InvoiceNumber: "INV-2", CustomerID: 1, Amount: 4999, Currency: "USD", Status: models.InvoiceStatusPaid, ExternalRef: &ref}
	created, err = repos.Invoice.CreateIfNotExists(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, inv.ID, again.ID)
	assert.Equal(t, "INV-1", again.InvoiceNumber)

	// Invoices without an external ref never collide.
	require.NoError(t, repos.Invoice.Create(ctx, &models.Invoice{InvoiceNumber: "INV-3", CustomerID: 1, Amount: 1, Status: models.InvoiceStatusPending}))
	require.NoError(t, repos.Invoice.Create(ctx, &models.Invoice{InvoiceNumber: "INV-4", CustomerID: 1, Amount: 1, Status: models.InvoiceStatusPending}))
}

func TestBankDepositResolveOnce(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()

	d := &models.BankDeposit{ReferenceCode: "BD-1", CustomerID: 1, InvoiceID: 1, BankName: "Kasikorn", Amount: 29999, Currency: "USD", DueDate: time.Now().Add(-time.Hour), Status: models.BankDepositStatusPending}
	require.NoError(t, repos.BankDeposit.Create(ctx, d))

	overdue, err := repos.BankDeposit.ListOverdue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	now := time.Now()
	ok, err := repos.BankDeposit.Resolve(ctx, d.ID, models.BankDepositStatusVerified, &now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.BankDeposit.Resolve(ctx, d.ID, models.BankDepositStatusRejected, &now)
	require.NoError(t, err)
	assert.False(t, ok)

	overdue, err = repos.BankDeposit.ListOverdue(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, overdue)
}

func TestAlertThresholdReplaceAll(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.AlertThreshold.ReplaceAll(ctx, []models.AlertThreshold{
		{Key: "cpu", Metric: "cpu_usage", Operator: models.OperatorAbove, Value: 80, Enabled: true},
		{Key: "mem", Metric: "memory_usage", Operator: models.OperatorAbove, Value: 90, Enabled: false},
	}))
	require.NoError(t, repos.AlertThreshold.ReplaceAll(ctx, []models.AlertThreshold{
		{Key: "cpu", Metric: "cpu_usage", Operator: models.OperatorAbove, Value: 85, Enabled: true},
	}))

	all, err := repos.AlertThreshold.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 85.0, all[0].Value)

	enabled, err := repos.AlertThreshold.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)
}

func TestAlertHistoryCounts(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	now := time.Now()

	for i, sev := range []string{models.SeverityWarning, models.SeverityCritical, models.SeverityCritical} {
		require.NoError(t, repos.AlertHistory.Create(ctx, &models.AlertHistory{
			AlertID:  string(rune('a'+i)) + "-alert",
			Kind:     models.AlertKindThreshold,
			Metric:   "cpu_usage",
			Severity: sev,
			FiredAt:  now,
		}))
	}

	counts, err := repos.AlertHistory.CountBySeveritySince(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.SeverityWarning])
	assert.Equal(t, int64(2), counts[models.SeverityCritical])

	deleted, err := repos.AlertHistory.DeleteOlderThan(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
}

func TestInvoiceListOverdueAndPendingDeposits(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()

	orderID := uint(7)
	past := time.Now().UTC().Add(-48 * time.Hour)
	future := time.Now().UTC().Add(48 * time.Hour)
	overdue := &models.Invoice{InvoiceNumber: "INV-A", CustomerID: 1, OrderID: &orderID, Amount: 100, Status: models.InvoiceStatusPending, DueDate: &past}
	notDue := &models.Invoice{InvoiceNumber: "INV-B", CustomerID: 1, OrderID: &orderID, Amount: 100, Status: models.InvoiceStatusPending, DueDate: &future}
	paid := &models.Invoice{InvoiceNumber: "INV-C", CustomerID: 1, OrderID: &orderID, Amount: 100, Status: models.InvoiceStatusPaid, DueDate: &past}
	for _, inv := range []*models.Invoice{overdue, notDue, paid} {
		require.NoError(t, repos.Invoice.Create(ctx, inv))
	}

	got, err := repos.Invoice.ListOverdue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, overdue.ID, got[0].ID)

	require.NoError(t, repos.BankDeposit.Create(ctx, &models.BankDeposit{ReferenceCode: "BD-X", CustomerID: 1, InvoiceID: overdue.ID, BankName: "SCB", Amount: 100, DueDate: past, Status: models.BankDepositStatusPending}))
	n, err := repos.BankDeposit.CountPendingByInvoice(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = repos.BankDeposit.CountPendingByInvoice(ctx, notDue.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

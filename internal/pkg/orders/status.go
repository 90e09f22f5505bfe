package orders

import (
	"context"
	"fmt"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/app/repository"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"gorm.io/datatypes"
)

// statusRank orders the non-terminal statuses. confirmed and active share a
// rank: which one an order reaches depends on its type.
var statusRank = map[string]int{
	models.OrderStatusPending:        0,
	models.OrderStatusPendingDeposit: 1,
	models.OrderStatusConfirmed:      2,
	models.OrderStatusActive:         2,
	models.OrderStatusDelivered:      3,
}

// IsTerminal reports statuses nothing may leave.
func IsTerminal(status string) bool {
	return status == models.OrderStatusFailed || status == models.OrderStatusCancelled
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeStale means the order is already at or past the requested status.
	OutcomeStale Outcome = "stale"
)

// CheckTransition classifies a move from one status to another. Illegal moves
// return a *apperrors.ConflictError.
func CheckTransition(from, to string) (Outcome, error) {
	if from == to {
		return OutcomeUnchanged, nil
	}
	if IsTerminal(from) {
		return "", conflict(from, to)
	}

	switch to {
	case models.OrderStatusFailed:
		if from == models.OrderStatusPending || from == models.OrderStatusPendingDeposit {
			return OutcomeApplied, nil
		}
		return "", conflict(from, to)
	case models.OrderStatusCancelled:
		// A delivered one-time order is settled; refunds are recorded, not cancels.
		if from == models.OrderStatusDelivered {
			return "", conflict(from, to)
		}
		return OutcomeApplied, nil
	}

	toRank, ok := statusRank[to]
	if !ok {
		return "", apperrors.Validation("status", fmt.Sprintf("unknown order status %q", to))
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return "", conflict(from, to)
	}
	if toRank <= fromRank {
		return OutcomeStale, nil
	}
	return OutcomeApplied, nil
}

func conflict(from, to string) error {
	return &apperrors.ConflictError{Entity: "order", From: from, To: to}
}

// Transition is a requested status plus the columns that go with it.
type Transition struct {
	To     string
	Fields map[string]interface{}
	// Meta is merged into the order metadata at write time.
	Meta map[string]interface{}
	// WriteIfUnchanged writes Fields and Meta when the order already has
	// status To. A stale transition never writes.
	WriteIfUnchanged bool
}

const maxCASAttempts = 5

// ApplyTransition writes t with a compare-and-set on the order's current
// status. When another writer wins the race the order is re-read and the
// transition re-evaluated. order is refreshed from the database on return.
func ApplyTransition(ctx context.Context, repo repository.OrderRepository, order *models.Order, t Transition) (Outcome, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		outcome, err := CheckTransition(order.Status, t.To)
		if err != nil {
			return "", err
		}
		if outcome == OutcomeStale {
			return outcome, nil
		}
		if outcome == OutcomeUnchanged && (!t.WriteIfUnchanged || (len(t.Fields) == 0 && len(t.Meta) == 0)) {
			return outcome, nil
		}

		updates := make(map[string]interface{}, len(t.Fields)+2)
		for k, v := range t.Fields {
			updates[k] = v
		}
		if len(t.Meta) > 0 {
			meta := datatypes.JSONMap{}
			for k, v := range order.Metadata {
				meta[k] = v
			}
			for k, v := range t.Meta {
				meta[k] = v
			}
			updates["metadata"] = meta
		}
		if outcome == OutcomeApplied {
			updates["status"] = t.To
		}

		expected := order.Status
		ok, err := repo.CompareAndSetStatus(ctx, order.ID, expected, updates)
		if err != nil {
			return "", err
		}
		fresh, err := repo.GetByID(ctx, order.ID)
		if err != nil {
			return "", err
		}
		*order = *fresh
		// MySQL reports zero affected rows when the values were already
		// in place; only a moved status means we lost a race.
		if ok || (outcome == OutcomeUnchanged && fresh.Status == expected) {
			return outcome, nil
		}
	}
	return "", fmt.Errorf("order %s: status kept changing under concurrent writers", order.OrderNumber)
}

// PaidStatus is the status a paid order moves to.
func PaidStatus(order *models.Order) string {
	if order.IsSubscription() {
		return models.OrderStatusActive
	}
	return models.OrderStatusConfirmed
}

// Package webhooks turns verified provider callbacks into idempotent order,
// subscription, invoice and refund updates.
package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/app/repository"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/agistaffers/backoffice/internal/pkg/billing"
	"github.com/agistaffers/backoffice/internal/pkg/metrics"
	"github.com/agistaffers/backoffice/internal/pkg/notify"
	"github.com/gofiber/fiber/v2/log"
)

// DefaultRetention is how long processed events stay in the ledger.
const DefaultRetention = 90 * 24 * time.Hour

// Outcomes recorded per event.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeConflict  = "conflict"
	OutcomeRejected  = "rejected"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

type Deps struct {
	Repos     *repository.Repositories
	Providers []billing.WebhookProvider
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
}

type Service struct {
	repos     *repository.Repositories
	providers map[string]billing.WebhookProvider
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		repos:     d.Repos,
		providers: map[string]billing.WebhookProvider{},
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, p := range d.Providers {
		if p != nil {
			s.providers[p.Name()] = p
		}
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	return s
}

// Result describes what Ingest did with one delivery. Every non-error result
// is acknowledged to the provider with 200.
type Result struct {
	Provider  string `json:"provider"`
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	Outcome   string `json:"outcome"`
	Duplicate bool   `json:"duplicate"`
	Note      string `json:"note,omitempty"`
}

// effect is what a handler did inside the ledger transaction.
type effect struct {
	outcome string
	note    string
	notices []notify.Notification
	// alerts go to operators and survive a conflict.
	alerts []notify.Notification
}

func (e *effect) ignore(format string, args ...any) {
	e.outcome = OutcomeIgnored
	e.note = fmt.Sprintf(format, args...)
}

// Ingest verifies, deduplicates and applies a raw provider callback. rawBody
// must be the exact request bytes. The ledger row and the state change commit
// together, so a failed delivery is retried in full and a replay is a no-op.
func (s *Service) Ingest(ctx context.Context, providerName, signatureHeader string, rawBody []byte) (*Result, error) {
	name := strings.ToLower(strings.TrimSpace(providerName))
	provider, ok := s.providers[name]
	if !ok {
		return nil, apperrors.NotFound("webhook provider", providerName)
	}

	if err := provider.VerifyWebhookSignature(signatureHeader, rawBody); err != nil {
		s.metrics.WebhookEvent(name, OutcomeRejected)
		log.Warnf("[Webhooks] Rejected %s delivery: %v", name, err)
		return nil, err
	}

	ev, err := provider.ParseWebhookEvent(rawBody)
	if err != nil {
		s.metrics.WebhookEvent(name, OutcomeInvalid)
		var vErr *apperrors.ValidationError
		if errors.As(err, &vErr) {
			return nil, err
		}
		return nil, apperrors.Validation("body", err.Error())
	}
	if ev.ID == "" {
		sum := sha256.Sum256(rawBody)
		ev.ID = "hash:" + hex.EncodeToString(sum[:])
	}
	eventType := ev.RawType
	if eventType == "" {
		eventType = ev.Type
	}

	res := &Result{Provider: name, EventID: ev.ID, EventType: eventType}
	var eff effect
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		created, stored, err := tx.WebhookEvent.CreateIfNotExists(ctx, &models.WebhookEvent{
			Provider:        name,
			ProviderEventID: ev.ID,
			EventType:       eventType,
			PayloadJSON:     string(rawBody),
		})
		if err != nil {
			return fmt.Errorf("failed to record webhook event: %w", err)
		}
		if !created {
			res.Duplicate = true
			return nil
		}

		eff = effect{outcome: OutcomeProcessed}
		if err := s.apply(ctx, tx, ev, &eff); err != nil {
			var conflict *apperrors.ConflictError
			if !errors.As(err, &conflict) {
				return err
			}
			// Never applied; kept on the ledger for review.
			eff.outcome = OutcomeConflict
			eff.note = conflict.Error()
			eff.notices = nil
		}
		return tx.WebhookEvent.MarkProcessed(ctx, stored.ID, eff.note)
	})
	if err != nil {
		s.metrics.WebhookEvent(name, OutcomeFailed)
		log.Errorf("[Webhooks] Processing %s event %s (%s) failed: %v", name, ev.ID, eventType, err)
		return nil, err
	}

	if res.Duplicate {
		res.Outcome = OutcomeDuplicate
		s.metrics.WebhookEvent(name, OutcomeDuplicate)
		log.Infof("[Webhooks] Duplicate %s event %s acknowledged", name, ev.ID)
		return res, nil
	}

	res.Outcome, res.Note = eff.outcome, eff.note
	s.metrics.WebhookEvent(name, eff.outcome)
	switch eff.outcome {
	case OutcomeConflict:
		log.Warnf("[Webhooks] %s event %s (%s) conflicts with local state: %s", name, ev.ID, eventType, eff.note)
	case OutcomeIgnored:
		log.Infof("[Webhooks] %s event %s (%s) ignored: %s", name, ev.ID, eventType, eff.note)
	default:
		log.Infof("[Webhooks] Processed %s event %s (%s)", name, ev.ID, eventType)
	}
	for _, n := range append(eff.alerts, eff.notices...) {
		s.notifier.Notify(ctx, n)
	}
	return res, nil
}

func (s *Service) apply(ctx context.Context, tx *repository.Repositories, ev *billing.Event, eff *effect) error {
	switch ev.Type {
	case billing.EventPaymentCreated, billing.EventPaymentUpdated:
		return s.applyPayment(ctx, tx, ev, eff)
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionCanceled:
		return s.applySubscription(ctx, tx, ev, eff)
	case billing.EventInvoicePaymentMade:
		return s.applyInvoicePayment(ctx, tx, ev, eff)
	case billing.EventRefundCreated:
		return s.applyRefund(ctx, tx, ev, eff)
	}
	eff.ignore("unhandled event type %s", ev.RawType)
	return nil
}

// PruneLedger deletes ledger rows older than retention. Providers stop
// retrying long before that.
func (s *Service) PruneLedger(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	n, err := s.repos.WebhookEvent.DeleteOlderThan(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("[Webhooks] Pruned %d ledger entries", n)
	}
	return n, nil
}

// Package notify fans lifecycle events and alerts out to delivery sinks.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	KindAlert        = "alert"
	KindOrderStatus  = "order.status"
	KindSubscription = "subscription.status"
	KindBankDeposit  = "bank_deposit.status"
)

// Notification is what sinks deliver. Recipient is a customer email and is
// empty for operator-only notices.
type Notification struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Severity  string                 `json:"severity,omitempty"`
	Recipient string                 `json:"-"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"timestamp"`
}

type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Notifier is what services depend on.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type Dispatcher struct {
	sinks       []Sink
	sinkTimeout time.Duration
	onResult    func(sink string, err error)
	resultMu    sync.Mutex
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	d := &Dispatcher{sinkTimeout: 5 * time.Second}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	return d
}

// OnResult registers a hook called after every delivery attempt (metrics).
func (d *Dispatcher) OnResult(fn func(sink string, err error)) *Dispatcher {
	d.onResult = fn
	return d
}

func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Notify delivers to all sinks concurrently and returns once each has
// finished or hit the per-sink timeout. Failures are logged only; the state
// change that triggered the notice has already committed.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	// Sink errors are reported, never returned, so one failure does not
	// cancel its siblings.
	var g errgroup.Group
	for _, s := range d.sinks {
		s := s
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, d.sinkTimeout)
			err := s.Send(sctx, n)
			cancel()
			if err != nil {
				log.Warnf("[Notify] %s delivery of %s (%s) failed: %v", s.Name(), n.Kind, n.ID, err)
			}
			d.report(s.Name(), err)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) report(sink string, err error) {
	if d.onResult == nil {
		return
	}
	d.resultMu.Lock()
	defer d.resultMu.Unlock()
	d.onResult(sink, err)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

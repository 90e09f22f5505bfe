package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/app/repository"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/agistaffers/backoffice/internal/pkg/catalog"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// DeliverProduct hands a paid order over according to its product's delivery
// type. Instant products are delivered immediately. Manual products open a
// support ticket and are delivered either right away or when the ticket
// closes, depending on ManualDeliveryMode. Scheduled products are only
// flagged for the external scheduler.
//
// Subscription orders get DeliveredAt but keep status active so they can
// still be cancelled.
func (s *Service) DeliverProduct(ctx context.Context, orderID uint) (*models.Order, error) {
	order, err := s.loadOrder(ctx, s.repos, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusDelivered || (order.IsSubscription() && order.DeliveredAt != nil) {
		return order, nil
	}
	if order.Status != models.OrderStatusConfirmed && order.Status != models.OrderStatusActive {
		return nil, &apperrors.ConflictError{Entity: "order", From: order.Status, To: models.OrderStatusDelivered}
	}
	product, err := findProduct(order.ProductID)
	if err != nil {
		return nil, err
	}

	var delivered bool
	var ticket *models.SupportTicket
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		switch product.Delivery {
		case catalog.DeliveryManual:
			opened, err := s.openTicket(ctx, tx, order)
			if err != nil {
				return err
			}
			ticket = opened
			if s.cfg.ManualDeliveryMode == ManualDeliveryTicketClosed {
				return nil
			}
		case catalog.DeliveryScheduled:
			_, err := s.transition(ctx, tx, order, Transition{
				To:               order.Status,
				Meta:             map[string]interface{}{"delivery_status": "scheduled"},
				WriteIfUnchanged: true,
			})
			return err
		}
		delivered = true
		return s.markDelivered(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	if ticket != nil {
		log.Infof("[Orders] Opened support ticket %d for order %s", ticket.ID, order.OrderNumber)
	}
	if delivered {
		log.Infof("[Orders] Delivered order %s (%s)", order.OrderNumber, product.Delivery)
		if customer, err := s.loadCustomer(ctx, s.repos, order.CustomerID); err == nil {
			s.notifyOrder(ctx, order, customer.Email, "Your order is ready",
				fmt.Sprintf("%s (order %s) has been delivered to your account.", order.ProductName, order.OrderNumber))
		}
	}
	return order, nil
}

// markDelivered records the handoff. One-time orders move to delivered.
func (s *Service) markDelivered(ctx context.Context, tx *repository.Repositories, order *models.Order) error {
	now := s.now()
	t := Transition{
		To:     models.OrderStatusDelivered,
		Fields: map[string]interface{}{"delivered_at": &now},
		Meta:   map[string]interface{}{"delivery_status": "delivered"},
	}
	if order.IsSubscription() {
		t.To = order.Status
		t.WriteIfUnchanged = true
	}
	_, err := s.transition(ctx, tx, order, t)
	return err
}

func (s *Service) openTicket(ctx context.Context, tx *repository.Repositories, order *models.Order) (*models.SupportTicket, error) {
	ticket, err := tx.SupportTicket.GetOpenByOrderID(ctx, order.ID)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	ticket = &models.SupportTicket{
		OrderID: order.ID,
		Subject: fmt.Sprintf("Fulfil %s for order %s", order.ProductName, order.OrderNumber),
		Status:  models.TicketStatusOpen,
	}
	if err := tx.SupportTicket.Create(ctx, ticket); err != nil {
		return nil, err
	}
	_, err = s.transition(ctx, tx, order, Transition{
		To:               order.Status,
		Meta:             map[string]interface{}{"support_ticket_id": ticket.ID, "delivery_status": "ticket_open"},
		WriteIfUnchanged: true,
	})
	return ticket, err
}

// CloseSupportTicket closes a fulfilment ticket. In ticket_closed mode the
// order is delivered at this point.
func (s *Service) CloseSupportTicket(ctx context.Context, ticketID uint) (*models.SupportTicket, error) {
	ticket, err := s.repos.SupportTicket.GetByID(ctx, ticketID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("support ticket", ticketID)
	}
	if err != nil {
		return nil, err
	}
	if ticket.Status == models.TicketStatusClosed {
		return ticket, nil
	}

	var order *models.Order
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if _, err := tx.SupportTicket.Close(ctx, ticket.ID, s.now()); err != nil {
			return err
		}
		if s.cfg.ManualDeliveryMode != ManualDeliveryTicketClosed {
			return nil
		}
		o, err := s.loadOrder(ctx, tx, ticket.OrderID)
		if err != nil {
			return err
		}
		if o.Status != models.OrderStatusConfirmed && o.Status != models.OrderStatusActive {
			return nil
		}
		order = o
		return s.markDelivered(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	if order != nil {
		log.Infof("[Orders] Ticket %d closed, order %s delivered", ticket.ID, order.OrderNumber)
		if customer, err := s.loadCustomer(ctx, s.repos, order.CustomerID); err == nil {
			s.notifyOrder(ctx, order, customer.Email, "Your order is ready",
				fmt.Sprintf("%s (order %s) has been delivered.", order.ProductName, order.OrderNumber))
		}
	}
	return s.repos.SupportTicket.GetByID(ctx, ticket.ID)
}

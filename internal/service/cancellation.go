package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/ledger"
	"posledger/backend/internal/store"
)

const minCancelReason = 5

// CancelTicket reverses a completed sale: sold stock goes back and the
// register totals are rolled back. The cart stays completed and withdrawals
// are left alone.
func (s *Service) CancelTicket(ctx context.Context, ticketID string, req domain.CancelTicketRequest) (domain.SaleTicket, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SaleTicket{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if len([]rune(reason)) < minCancelReason {
		return domain.SaleTicket{}, store.Validation("cancellation reason must be at least %d characters", minCancelReason)
	}

	var ticket *domain.SaleTicket
	var restocked int
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ticket, err = tx.GetTicketForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if ticket.Status == domain.TicketStatusCancelled {
			return store.InvalidOperation("ticket %s is already cancelled", ticket.TicketNumber)
		}

		ids := make([]string, 0, len(ticket.Items))
		for _, item := range ticket.Items {
			ids = append(ids, item.ProductID)
		}
		products, err := tx.GetProductsForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		now := s.now()
		for _, item := range ticket.Items {
			product, ok := products[item.ProductID]
			if !ok {
				continue
			}
			product.Stock = ledger.Qty(product.Stock.Add(item.Quantity))
			product.UpdatedAt = now
			products[item.ProductID] = product
			if err := tx.UpdateProduct(ctx, product); err != nil {
				return err
			}
			restocked++
		}

		if ticket.CashRegisterID != "" {
			register, err := tx.GetRegisterForUpdate(ctx, ticket.CashRegisterID)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return err
			default:
				if err := ledger.ReverseSale(register, ticket.Total, ticket.PaymentMethod); err != nil {
					return err
				}
				if err := tx.UpdateRegister(ctx, *register); err != nil {
					return err
				}
			}
		}

		ticket.Status = domain.TicketStatusCancelled
		ticket.CancelledAt = &now
		ticket.CancelledBy = actor.UserID
		ticket.CancellationReason = reason
		return tx.UpdateTicketCancellation(ctx, *ticket)
	})
	if err != nil {
		return domain.SaleTicket{}, err
	}

	s.invalidateReports(ctx, ticket.CreatedAt)
	s.logAudit(ctx, "ticket_cancel", "ticket", ticket.ID,
		slog.String("ticket_number", ticket.TicketNumber),
		slog.String("reason", reason),
		slog.Int("restocked_lines", restocked))
	return *ticket, nil
}

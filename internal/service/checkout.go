package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/ledger"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

// CreateTicket turns an open cart into a completed sale. Stock, the cart
// status and the register totals change in the same transaction as the
// ticket insert, so a failure at any step leaves none of them applied.
func (s *Service) CreateTicket(ctx context.Context, req domain.CreateTicketRequest) (domain.SaleTicket, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SaleTicket{}, err
	}
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if !domain.IsPaymentMethod(method) {
		return domain.SaleTicket{}, store.Validation("unknown payment method %q", req.PaymentMethod)
	}

	var ticket domain.SaleTicket
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cart, err := openCartForUpdate(ctx, tx, req.CartID)
		if err != nil {
			return err
		}
		if len(cart.Items) == 0 {
			return store.InvalidOperation("cart %s has no items", cart.ID)
		}

		// Every line is checked before any stock moves.
		products, err := tx.GetProductsForUpdate(ctx, cartProductIDs(cart.Items))
		if err != nil {
			return err
		}
		demand := make(map[string]decimal.Decimal, len(cart.Items))
		for _, item := range cart.Items {
			product, ok := products[item.ProductID]
			if !ok {
				return store.NotFound("product %s not found", item.ProductName)
			}
			demand[item.ProductID] = demand[item.ProductID].Add(item.Quantity)
			if err := ledger.CheckStock(product, demand[item.ProductID]); err != nil {
				return err
			}
		}

		subtotal := ledger.CartTotal(cart.Items)
		total, err := ledger.ComputeTotals(subtotal, req.Tax, req.Discount)
		if err != nil {
			return err
		}
		paid, change, err := ledger.ComputeChange(method, req.AmountPaid, total)
		if err != nil {
			return err
		}

		register, err := s.checkoutRegister(ctx, tx, req.CashRegisterID, actor)
		if err != nil {
			return err
		}

		now := s.now()
		day := ledger.TicketDay(now)
		seq, err := tx.NextTicketSequence(ctx, day)
		if err != nil {
			return err
		}

		ticket = domain.SaleTicket{
			ID:               xid.New("tkt"),
			TicketNumber:     ledger.TicketNumber(day, seq),
			CartID:           cart.ID,
			UserID:           actor.UserID,
			Subtotal:         subtotal,
			Tax:              ledger.Money(req.Tax),
			Discount:         ledger.Money(req.Discount),
			Total:            total,
			PaymentMethod:    method,
			PaymentReference: strings.TrimSpace(req.PaymentReference),
			AmountPaid:       paid,
			ChangeGiven:      change,
			Status:           domain.TicketStatusCompleted,
			CreatedAt:        now,
			Items:            make([]domain.SaleTicketItem, 0, len(cart.Items)),
		}
		if register != nil {
			ticket.CashRegisterID = register.ID
		}
		for _, item := range cart.Items {
			ticket.Items = append(ticket.Items, domain.SaleTicketItem{
				ID:              xid.New("tki"),
				TicketID:        ticket.ID,
				ProductSnapshot: item.ProductSnapshot,
				Quantity:        item.Quantity,
				Subtotal:        item.Subtotal,
			})
		}
		if err := tx.CreateTicket(ctx, ticket); err != nil {
			return err
		}

		for productID, qty := range demand {
			product := products[productID]
			product.Stock = ledger.Qty(product.Stock.Sub(qty))
			product.UpdatedAt = now
			if err := tx.UpdateProduct(ctx, product); err != nil {
				return err
			}
		}

		applyCartStatus(cart, domain.CartStatusCompleted, now)
		if err := tx.UpdateCartStatus(ctx, *cart); err != nil {
			return err
		}

		if register != nil {
			if err := ledger.ApplySale(register, total, method); err != nil {
				return err
			}
			if err := tx.UpdateRegister(ctx, *register); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.SaleTicket{}, err
	}

	s.invalidateReports(ctx, ticket.CreatedAt)
	s.logAudit(ctx, "ticket_create", "ticket", ticket.ID,
		slog.String("ticket_number", ticket.TicketNumber),
		slog.String("total", ticket.Total.StringFixed(domain.MoneyPlaces)),
		slog.String("payment_method", ticket.PaymentMethod),
		slog.String("register_id", ticket.CashRegisterID))
	return ticket, nil
}

// checkoutRegister returns the register a sale lands on, or nil when the
// actor has none open and none was named.
func (s *Service) checkoutRegister(ctx context.Context, tx store.Tx, registerID string, actor domain.Actor) (*domain.CashRegister, error) {
	registerID = strings.TrimSpace(registerID)
	if registerID == "" {
		register, err := tx.GetOpenRegisterByUser(ctx, actor.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return register, err
	}

	register, err := tx.GetRegisterForUpdate(ctx, registerID)
	if err != nil {
		return nil, err
	}
	if register.Status != domain.RegisterStatusOpen {
		return nil, store.InvalidOperation("cash register %s is closed", register.ID)
	}
	return register, nil
}

func cartProductIDs(items []domain.CartItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

func (s *Service) GetTicket(ctx context.Context, id string) (domain.SaleTicket, error) {
	ticket, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return domain.SaleTicket{}, err
	}
	return *ticket, nil
}

func (s *Service) GetTicketByNumber(ctx context.Context, number string) (domain.SaleTicket, error) {
	ticket, err := s.repo.GetTicketByNumber(ctx, strings.ToUpper(strings.TrimSpace(number)))
	if err != nil {
		return domain.SaleTicket{}, err
	}
	return *ticket, nil
}

func (s *Service) ListTickets(ctx context.Context, filter domain.TicketFilter) ([]domain.SaleTicket, error) {
	switch filter.Status {
	case "", domain.TicketStatusCompleted, domain.TicketStatusCancelled:
	default:
		return nil, store.Validation("unknown ticket status %q", filter.Status)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, store.Validation("date range end is before its start")
	}
	filter.Skip, filter.Limit = clampPage(filter.Skip, filter.Limit, 100, 100)
	return s.repo.ListTickets(ctx, filter)
}

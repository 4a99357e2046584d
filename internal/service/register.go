package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/ledger"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

func (s *Service) OpenRegister(ctx context.Context, req domain.OpenRegisterRequest) (domain.CashRegister, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashRegister{}, err
	}
	initial := ledger.Money(req.InitialCash)
	if initial.IsNegative() {
		return domain.CashRegister{}, store.Validation("initial cash must not be negative")
	}
	limit := s.defaultCashLimit
	if req.CashLimit != nil {
		limit = ledger.Money(*req.CashLimit)
		if limit.IsNegative() {
			return domain.CashRegister{}, store.Validation("cash limit must not be negative")
		}
	}

	register := domain.CashRegister{
		ID:               xid.New("reg"),
		UserID:           actor.UserID,
		OpenedAt:         s.now(),
		InitialCash:      initial,
		TotalSales:       decimal.Zero,
		TotalCash:        decimal.Zero,
		TotalCard:        decimal.Zero,
		TotalTransfer:    decimal.Zero,
		TotalWithdrawals: decimal.Zero,
		CashLimit:        limit,
		Status:           domain.RegisterStatusOpen,
		Notes:            ledger.AppendNote("", "Open", req.Notes),
	}
	register.CurrentCash = ledger.AvailableCash(register)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.GetOpenRegisterByUser(ctx, actor.UserID)
		switch {
		case err == nil:
			return store.InvalidOperation("user already has open cash register %s", existing.ID)
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		return tx.CreateRegister(ctx, register)
	})
	if err != nil {
		return domain.CashRegister{}, err
	}

	s.invalidateReports(ctx, register.OpenedAt)
	s.logAudit(ctx, "register_open", "cash_register", register.ID,
		slog.String("initial_cash", register.InitialCash.StringFixed(domain.MoneyPlaces)),
		slog.String("cash_limit", register.CashLimit.StringFixed(domain.MoneyPlaces)))
	return register, nil
}

// CloseRegister may only be called by the user who opened the register.
func (s *Service) CloseRegister(ctx context.Context, registerID string, req domain.CloseRegisterRequest) (domain.CashRegister, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashRegister{}, err
	}
	if req.FinalCash.IsNegative() {
		return domain.CashRegister{}, store.Validation("final cash must not be negative")
	}

	var register *domain.CashRegister
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		register, err = tx.GetRegisterForUpdate(ctx, registerID)
		if err != nil {
			return err
		}
		if register.Status != domain.RegisterStatusOpen {
			return store.InvalidOperation("cash register %s is already closed", register.ID)
		}
		if register.UserID != actor.UserID {
			return store.Unauthorized("only the user who opened cash register %s can close it", register.ID)
		}
		ledger.CloseOut(register, req.FinalCash, req.Notes, s.now())
		return tx.UpdateRegister(ctx, *register)
	})
	if err != nil {
		return domain.CashRegister{}, err
	}

	s.invalidateReports(ctx, register.OpenedAt)
	s.logAudit(ctx, "register_close", "cash_register", register.ID,
		slog.String("expected_cash", register.ExpectedCash.Decimal.StringFixed(domain.MoneyPlaces)),
		slog.String("final_cash", register.FinalCash.Decimal.StringFixed(domain.MoneyPlaces)),
		slog.String("difference", register.Difference.Decimal.StringFixed(domain.MoneyPlaces)))
	if register.Difference.Decimal.Sign() != 0 {
		s.logger.WarnContext(ctx, "cash register closed with difference",
			slog.String("register_id", register.ID),
			slog.String("difference", register.Difference.Decimal.StringFixed(domain.MoneyPlaces)))
	}
	return *register, nil
}

func (s *Service) GetRegister(ctx context.Context, id string) (domain.CashRegister, error) {
	register, err := s.repo.GetRegister(ctx, id)
	if err != nil {
		return domain.CashRegister{}, err
	}
	return *register, nil
}

// CurrentRegister returns the acting user's open register.
func (s *Service) CurrentRegister(ctx context.Context) (domain.CashRegister, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashRegister{}, err
	}
	register, err := s.repo.FindOpenRegisterByUser(ctx, actor.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.CashRegister{}, store.NotFound("no open cash register for user %s", actor.Username)
	}
	if err != nil {
		return domain.CashRegister{}, err
	}
	return *register, nil
}

func (s *Service) ListRegisters(ctx context.Context, filter domain.RegisterFilter) ([]domain.CashRegister, error) {
	switch filter.Status {
	case "", domain.RegisterStatusOpen, domain.RegisterStatusClosed:
	default:
		return nil, store.Validation("unknown cash register status %q", filter.Status)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, store.Validation("date range end is before its start")
	}
	filter.Skip, filter.Limit = clampPage(filter.Skip, filter.Limit, 100, 100)
	return s.repo.ListRegisters(ctx, filter)
}

// RegisterSummary lists completed tickets only; cancelled ones are counted.
func (s *Service) RegisterSummary(ctx context.Context, registerID string) (domain.RegisterSummary, error) {
	register, err := s.repo.GetRegister(ctx, registerID)
	if err != nil {
		return domain.RegisterSummary{}, err
	}
	tickets, err := s.repo.ListTicketsByRegister(ctx, registerID)
	if err != nil {
		return domain.RegisterSummary{}, err
	}

	summary := domain.RegisterSummary{Register: *register, Tickets: []domain.SaleTicket{}}
	for _, t := range tickets {
		if t.Status == domain.TicketStatusCancelled {
			summary.CancelledTickets++
			continue
		}
		summary.CompletedTickets++
		summary.Tickets = append(summary.Tickets, t)
	}
	return summary, nil
}

// ReconcileRegister recomputes the running totals from the register's
// tickets and withdrawals and compares them with the persisted counters.
func (s *Service) ReconcileRegister(ctx context.Context, registerID string) (domain.RegisterReconciliation, error) {
	register, err := s.repo.GetRegister(ctx, registerID)
	if err != nil {
		return domain.RegisterReconciliation{}, err
	}
	tickets, err := s.repo.ListTicketsByRegister(ctx, registerID)
	if err != nil {
		return domain.RegisterReconciliation{}, err
	}
	withdrawals, err := s.repo.ListWithdrawalsByRegister(ctx, registerID)
	if err != nil {
		return domain.RegisterReconciliation{}, err
	}

	recomputed := domain.CashRegister{
		InitialCash:      register.InitialCash,
		TotalSales:       decimal.Zero,
		TotalCash:        decimal.Zero,
		TotalCard:        decimal.Zero,
		TotalTransfer:    decimal.Zero,
		TotalWithdrawals: decimal.Zero,
	}
	for _, t := range tickets {
		if t.Status != domain.TicketStatusCompleted {
			continue
		}
		if err := ledger.ApplySale(&recomputed, t.Total, t.PaymentMethod); err != nil {
			return domain.RegisterReconciliation{}, err
		}
	}
	for _, w := range withdrawals {
		if w.Status != domain.WithdrawalStatusCompleted {
			continue
		}
		recomputed.TotalWithdrawals = ledger.Money(recomputed.TotalWithdrawals.Add(w.Amount))
	}
	recomputed.CurrentCash = ledger.AvailableCash(recomputed)

	result := domain.RegisterReconciliation{
		RegisterID: register.ID,
		Persisted:  totalsOf(*register),
		Recomputed: totalsOf(recomputed),
	}
	result.Balanced = totalsEqual(result.Persisted, result.Recomputed)
	if !result.Balanced {
		s.logger.WarnContext(ctx, "cash register totals drifted", slog.String("register_id", register.ID))
	}
	return result, nil
}

func totalsOf(r domain.CashRegister) domain.RegisterTotals {
	return domain.RegisterTotals{
		TotalSales:       r.TotalSales,
		TotalCash:        r.TotalCash,
		TotalCard:        r.TotalCard,
		TotalTransfer:    r.TotalTransfer,
		TotalWithdrawals: r.TotalWithdrawals,
		CurrentCash:      r.CurrentCash,
		NumTransactions:  r.NumTransactions,
	}
}

func totalsEqual(a, b domain.RegisterTotals) bool {
	return a.TotalSales.Equal(b.TotalSales) &&
		a.TotalCash.Equal(b.TotalCash) &&
		a.TotalCard.Equal(b.TotalCard) &&
		a.TotalTransfer.Equal(b.TotalTransfer) &&
		a.TotalWithdrawals.Equal(b.TotalWithdrawals) &&
		a.CurrentCash.Equal(b.CurrentCash) &&
		a.NumTransactions == b.NumTransactions
}

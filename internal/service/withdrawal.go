package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/ledger"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

// CreateWithdrawal removes cash from a register. An empty registerID means
// the acting user's open register.
func (s *Service) CreateWithdrawal(ctx context.Context, registerID string, req domain.CreateWithdrawalRequest) (domain.CashWithdrawal, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashWithdrawal{}, err
	}
	reason := strings.ToLower(strings.TrimSpace(req.Reason))
	if !domain.IsWithdrawalReason(reason) {
		return domain.CashWithdrawal{}, store.Validation("unknown withdrawal reason %q", req.Reason)
	}
	if err := ledger.ValidateWithdrawalAmount(req.Amount); err != nil {
		return domain.CashWithdrawal{}, err
	}

	var withdrawal domain.CashWithdrawal
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		register, err := withdrawalRegister(ctx, tx, strings.TrimSpace(registerID), actor)
		if err != nil {
			return err
		}
		if register.Status != domain.RegisterStatusOpen {
			return store.InvalidOperation("cash register %s is closed", register.ID)
		}
		before, after, err := ledger.ApplyWithdrawal(register, req.Amount)
		if err != nil {
			return err
		}

		now := s.now()
		withdrawal = domain.CashWithdrawal{
			ID:             xid.New("wdr"),
			CashRegisterID: register.ID,
			UserID:         actor.UserID,
			Amount:         ledger.Money(req.Amount),
			Reason:         reason,
			Notes:          strings.TrimSpace(req.Notes),
			CashBefore:     before,
			CashAfter:      after,
			Status:         domain.WithdrawalStatusCompleted,
			CreatedAt:      now,
		}
		if actor.Role == domain.RoleAdmin || actor.Role == domain.RoleManager {
			withdrawal.ApprovedBy = actor.UserID
			withdrawal.ApprovedAt = &now
		}
		if err := tx.CreateWithdrawal(ctx, withdrawal); err != nil {
			return err
		}
		return tx.UpdateRegister(ctx, *register)
	})
	if err != nil {
		return domain.CashWithdrawal{}, err
	}

	s.invalidateReports(ctx, withdrawal.CreatedAt)
	s.logAudit(ctx, "withdrawal_create", "cash_withdrawal", withdrawal.ID,
		slog.String("register_id", withdrawal.CashRegisterID),
		slog.String("amount", withdrawal.Amount.StringFixed(domain.MoneyPlaces)),
		slog.String("reason", withdrawal.Reason))
	return withdrawal, nil
}

func withdrawalRegister(ctx context.Context, tx store.Tx, registerID string, actor domain.Actor) (*domain.CashRegister, error) {
	if registerID != "" {
		return tx.GetRegisterForUpdate(ctx, registerID)
	}
	register, err := tx.GetOpenRegisterByUser(ctx, actor.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.InvalidOperation("no open cash register for user %s", actor.Username)
	}
	return register, err
}

// CancelWithdrawal puts the cash back on the register, including one that
// has since been closed. Role checks happen at the HTTP boundary.
func (s *Service) CancelWithdrawal(ctx context.Context, withdrawalID string) (domain.CashWithdrawal, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.CashWithdrawal{}, err
	}

	var withdrawal *domain.CashWithdrawal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		withdrawal, err = tx.GetWithdrawalForUpdate(ctx, withdrawalID)
		if err != nil {
			return err
		}
		if withdrawal.Status == domain.WithdrawalStatusCancelled {
			return store.InvalidOperation("withdrawal %s is already cancelled", withdrawal.ID)
		}
		register, err := tx.GetRegisterForUpdate(ctx, withdrawal.CashRegisterID)
		if err != nil {
			return err
		}
		ledger.ReverseWithdrawal(register, withdrawal.Amount)
		withdrawal.Status = domain.WithdrawalStatusCancelled
		if err := tx.UpdateWithdrawalStatus(ctx, *withdrawal); err != nil {
			return err
		}
		return tx.UpdateRegister(ctx, *register)
	})
	if err != nil {
		return domain.CashWithdrawal{}, err
	}

	s.invalidateReports(ctx, withdrawal.CreatedAt)
	s.logAudit(ctx, "withdrawal_cancel", "cash_withdrawal", withdrawal.ID,
		slog.String("register_id", withdrawal.CashRegisterID),
		slog.String("amount", withdrawal.Amount.StringFixed(domain.MoneyPlaces)))
	return *withdrawal, nil
}

func (s *Service) GetWithdrawal(ctx context.Context, id string) (domain.CashWithdrawal, error) {
	w, err := s.repo.GetWithdrawal(ctx, id)
	if err != nil {
		return domain.CashWithdrawal{}, err
	}
	return *w, nil
}

func (s *Service) ListRegisterWithdrawals(ctx context.Context, registerID string) ([]domain.CashWithdrawal, error) {
	if _, err := s.repo.GetRegister(ctx, registerID); err != nil {
		return nil, err
	}
	return s.repo.ListWithdrawalsByRegister(ctx, registerID)
}

// ListMyWithdrawals lists withdrawals on the acting user's open register.
func (s *Service) ListMyWithdrawals(ctx context.Context) ([]domain.CashWithdrawal, error) {
	register, err := s.CurrentRegister(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListWithdrawalsByRegister(ctx, register.ID)
}

// ListDayWithdrawals lists every withdrawal created on the given UTC date.
func (s *Service) ListDayWithdrawals(ctx context.Context, date time.Time) ([]domain.CashWithdrawal, error) {
	from, to := utcDay(date)
	return s.repo.ListWithdrawals(ctx, from, to)
}

// WithdrawalSummary totals completed withdrawals of a register by reason.
func (s *Service) WithdrawalSummary(ctx context.Context, registerID string) (domain.WithdrawalSummary, error) {
	withdrawals, err := s.ListRegisterWithdrawals(ctx, registerID)
	if err != nil {
		return domain.WithdrawalSummary{}, err
	}

	summary := domain.WithdrawalSummary{
		RegisterID:  registerID,
		TotalAmount: decimal.Zero,
		ByReason:    map[string]domain.ReasonTotal{},
		Withdrawals: []domain.CashWithdrawal{},
	}
	for _, w := range withdrawals {
		if w.Status != domain.WithdrawalStatusCompleted {
			continue
		}
		summary.TotalWithdrawals++
		summary.TotalAmount = ledger.Money(summary.TotalAmount.Add(w.Amount))
		bucket := summary.ByReason[w.Reason]
		bucket.Count++
		bucket.Total = ledger.Money(bucket.Total.Add(w.Amount))
		summary.ByReason[w.Reason] = bucket
		summary.Withdrawals = append(summary.Withdrawals, w)
	}
	return summary, nil
}

// CheckLimit reports how far the acting user's open register is above its
// cash limit.
func (s *Service) CheckLimit(ctx context.Context) (domain.LimitStatus, error) {
	register, err := s.CurrentRegister(ctx)
	if err != nil {
		return domain.LimitStatus{}, err
	}
	status := ledger.CheckLimit(register)
	if status.AlertLevel == "critical" {
		s.logger.WarnContext(ctx, "cash register far above limit",
			slog.String("register_id", register.ID),
			slog.String("excess", status.Excess.StringFixed(domain.MoneyPlaces)))
	}
	return status, nil
}

func utcDay(date time.Time) (time.Time, time.Time) {
	d := date.UTC()
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 0, 1)
}

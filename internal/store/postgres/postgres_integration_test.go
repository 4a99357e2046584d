package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/service"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("POSLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POSLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.ApplySchema(ctx))
	return s
}

func integrationProduct(t *testing.T, s *Store, stock string) domain.Product {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	p := domain.Product{
		ID:        xid.New("prd"),
		Code:      fmt.Sprintf("IT-%d", now.UnixNano()),
		Name:      "Integration Product",
		Category:  "test",
		Unit:      "unit",
		Price:     decimal.RequireFromString("12.50"),
		Stock:     decimal.RequireFromString(stock),
		MinStock:  decimal.Zero,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateProduct(ctx, p)
	}))
	return p
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	p := integrationProduct(t, s, "10")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.GetProductForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		locked.Stock = decimal.Zero
		if err := tx.UpdateProduct(ctx, *locked); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Stock.Equal(decimal.NewFromInt(10)), "stock %s", got.Stock)
}

func TestDuplicateProductCodeMapsToDuplicate(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	p := integrationProduct(t, s, "1")

	clone := p
	clone.ID = xid.New("prd")
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateProduct(ctx, clone)
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestTicketSequenceIsPerDay(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	day := fmt.Sprintf("it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM ticket_sequences WHERE day = $1`, day)
	})

	next := func() int {
		var seq int
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			seq, err = tx.NextTicketSequence(ctx, day)
			return err
		}))
		return seq
	}
	assert.Equal(t, 1, next())
	assert.Equal(t, 2, next())
	assert.Equal(t, 3, next())
}

func TestCheckoutAndCancelAgainstPostgres(t *testing.T) {
	s := newIntegrationStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(s, nil, service.Options{Logger: logger})

	stamp := time.Now().UnixNano()
	actor := domain.Actor{UserID: fmt.Sprintf("usr-it-%d", stamp), Username: "it-cashier", Role: domain.RoleCashier}
	admin := domain.Actor{UserID: fmt.Sprintf("usr-it-admin-%d", stamp), Username: "it-admin", Role: domain.RoleAdmin}
	ctx := service.WithActor(context.Background(), actor)

	p := integrationProduct(t, s, "5")
	register, err := svc.OpenRegister(ctx, domain.OpenRegisterRequest{InitialCash: decimal.NewFromInt(100)})
	require.NoError(t, err)

	cart, err := svc.CreateCart(ctx)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, cart.ID, domain.AddCartItemRequest{ProductID: p.ID, Quantity: decimal.NewFromInt(2)})
	require.NoError(t, err)

	paid := decimal.NewFromInt(30)
	ticket, err := svc.CreateTicket(ctx, domain.CreateTicketRequest{
		CartID:         cart.ID,
		PaymentMethod:  domain.PaymentCash,
		AmountPaid:     &paid,
		CashRegisterID: register.ID,
	})
	require.NoError(t, err)
	assert.True(t, ticket.Total.Equal(decimal.RequireFromString("25.00")))
	assert.True(t, ticket.ChangeGiven.Decimal.Equal(decimal.RequireFromString("5.00")))

	byNumber, err := svc.GetTicketByNumber(ctx, ticket.TicketNumber)
	require.NoError(t, err)
	require.Len(t, byNumber.Items, 1)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Stock.Equal(decimal.NewFromInt(3)), "stock %s", got.Stock)

	_, err = svc.CancelTicket(service.WithActor(context.Background(), admin), ticket.ID, domain.CancelTicketRequest{Reason: "integration test"})
	require.NoError(t, err)

	got, err = s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Stock.Equal(decimal.NewFromInt(5)), "stock %s", got.Stock)

	reg, err := svc.GetRegister(ctx, register.ID)
	require.NoError(t, err)
	assert.True(t, reg.TotalSales.IsZero())
	assert.Equal(t, 0, reg.NumTransactions)

	_, err = svc.CloseRegister(ctx, register.ID, domain.CloseRegisterRequest{FinalCash: decimal.NewFromInt(100)})
	require.NoError(t, err)
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	s := newIntegrationStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(s, nil, service.Options{Logger: logger})
	p := integrationProduct(t, s, "3")

	const buyers = 8
	var sold atomic.Int32
	g, gctx := errgroup.WithContext(context.Background())
	for i := 0; i < buyers; i++ {
		actor := domain.Actor{UserID: fmt.Sprintf("usr-it-buyer-%d-%d", time.Now().UnixNano(), i), Username: "buyer", Role: domain.RoleCashier}
		g.Go(func() error {
			ctx := service.WithActor(gctx, actor)
			cart, err := svc.CreateCart(ctx)
			if err != nil {
				return err
			}
			if _, err := svc.AddItem(ctx, cart.ID, domain.AddCartItemRequest{ProductID: p.ID, Quantity: decimal.NewFromInt(1)}); err != nil {
				if errors.Is(err, store.ErrInsufficientStock) {
					return nil
				}
				return err
			}
			_, err = svc.CreateTicket(ctx, domain.CreateTicketRequest{CartID: cart.ID, PaymentMethod: domain.PaymentCard})
			switch {
			case err == nil:
				sold.Add(1)
				return nil
			case errors.Is(err, store.ErrInsufficientStock):
				return nil
			default:
				return err
			}
		})
	}
	require.NoError(t, g.Wait())

	got, err := s.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, sold.Load())
	assert.True(t, got.Stock.IsZero(), "stock %s", got.Stock)
}

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

func newProduct(id string, code string, barcode string, stock string) domain.Product {
	return domain.Product{
		ID:       id,
		Code:     code,
		Barcode:  barcode,
		Name:     "Product " + code,
		Category: "grocery",
		Unit:     "unit",
		Price:    decimal.RequireFromString("10.00"),
		Stock:    decimal.RequireFromString(stock),
		Active:   true,
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateProduct(ctx, newProduct("prd-1", "A1", "", "5"))
	}))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetProductForUpdate(ctx, "prd-1")
		if err != nil {
			return err
		}
		p.Stock = decimal.Zero
		if err := tx.UpdateProduct(ctx, *p); err != nil {
			return err
		}
		if _, err := tx.NextTicketSequence(ctx, "20260101"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := s.GetProduct(ctx, "prd-1")
	require.NoError(t, err)
	assert.Equal(t, "5", p.Stock.String())

	var seq int
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		seq, err = tx.NextTicketSequence(ctx, "20260101")
		return err
	}))
	assert.Equal(t, 1, seq)
}

func TestProductUniqueKeys(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateProduct(ctx, newProduct("prd-1", "A1", "111", "5")); err != nil {
			return err
		}
		return tx.CreateProduct(ctx, newProduct("prd-2", "A2", "", "5"))
	}))

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateProduct(ctx, newProduct("prd-3", "A1", "", "1"))
	})
	assert.True(t, errors.Is(err, store.ErrDuplicate))

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateProduct(ctx, newProduct("prd-3", "A3", "111", "1"))
	})
	assert.True(t, errors.Is(err, store.ErrDuplicate))

	// empty barcodes never collide
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateProduct(ctx, newProduct("prd-3", "A3", "", "1"))
	}))

	renamed := newProduct("prd-2", "A9", "222", "5")
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateProduct(ctx, renamed)
	}))
	_, err = s.GetProductByCode(ctx, "A2")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	got, err := s.GetProductByBarcode(ctx, "222")
	require.NoError(t, err)
	assert.Equal(t, "prd-2", got.ID)
}

func TestCartItemsKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	cart := domain.Cart{ID: "cart-1", Status: domain.CartStatusOpen, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateCart(ctx, cart); err != nil {
			return err
		}
		for i, id := range []string{"i-3", "i-1", "i-2"} {
			item := domain.CartItem{ID: id, CartID: cart.ID, Position: i + 1, Quantity: decimal.NewFromInt(1)}
			if err := tx.InsertCartItem(ctx, item); err != nil {
				return err
			}
		}
		return tx.DeleteCartItem(ctx, cart.ID, "i-1")
	}))

	got, err := s.GetCart(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "i-3", got.Items[0].ID)
	assert.Equal(t, "i-2", got.Items[1].ID)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteCartItem(ctx, cart.ID, "missing")
	})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestOneOpenRegisterPerUser(t *testing.T) {
	ctx := context.Background()
	s := New()
	open := domain.CashRegister{ID: "reg-1", UserID: "usr-1", Status: domain.RegisterStatusOpen}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateRegister(ctx, open)
	}))

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateRegister(ctx, domain.CashRegister{ID: "reg-2", UserID: "usr-1", Status: domain.RegisterStatusOpen})
	})
	assert.True(t, errors.Is(err, store.ErrInvalidOperation))

	found, err := s.FindOpenRegisterByUser(ctx, "usr-1")
	require.NoError(t, err)
	assert.Equal(t, "reg-1", found.ID)
}

func TestTicketNumberIsUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	ticket := domain.SaleTicket{ID: "tkt-1", TicketNumber: "TKT-20260101-0001", Status: domain.TicketStatusCompleted}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateTicket(ctx, ticket)
	}))
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ticket.ID = "tkt-2"
		return tx.CreateTicket(ctx, ticket)
	})
	assert.True(t, errors.Is(err, store.ErrDuplicate))

	got, err := s.GetTicketByNumber(ctx, "TKT-20260101-0001")
	require.NoError(t, err)
	assert.Equal(t, "tkt-1", got.ID)
}

func TestCreateUserDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	err := s.CreateUser(ctx, domain.UserAccount{Username: "Admin", Password: "hash", Role: domain.RoleAdmin})
	assert.True(t, errors.Is(err, store.ErrDuplicate))

	require.NoError(t, s.CreateUser(ctx, domain.UserAccount{Username: "Second", Password: "hash"}))
	user, err := s.GetUserByUsername(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCashier, user.Role)
	assert.NotEmpty(t, user.ID)
}

func TestListProductsFilters(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	all, err := s.ListProducts(ctx, store.ProductFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, all)

	found, err := s.ListProducts(ctx, store.ProductFilter{Query: "coffee"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "CAF-001", found[0].Code)

	paged, err := s.ListProducts(ctx, store.ProductFilter{Skip: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, all[1].ID, paged[0].ID)
}

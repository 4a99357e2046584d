package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/ledger"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

func (s *Service) CreateCart(ctx context.Context) (domain.Cart, error) {
	cart := domain.Cart{
		ID:        xid.New("cart"),
		Status:    domain.CartStatusOpen,
		CreatedAt: s.now(),
		Items:     []domain.CartItem{},
	}
	if actor, ok := ActorFromContext(ctx); ok {
		cart.UserID = actor.UserID
	}

	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateCart(ctx, cart)
	}); err != nil {
		return domain.Cart{}, err
	}
	cart.Total = ledger.CartTotal(cart.Items)
	return cart, nil
}

func (s *Service) GetCart(ctx context.Context, id string) (domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}
	cart.Total = ledger.CartTotal(cart.Items)
	return *cart, nil
}

// AddItem merges into an existing line for the same product, keeping that
// line's snapshotted unit price.
func (s *Service) AddItem(ctx context.Context, cartID string, req domain.AddCartItemRequest) (domain.Cart, error) {
	if err := ledger.ValidateQuantity(req.Quantity); err != nil {
		return domain.Cart{}, err
	}
	productID, err := s.resolveProductID(ctx, req)
	if err != nil {
		return domain.Cart{}, err
	}

	var cart *domain.Cart
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		cart, err = openCartForUpdate(ctx, tx, cartID)
		if err != nil {
			return err
		}
		product, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if !product.Active {
			return store.InvalidOperation("product %s is inactive", product.Name)
		}

		for i, item := range cart.Items {
			if item.ProductID != product.ID {
				continue
			}
			merged := item.Quantity.Add(req.Quantity)
			if err := ledger.CheckStock(*product, merged); err != nil {
				return err
			}
			item.Quantity = merged
			item.Subtotal = ledger.LineSubtotal(item.UnitPrice, merged)
			cart.Items[i] = item
			return tx.UpdateCartItem(ctx, item)
		}

		if err := ledger.CheckStock(*product, req.Quantity); err != nil {
			return err
		}
		item := domain.CartItem{
			ID:              xid.New("cti"),
			CartID:          cart.ID,
			ProductSnapshot: domain.SnapshotOf(*product),
			Quantity:        req.Quantity,
			Subtotal:        ledger.LineSubtotal(product.Price, req.Quantity),
			Position:        nextPosition(cart.Items),
			CreatedAt:       s.now(),
		}
		cart.Items = append(cart.Items, item)
		return tx.InsertCartItem(ctx, item)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	cart.Total = ledger.CartTotal(cart.Items)
	return *cart, nil
}

func (s *Service) resolveProductID(ctx context.Context, req domain.AddCartItemRequest) (string, error) {
	switch {
	case strings.TrimSpace(req.ProductID) != "":
		return strings.TrimSpace(req.ProductID), nil
	case strings.TrimSpace(req.Barcode) != "":
		p, err := s.repo.GetProductByBarcode(ctx, strings.TrimSpace(req.Barcode))
		if err != nil {
			return "", err
		}
		return p.ID, nil
	case strings.TrimSpace(req.Code) != "":
		p, err := s.repo.GetProductByCode(ctx, strings.ToUpper(strings.TrimSpace(req.Code)))
		if err != nil {
			return "", err
		}
		return p.ID, nil
	default:
		return "", store.Validation("product_id, code or barcode is required")
	}
}

func (s *Service) UpdateItemQuantity(ctx context.Context, cartID string, itemID string, req domain.UpdateCartItemRequest) (domain.Cart, error) {
	if err := ledger.ValidateQuantity(req.Quantity); err != nil {
		return domain.Cart{}, err
	}

	var cart *domain.Cart
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		cart, err = openCartForUpdate(ctx, tx, cartID)
		if err != nil {
			return err
		}
		idx := findItem(cart.Items, itemID)
		if idx < 0 {
			return store.NotFound("cart item %s not found", itemID)
		}
		item := cart.Items[idx]
		product, err := tx.GetProductForUpdate(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if err := ledger.CheckStock(*product, req.Quantity); err != nil {
			return err
		}
		item.Quantity = req.Quantity
		item.Subtotal = ledger.LineSubtotal(item.UnitPrice, req.Quantity)
		cart.Items[idx] = item
		return tx.UpdateCartItem(ctx, item)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	cart.Total = ledger.CartTotal(cart.Items)
	return *cart, nil
}

func (s *Service) RemoveItem(ctx context.Context, cartID string, itemID string) (domain.Cart, error) {
	var cart *domain.Cart
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		cart, err = openCartForUpdate(ctx, tx, cartID)
		if err != nil {
			return err
		}
		idx := findItem(cart.Items, itemID)
		if idx < 0 {
			return store.NotFound("cart item %s not found", itemID)
		}
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		return tx.DeleteCartItem(ctx, cartID, itemID)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	cart.Total = ledger.CartTotal(cart.Items)
	return *cart, nil
}

func (s *Service) ClearCart(ctx context.Context, cartID string) (domain.Cart, error) {
	var cart *domain.Cart
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		cart, err = openCartForUpdate(ctx, tx, cartID)
		if err != nil {
			return err
		}
		cart.Items = []domain.CartItem{}
		return tx.ClearCart(ctx, cartID)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	cart.Total = ledger.CartTotal(cart.Items)
	return *cart, nil
}

// ChangeCartStatus is the caller-facing transition: an open cart may only be
// cancelled. Completion belongs to checkout, and completed or cancelled carts
// are final.
func (s *Service) ChangeCartStatus(ctx context.Context, cartID string, req domain.CartStatusRequest) (domain.Cart, error) {
	switch req.Status {
	case domain.CartStatusCancelled:
	case domain.CartStatusOpen, domain.CartStatusCompleted:
		return domain.Cart{}, store.InvalidOperation("cart status can only be changed to %s", domain.CartStatusCancelled)
	default:
		return domain.Cart{}, store.Validation("unknown cart status %q", req.Status)
	}

	var cart *domain.Cart
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		cart, err = openCartForUpdate(ctx, tx, cartID)
		if err != nil {
			return err
		}
		applyCartStatus(cart, req.Status, s.now())
		return tx.UpdateCartStatus(ctx, *cart)
	})
	if err != nil {
		return domain.Cart{}, err
	}

	s.logAudit(ctx, "cart_status", "cart", cart.ID, slog.String("status", cart.Status))
	cart.Total = ledger.CartTotal(cart.Items)
	return *cart, nil
}

// applyCartStatus sets the timestamp matching status and clears the other.
func applyCartStatus(cart *domain.Cart, status string, now time.Time) {
	at := now.UTC()
	cart.Status = status
	cart.CompletedAt = nil
	cart.CancelledAt = nil
	switch status {
	case domain.CartStatusCompleted:
		cart.CompletedAt = &at
	case domain.CartStatusCancelled:
		cart.CancelledAt = &at
	}
}

func openCartForUpdate(ctx context.Context, tx store.Tx, cartID string) (*domain.Cart, error) {
	cart, err := tx.GetCartForUpdate(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.Status != domain.CartStatusOpen {
		return nil, store.InvalidOperation("cart %s is %s", cart.ID, cart.Status)
	}
	return cart, nil
}

func findItem(items []domain.CartItem, itemID string) int {
	for i, item := range items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

func nextPosition(items []domain.CartItem) int {
	next := 1
	for _, item := range items {
		if item.Position >= next {
			next = item.Position + 1
		}
	}
	return next
}

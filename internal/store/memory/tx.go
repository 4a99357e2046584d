package memory

import (
	"context"
	"slices"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

// tx operates on a private copy of the state. The Store lock is held for the
// whole transaction, so ForUpdate reads need no extra locking.
type tx struct {
	st *state
}

func (t *tx) GetProductForUpdate(_ context.Context, id string) (*domain.Product, error) {
	return t.st.product(id)
}

func (t *tx) GetProductsForUpdate(_ context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.st.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (t *tx) CreateProduct(_ context.Context, product domain.Product) error {
	if _, exists := t.st.products[product.ID]; exists {
		return store.Duplicate("product %s already exists", product.ID)
	}
	if err := t.checkProductKeys(product); err != nil {
		return err
	}
	t.st.putProduct(product)
	return nil
}

func (t *tx) UpdateProduct(_ context.Context, product domain.Product) error {
	if _, exists := t.st.products[product.ID]; !exists {
		return store.NotFound("product %s not found", product.ID)
	}
	if err := t.checkProductKeys(product); err != nil {
		return err
	}
	t.st.putProduct(product)
	return nil
}

func (t *tx) checkProductKeys(product domain.Product) error {
	if id, ok := t.st.productByCode[product.Code]; ok && id != product.ID {
		return store.Duplicate("product code %s already exists", product.Code)
	}
	if product.Barcode == "" {
		return nil
	}
	if id, ok := t.st.productByBarcode[product.Barcode]; ok && id != product.ID {
		return store.Duplicate("product barcode %s already exists", product.Barcode)
	}
	return nil
}

func (t *tx) CreatePriceHistory(_ context.Context, entry domain.PriceHistory) error {
	if _, exists := t.st.products[entry.ProductID]; !exists {
		return store.NotFound("product %s not found", entry.ProductID)
	}
	t.st.priceHistory[entry.ProductID] = append(t.st.priceHistory[entry.ProductID], entry)
	return nil
}

func (t *tx) CreateCart(_ context.Context, cart domain.Cart) error {
	if _, exists := t.st.carts[cart.ID]; exists {
		return store.Duplicate("cart %s already exists", cart.ID)
	}
	cart.Items = nil
	t.st.carts[cart.ID] = cart
	t.st.cartItems[cart.ID] = []domain.CartItem{}
	return nil
}

func (t *tx) GetCartForUpdate(_ context.Context, id string) (*domain.Cart, error) {
	return t.st.cart(id)
}

func (t *tx) UpdateCartStatus(_ context.Context, cart domain.Cart) error {
	current, ok := t.st.carts[cart.ID]
	if !ok {
		return store.NotFound("cart %s not found", cart.ID)
	}
	current.Status = cart.Status
	current.CompletedAt = cart.CompletedAt
	current.CancelledAt = cart.CancelledAt
	t.st.carts[cart.ID] = current
	return nil
}

func (t *tx) InsertCartItem(_ context.Context, item domain.CartItem) error {
	if _, ok := t.st.carts[item.CartID]; !ok {
		return store.NotFound("cart %s not found", item.CartID)
	}
	t.st.cartItems[item.CartID] = append(t.st.cartItems[item.CartID], item)
	return nil
}

func (t *tx) UpdateCartItem(_ context.Context, item domain.CartItem) error {
	items := t.st.cartItems[item.CartID]
	idx := slices.IndexFunc(items, func(it domain.CartItem) bool { return it.ID == item.ID })
	if idx < 0 {
		return store.NotFound("cart item %s not found", item.ID)
	}
	items[idx] = item
	return nil
}

func (t *tx) DeleteCartItem(_ context.Context, cartID string, itemID string) error {
	items := t.st.cartItems[cartID]
	idx := slices.IndexFunc(items, func(it domain.CartItem) bool { return it.ID == itemID })
	if idx < 0 {
		return store.NotFound("cart item %s not found", itemID)
	}
	t.st.cartItems[cartID] = slices.Delete(items, idx, idx+1)
	return nil
}

func (t *tx) ClearCart(_ context.Context, cartID string) error {
	if _, ok := t.st.carts[cartID]; !ok {
		return store.NotFound("cart %s not found", cartID)
	}
	t.st.cartItems[cartID] = []domain.CartItem{}
	return nil
}

func (t *tx) NextTicketSequence(_ context.Context, day string) (int, error) {
	t.st.ticketSeq[day]++
	return t.st.ticketSeq[day], nil
}

func (t *tx) CreateTicket(_ context.Context, ticket domain.SaleTicket) error {
	if _, exists := t.st.ticketByNumber[ticket.TicketNumber]; exists {
		return store.Duplicate("ticket number %s already exists", ticket.TicketNumber)
	}
	t.st.tickets[ticket.ID] = cloneTicket(ticket)
	t.st.ticketByNumber[ticket.TicketNumber] = ticket.ID
	return nil
}

func (t *tx) GetTicketForUpdate(_ context.Context, id string) (*domain.SaleTicket, error) {
	return t.st.ticket(id)
}

func (t *tx) UpdateTicketCancellation(_ context.Context, ticket domain.SaleTicket) error {
	current, ok := t.st.tickets[ticket.ID]
	if !ok {
		return store.NotFound("ticket %s not found", ticket.ID)
	}
	current.Status = ticket.Status
	current.CancelledAt = ticket.CancelledAt
	current.CancelledBy = ticket.CancelledBy
	current.CancellationReason = ticket.CancellationReason
	t.st.tickets[ticket.ID] = current
	return nil
}

func (t *tx) CreateRegister(_ context.Context, register domain.CashRegister) error {
	if register.Status == domain.RegisterStatusOpen {
		if _, err := t.st.openRegisterByUser(register.UserID); err == nil {
			return store.InvalidOperation("user already has an open cash register")
		}
	}
	t.st.registers[register.ID] = register
	return nil
}

func (t *tx) GetRegisterForUpdate(_ context.Context, id string) (*domain.CashRegister, error) {
	return t.st.register(id)
}

func (t *tx) GetOpenRegisterByUser(_ context.Context, userID string) (*domain.CashRegister, error) {
	return t.st.openRegisterByUser(userID)
}

func (t *tx) UpdateRegister(_ context.Context, register domain.CashRegister) error {
	if _, ok := t.st.registers[register.ID]; !ok {
		return store.NotFound("cash register %s not found", register.ID)
	}
	t.st.registers[register.ID] = register
	return nil
}

func (t *tx) CreateWithdrawal(_ context.Context, withdrawal domain.CashWithdrawal) error {
	if _, ok := t.st.registers[withdrawal.CashRegisterID]; !ok {
		return store.NotFound("cash register %s not found", withdrawal.CashRegisterID)
	}
	t.st.withdrawals[withdrawal.ID] = withdrawal
	return nil
}

func (t *tx) GetWithdrawalForUpdate(_ context.Context, id string) (*domain.CashWithdrawal, error) {
	return t.st.withdrawal(id)
}

func (t *tx) UpdateWithdrawalStatus(_ context.Context, withdrawal domain.CashWithdrawal) error {
	current, ok := t.st.withdrawals[withdrawal.ID]
	if !ok {
		return store.NotFound("withdrawal %s not found", withdrawal.ID)
	}
	current.Status = withdrawal.Status
	t.st.withdrawals[withdrawal.ID] = current
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"slices"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, t.tx, `id = $1`, id, true)
}

func (t *pgTx) GetProductsForUpdate(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ordered)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]domain.Product, len(ordered))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (t *pgTx) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO products (id, code, barcode, name, category, unit, price, stock, min_stock, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.Code, nullIfEmpty(p.Barcode), p.Name, p.Category, p.Unit, p.Price, p.Stock, p.MinStock, p.Active, p.CreatedAt, p.UpdatedAt)
	return productWriteError(err, p)
}

func (t *pgTx) UpdateProduct(ctx context.Context, p domain.Product) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET code = $2, barcode = $3, name = $4, category = $5, unit = $6,
			price = $7, stock = $8, min_stock = $9, active = $10, updated_at = $11
		WHERE id = $1
	`, p.ID, p.Code, nullIfEmpty(p.Barcode), p.Name, p.Category, p.Unit, p.Price, p.Stock, p.MinStock, p.Active, p.UpdatedAt)
	if err != nil {
		return productWriteError(err, p)
	}
	return expectOne(res, "product", p.ID)
}

func productWriteError(err error, p domain.Product) error {
	if err == nil {
		return nil
	}
	constraint, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	switch constraint {
	case "products_barcode_key":
		return store.Duplicate("product barcode %s already exists", p.Barcode)
	case "products_code_key":
		return store.Duplicate("product code %s already exists", p.Code)
	default:
		return store.Duplicate("product %s already exists", p.ID)
	}
}

func (t *pgTx) CreatePriceHistory(ctx context.Context, h domain.PriceHistory) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO price_history (id, product_id, old_price, new_price, reason, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, h.ID, h.ProductID, h.OldPrice, h.NewPrice, nullIfEmpty(h.Reason), h.ChangedBy, h.ChangedAt)
	return err
}

func (t *pgTx) CreateCart(ctx context.Context, c domain.Cart) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO carts (id, user_id, status, created_at)
		VALUES ($1, $2, $3, $4)
	`, c.ID, nullIfEmpty(c.UserID), c.Status, c.CreatedAt)
	return err
}

func (t *pgTx) GetCartForUpdate(ctx context.Context, id string) (*domain.Cart, error) {
	return getCart(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateCartStatus(ctx context.Context, c domain.Cart) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE carts
		SET status = $2, completed_at = $3, cancelled_at = $4
		WHERE id = $1
	`, c.ID, c.Status, nullTime(c.CompletedAt), nullTime(c.CancelledAt))
	if err != nil {
		return err
	}
	return expectOne(res, "cart", c.ID)
}

func (t *pgTx) InsertCartItem(ctx context.Context, item domain.CartItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, product_code, product_name, unit_price, quantity, subtotal, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.CartID, item.ProductID, item.ProductCode, item.ProductName,
		item.UnitPrice, item.Quantity, item.Subtotal, item.Position, item.CreatedAt)
	return err
}

func (t *pgTx) UpdateCartItem(ctx context.Context, item domain.CartItem) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE cart_items
		SET quantity = $3, subtotal = $4
		WHERE cart_id = $1 AND id = $2
	`, item.CartID, item.ID, item.Quantity, item.Subtotal)
	if err != nil {
		return err
	}
	return expectOne(res, "cart item", item.ID)
}

func (t *pgTx) DeleteCartItem(ctx context.Context, cartID string, itemID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND id = $2`, cartID, itemID)
	if err != nil {
		return err
	}
	return expectOne(res, "cart item", itemID)
}

func (t *pgTx) ClearCart(ctx context.Context, cartID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	return err
}

// NextTicketSequence holds the day's counter row lock until commit, so
// concurrent checkouts on the same day are numbered one after another.
func (t *pgTx) NextTicketSequence(ctx context.Context, day string) (int, error) {
	var seq int
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO ticket_sequences (day, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (day)
		DO UPDATE SET last_seq = ticket_sequences.last_seq + 1
		RETURNING last_seq
	`, day).Scan(&seq)
	return seq, err
}

func (t *pgTx) CreateTicket(ctx context.Context, ticket domain.SaleTicket) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sale_tickets (
			id, ticket_number, cart_id, cash_register_id, user_id,
			subtotal, tax, discount, total, payment_method, payment_reference,
			amount_paid, change_given, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, ticket.ID, ticket.TicketNumber, ticket.CartID, nullIfEmpty(ticket.CashRegisterID), ticket.UserID,
		ticket.Subtotal, ticket.Tax, ticket.Discount, ticket.Total, ticket.PaymentMethod, nullIfEmpty(ticket.PaymentReference),
		ticket.AmountPaid, ticket.ChangeGiven, ticket.Status, ticket.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Duplicate("ticket number %s already exists", ticket.TicketNumber)
		}
		return err
	}

	for i, item := range ticket.Items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_ticket_items (id, ticket_id, product_id, product_code, product_name, unit_price, quantity, subtotal, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, item.ID, ticket.ID, item.ProductID, item.ProductCode, item.ProductName,
			item.UnitPrice, item.Quantity, item.Subtotal, i+1); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) GetTicketForUpdate(ctx context.Context, id string) (*domain.SaleTicket, error) {
	return getTicket(ctx, t.tx, `id = $1`, id, true)
}

func (t *pgTx) UpdateTicketCancellation(ctx context.Context, ticket domain.SaleTicket) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sale_tickets
		SET status = $2, cancelled_at = $3, cancelled_by = $4, cancellation_reason = $5
		WHERE id = $1
	`, ticket.ID, ticket.Status, nullTime(ticket.CancelledAt), nullIfEmpty(ticket.CancelledBy), nullIfEmpty(ticket.CancellationReason))
	if err != nil {
		return err
	}
	return expectOne(res, "ticket", ticket.ID)
}

func (t *pgTx) CreateRegister(ctx context.Context, r domain.CashRegister) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cash_registers (
			id, user_id, opened_at, initial_cash,
			total_sales, total_cash, total_card, total_transfer, total_withdrawals, current_cash, cash_limit,
			num_transactions, status, notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, r.ID, r.UserID, r.OpenedAt, r.InitialCash,
		r.TotalSales, r.TotalCash, r.TotalCard, r.TotalTransfer, r.TotalWithdrawals, r.CurrentCash, r.CashLimit,
		r.NumTransactions, r.Status, nullIfEmpty(r.Notes))
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == "cash_registers_one_open_per_user" {
			return store.InvalidOperation("user already has an open cash register")
		}
		return err
	}
	return nil
}

func (t *pgTx) GetRegisterForUpdate(ctx context.Context, id string) (*domain.CashRegister, error) {
	return getRegister(ctx, t.tx, `id = $1`, id, true)
}

func (t *pgTx) GetOpenRegisterByUser(ctx context.Context, userID string) (*domain.CashRegister, error) {
	return getRegister(ctx, t.tx, `user_id = $1 AND status = 'open'`, userID, true)
}

func (t *pgTx) UpdateRegister(ctx context.Context, r domain.CashRegister) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE cash_registers
		SET closed_at = $2, final_cash = $3, expected_cash = $4, difference = $5,
			total_sales = $6, total_cash = $7, total_card = $8, total_transfer = $9,
			total_withdrawals = $10, current_cash = $11, cash_limit = $12,
			num_transactions = $13, status = $14, notes = $15
		WHERE id = $1
	`, r.ID, nullTime(r.ClosedAt), r.FinalCash, r.ExpectedCash, r.Difference,
		r.TotalSales, r.TotalCash, r.TotalCard, r.TotalTransfer,
		r.TotalWithdrawals, r.CurrentCash, r.CashLimit,
		r.NumTransactions, r.Status, nullIfEmpty(r.Notes))
	if err != nil {
		return err
	}
	return expectOne(res, "cash register", r.ID)
}

func (t *pgTx) CreateWithdrawal(ctx context.Context, w domain.CashWithdrawal) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cash_withdrawals (
			id, cash_register_id, user_id, amount, reason, notes,
			cash_before, cash_after, status, created_at, approved_by, approved_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, w.ID, w.CashRegisterID, w.UserID, w.Amount, w.Reason, nullIfEmpty(w.Notes),
		w.CashBefore, w.CashAfter, w.Status, w.CreatedAt, nullIfEmpty(w.ApprovedBy), nullTime(w.ApprovedAt))
	return err
}

func (t *pgTx) GetWithdrawalForUpdate(ctx context.Context, id string) (*domain.CashWithdrawal, error) {
	return getWithdrawal(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateWithdrawalStatus(ctx context.Context, w domain.CashWithdrawal) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE cash_withdrawals SET status = $2 WHERE id = $1`, w.ID, w.Status)
	if err != nil {
		return err
	}
	return expectOne(res, "withdrawal", w.ID)
}

func expectOne(res sql.Result, entity string, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.NotFound("%s %s not found", entity, id)
	}
	return nil
}

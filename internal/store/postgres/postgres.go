package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ApplySchema creates missing tables and indexes. Every statement is
// idempotent.
func (s *Store) ApplySchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

const productColumns = `id, code, barcode, name, category, unit, price, stock, min_stock, active, created_at, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var barcode sql.NullString
	err := row.Scan(&p.ID, &p.Code, &barcode, &p.Name, &p.Category, &p.Unit,
		&p.Price, &p.Stock, &p.MinStock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	p.Barcode = barcode.String
	return p, err
}

func getProduct(ctx context.Context, q queryer, where string, arg any, lock bool) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE ` + where
	if lock {
		query += ` FOR UPDATE`
	}
	p, err := scanProduct(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("product %v not found", arg)
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, s.db, `id = $1`, id, false)
}

func (s *Store) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	return getProduct(ctx, s.db, `code = $1`, code, false)
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return getProduct(ctx, s.db, `barcode = $1`, barcode, false)
}

func (s *Store) ListProducts(ctx context.Context, filter store.ProductFilter) ([]domain.Product, error) {
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1 OR active = true)
			AND ($2 = '' OR lower(category) = lower($2))
			AND ($3 = '' OR lower(name) LIKE '%' || $3 || '%'
				OR lower(code) LIKE '%' || $3 || '%'
				OR lower(coalesce(barcode, '')) LIKE '%' || $3 || '%')
		ORDER BY category, name
		OFFSET $4
		LIMIT $5
	`, filter.IncludeInactive, filter.Category, query, max(filter.Skip, 0), limitOrAll(filter.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, old_price, new_price, coalesce(reason, ''), changed_by, changed_at
		FROM price_history
		WHERE product_id = $1
		ORDER BY changed_at DESC, id DESC
		LIMIT $2
	`, productID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.PriceHistory, 0, 16)
	for rows.Next() {
		var h domain.PriceHistory
		if err := rows.Scan(&h.ID, &h.ProductID, &h.OldPrice, &h.NewPrice, &h.Reason, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func getCart(ctx context.Context, q queryer, id string, lock bool) (*domain.Cart, error) {
	query := `
		SELECT id, coalesce(user_id, ''), status, created_at, completed_at, cancelled_at
		FROM carts
		WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var c domain.Cart
	var completedAt, cancelledAt sql.NullTime
	err := q.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.UserID, &c.Status, &c.CreatedAt, &completedAt, &cancelledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("cart %s not found", id)
		}
		return nil, err
	}
	c.CompletedAt = timePtr(completedAt)
	c.CancelledAt = timePtr(cancelledAt)

	rows, err := q.QueryContext(ctx, `
		SELECT id, cart_id, product_id, product_code, product_name, unit_price, quantity, subtotal, position, created_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY position, id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	c.Items = make([]domain.CartItem, 0, 8)
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ID, &item.CartID, &item.ProductID, &item.ProductCode, &item.ProductName,
			&item.UnitPrice, &item.Quantity, &item.Subtotal, &item.Position, &item.CreatedAt); err != nil {
			return nil, err
		}
		c.Items = append(c.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetCart(ctx context.Context, id string) (*domain.Cart, error) {
	return getCart(ctx, s.db, id, false)
}

const ticketColumns = `id, ticket_number, cart_id, coalesce(cash_register_id, ''), user_id,
	subtotal, tax, discount, total, payment_method, coalesce(payment_reference, ''),
	amount_paid, change_given, status, created_at, cancelled_at,
	coalesce(cancelled_by, ''), coalesce(cancellation_reason, '')`

func scanTicket(row rowScanner) (domain.SaleTicket, error) {
	var t domain.SaleTicket
	var cancelledAt sql.NullTime
	err := row.Scan(&t.ID, &t.TicketNumber, &t.CartID, &t.CashRegisterID, &t.UserID,
		&t.Subtotal, &t.Tax, &t.Discount, &t.Total, &t.PaymentMethod, &t.PaymentReference,
		&t.AmountPaid, &t.ChangeGiven, &t.Status, &t.CreatedAt, &cancelledAt,
		&t.CancelledBy, &t.CancellationReason)
	t.CancelledAt = timePtr(cancelledAt)
	return t, err
}

func getTicket(ctx context.Context, q queryer, where string, arg any, lock bool) (*domain.SaleTicket, error) {
	query := `SELECT ` + ticketColumns + ` FROM sale_tickets WHERE ` + where
	if lock {
		query += ` FOR UPDATE`
	}
	t, err := scanTicket(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("ticket %v not found", arg)
		}
		return nil, err
	}
	tickets := []domain.SaleTicket{t}
	if err := loadTicketItems(ctx, q, tickets); err != nil {
		return nil, err
	}
	return &tickets[0], nil
}

func loadTicketItems(ctx context.Context, q queryer, tickets []domain.SaleTicket) error {
	if len(tickets) == 0 {
		return nil
	}
	ids := make([]string, 0, len(tickets))
	index := make(map[string]int, len(tickets))
	for i := range tickets {
		ids = append(ids, tickets[i].ID)
		index[tickets[i].ID] = i
		tickets[i].Items = []domain.SaleTicketItem{}
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, ticket_id, product_id, product_code, product_name, unit_price, quantity, subtotal
		FROM sale_ticket_items
		WHERE ticket_id = ANY($1)
		ORDER BY ticket_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.SaleTicketItem
		if err := rows.Scan(&item.ID, &item.TicketID, &item.ProductID, &item.ProductCode, &item.ProductName,
			&item.UnitPrice, &item.Quantity, &item.Subtotal); err != nil {
			return err
		}
		i := index[item.TicketID]
		tickets[i].Items = append(tickets[i].Items, item)
	}
	return rows.Err()
}

func (s *Store) GetTicket(ctx context.Context, id string) (*domain.SaleTicket, error) {
	return getTicket(ctx, s.db, `id = $1`, id, false)
}

func (s *Store) GetTicketByNumber(ctx context.Context, number string) (*domain.SaleTicket, error) {
	return getTicket(ctx, s.db, `ticket_number = $1`, number, false)
}

func (s *Store) ListTickets(ctx context.Context, filter domain.TicketFilter) ([]domain.SaleTicket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ticketColumns+`
		FROM sale_tickets
		WHERE ($1 = '' OR status = $1)
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC, ticket_number DESC
		OFFSET $4
		LIMIT $5
	`, filter.Status, nullTime(filter.From), nullTime(filter.To), max(filter.Skip, 0), limitOrAll(filter.Limit))
	if err != nil {
		return nil, err
	}
	return collectTickets(ctx, s.db, rows)
}

func (s *Store) ListTicketsByRegister(ctx context.Context, registerID string) ([]domain.SaleTicket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ticketColumns+`
		FROM sale_tickets
		WHERE cash_register_id = $1
		ORDER BY created_at DESC, ticket_number DESC
	`, registerID)
	if err != nil {
		return nil, err
	}
	return collectTickets(ctx, s.db, rows)
}

func collectTickets(ctx context.Context, q queryer, rows *sql.Rows) ([]domain.SaleTicket, error) {
	tickets := make([]domain.SaleTicket, 0, 32)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := loadTicketItems(ctx, q, tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

const registerColumns = `id, user_id, opened_at, closed_at, initial_cash, final_cash, expected_cash, difference,
	total_sales, total_cash, total_card, total_transfer, total_withdrawals, current_cash, cash_limit,
	num_transactions, status, coalesce(notes, '')`

func scanRegister(row rowScanner) (domain.CashRegister, error) {
	var r domain.CashRegister
	var closedAt sql.NullTime
	err := row.Scan(&r.ID, &r.UserID, &r.OpenedAt, &closedAt, &r.InitialCash, &r.FinalCash, &r.ExpectedCash, &r.Difference,
		&r.TotalSales, &r.TotalCash, &r.TotalCard, &r.TotalTransfer, &r.TotalWithdrawals, &r.CurrentCash, &r.CashLimit,
		&r.NumTransactions, &r.Status, &r.Notes)
	r.ClosedAt = timePtr(closedAt)
	return r, err
}

func getRegister(ctx context.Context, q queryer, where string, arg any, lock bool) (*domain.CashRegister, error) {
	query := `SELECT ` + registerColumns + ` FROM cash_registers WHERE ` + where
	if lock {
		query += ` FOR UPDATE`
	}
	r, err := scanRegister(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("cash register %v not found", arg)
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetRegister(ctx context.Context, id string) (*domain.CashRegister, error) {
	return getRegister(ctx, s.db, `id = $1`, id, false)
}

func (s *Store) FindOpenRegisterByUser(ctx context.Context, userID string) (*domain.CashRegister, error) {
	return getRegister(ctx, s.db, `user_id = $1 AND status = 'open'`, userID, false)
}

func (s *Store) ListRegisters(ctx context.Context, filter domain.RegisterFilter) ([]domain.CashRegister, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+registerColumns+`
		FROM cash_registers
		WHERE ($1 = '' OR status = $1)
			AND ($2 = '' OR user_id = $2)
			AND ($3::timestamptz IS NULL OR opened_at >= $3)
			AND ($4::timestamptz IS NULL OR opened_at < $4)
		ORDER BY opened_at DESC, id DESC
		OFFSET $5
		LIMIT $6
	`, filter.Status, filter.UserID, nullTime(filter.From), nullTime(filter.To), max(filter.Skip, 0), limitOrAll(filter.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	registers := make([]domain.CashRegister, 0, 16)
	for rows.Next() {
		r, err := scanRegister(rows)
		if err != nil {
			return nil, err
		}
		registers = append(registers, r)
	}
	return registers, rows.Err()
}

const withdrawalColumns = `id, cash_register_id, user_id, amount, reason, coalesce(notes, ''),
	cash_before, cash_after, status, created_at, coalesce(approved_by, ''), approved_at`

func scanWithdrawal(row rowScanner) (domain.CashWithdrawal, error) {
	var w domain.CashWithdrawal
	var approvedAt sql.NullTime
	err := row.Scan(&w.ID, &w.CashRegisterID, &w.UserID, &w.Amount, &w.Reason, &w.Notes,
		&w.CashBefore, &w.CashAfter, &w.Status, &w.CreatedAt, &w.ApprovedBy, &approvedAt)
	w.ApprovedAt = timePtr(approvedAt)
	return w, err
}

func getWithdrawal(ctx context.Context, q queryer, id string, lock bool) (*domain.CashWithdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM cash_withdrawals WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	w, err := scanWithdrawal(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("withdrawal %s not found", id)
		}
		return nil, err
	}
	return &w, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*domain.CashWithdrawal, error) {
	return getWithdrawal(ctx, s.db, id, false)
}

func (s *Store) ListWithdrawalsByRegister(ctx context.Context, registerID string) ([]domain.CashWithdrawal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM cash_withdrawals
		WHERE cash_register_id = $1
		ORDER BY created_at DESC, id DESC
	`, registerID)
	if err != nil {
		return nil, err
	}
	return collectWithdrawals(rows)
}

func (s *Store) ListWithdrawals(ctx context.Context, from time.Time, to time.Time) ([]domain.CashWithdrawal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM cash_withdrawals
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collectWithdrawals(rows)
}

func collectWithdrawals(rows *sql.Rows) ([]domain.CashWithdrawal, error) {
	defer rows.Close()
	result := make([]domain.CashWithdrawal, 0, 16)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Validation("username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, active, created_at)
		VALUES ($1, $2, $3, $4, true, $5)
	`, user.ID, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Duplicate("username %s already exists", username)
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, active, created_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&u.ID, &u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("user %s not found", username)
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.ID, &u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func isUniqueViolation(err error) bool {
	_, ok := uniqueViolation(err)
	return ok
}

// uniqueViolation returns the violated constraint name for SQLSTATE 23505.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func limitOrAll(limit int) any {
	if limit < 1 {
		return nil
	}
	return limit
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}

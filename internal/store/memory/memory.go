package memory

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

// Store keeps the ledger in process memory. Transactions are serialized by a
// single lock and run against a copy of the state that replaces the live
// state only when the callback succeeds.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	products         map[string]domain.Product
	productByCode    map[string]string
	productByBarcode map[string]string
	priceHistory     map[string][]domain.PriceHistory
	carts            map[string]domain.Cart
	cartItems        map[string][]domain.CartItem
	tickets          map[string]domain.SaleTicket
	ticketByNumber   map[string]string
	ticketSeq        map[string]int
	registers        map[string]domain.CashRegister
	withdrawals      map[string]domain.CashWithdrawal
	usersByUsername  map[string]domain.UserAccount
}

func newState() *state {
	return &state{
		products:         make(map[string]domain.Product),
		productByCode:    make(map[string]string),
		productByBarcode: make(map[string]string),
		priceHistory:     make(map[string][]domain.PriceHistory),
		carts:            make(map[string]domain.Cart),
		cartItems:        make(map[string][]domain.CartItem),
		tickets:          make(map[string]domain.SaleTicket),
		ticketByNumber:   make(map[string]string),
		ticketSeq:        make(map[string]int),
		registers:        make(map[string]domain.CashRegister),
		withdrawals:      make(map[string]domain.CashWithdrawal),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

func (s *state) clone() *state {
	dup := &state{
		products:         maps.Clone(s.products),
		productByCode:    maps.Clone(s.productByCode),
		productByBarcode: maps.Clone(s.productByBarcode),
		priceHistory:     make(map[string][]domain.PriceHistory, len(s.priceHistory)),
		carts:            maps.Clone(s.carts),
		cartItems:        make(map[string][]domain.CartItem, len(s.cartItems)),
		tickets:          maps.Clone(s.tickets),
		ticketByNumber:   maps.Clone(s.ticketByNumber),
		ticketSeq:        maps.Clone(s.ticketSeq),
		registers:        maps.Clone(s.registers),
		withdrawals:      maps.Clone(s.withdrawals),
		usersByUsername:  maps.Clone(s.usersByUsername),
	}
	for id, history := range s.priceHistory {
		dup.priceHistory[id] = slices.Clone(history)
	}
	for id, items := range s.cartItems {
		dup.cartItems[id] = slices.Clone(items)
	}
	return dup
}

func New() *Store {
	return &Store{st: newState()}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD. If unset, dev defaults are used with a warning.
// The seed is never applied when DATABASE_URL selects PostgreSQL.
func seedUsers(now time.Time) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store using default dev credentials; set SEED_*_PASSWORD to override")
	}

	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"manager", managerPwd, domain.RoleManager},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic("memory store: hash seed password for " + u.username + ": " + err.Error())
		}
		users[u.username] = domain.UserAccount{
			ID:        xid.New("usr"),
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo products and the seed users.
func NewSeeded() *Store {
	now := time.Now().UTC()
	s := New()
	products := []struct {
		code, barcode, name, category, unit, price, stock, minStock string
	}{
		{"CAF-001", "7501000000017", "Ground Coffee 500g", "grocery", "unit", "89.90", "40", "5"},
		{"LEC-001", "7501000000024", "Whole Milk 1L", "dairy", "unit", "24.50", "60", "10"},
		{"PAN-001", "7501000000031", "Sliced Bread", "bakery", "unit", "42.00", "25", "5"},
		{"AZU-001", "7501000000048", "Sugar", "grocery", "kg", "31.75", "80.5", "10"},
		{"AGU-001", "7501000000055", "Mineral Water 600ml", "beverage", "unit", "12.00", "120", "24"},
		{"HUE-001", "7501000000062", "Eggs Dozen", "grocery", "unit", "48.00", "30", "6"},
		{"JAB-001", "7501000000079", "Bath Soap", "household", "unit", "18.90", "45", "8"},
		{"QUE-001", "", "Fresh Cheese", "dairy", "kg", "129.00", "12.25", "2"},
	}
	for _, p := range products {
		product := domain.Product{
			ID:        xid.New("prd"),
			Code:      p.code,
			Barcode:   p.barcode,
			Name:      p.name,
			Category:  p.category,
			Unit:      p.unit,
			Price:     decimal.RequireFromString(p.price),
			Stock:     decimal.RequireFromString(p.stock),
			MinStock:  decimal.RequireFromString(p.minStock),
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.st.putProduct(product)
	}
	s.st.usersByUsername = seedUsers(now)
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.product(id)
}

func (s *Store) GetProductByCode(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.st.productByCode[code]
	if !ok {
		return nil, store.NotFound("product with code %s not found", code)
	}
	return s.st.product(id)
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.st.productByBarcode[barcode]
	if !ok {
		return nil, store.NotFound("product with barcode %s not found", barcode)
	}
	return s.st.product(id)
}

func (s *Store) ListProducts(_ context.Context, filter store.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	products := make([]domain.Product, 0, len(s.st.products))
	for _, p := range s.st.products {
		if !p.Active && !filter.IncludeInactive {
			continue
		}
		if filter.Category != "" && !strings.EqualFold(p.Category, filter.Category) {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(p.Name), query) &&
			!strings.Contains(strings.ToLower(p.Code), query) &&
			!strings.Contains(strings.ToLower(p.Barcode), query) {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return page(products, filter.Skip, filter.Limit), nil
}

func (s *Store) ListPriceHistory(_ context.Context, productID string, limit int) ([]domain.PriceHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := slices.Clone(s.st.priceHistory[productID])
	slices.SortStableFunc(result, func(a, b domain.PriceHistory) int {
		return b.ChangedAt.Compare(a.ChangedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	if result == nil {
		result = []domain.PriceHistory{}
	}
	return result, nil
}

func (s *Store) GetCart(_ context.Context, id string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.cart(id)
}

func (s *Store) GetTicket(_ context.Context, id string) (*domain.SaleTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ticket(id)
}

func (s *Store) GetTicketByNumber(_ context.Context, number string) (*domain.SaleTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.st.ticketByNumber[number]
	if !ok {
		return nil, store.NotFound("ticket %s not found", number)
	}
	return s.st.ticket(id)
}

func (s *Store) ListTickets(_ context.Context, filter domain.TicketFilter) ([]domain.SaleTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tickets := make([]domain.SaleTicket, 0)
	for _, t := range s.st.tickets {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if !inRange(t.CreatedAt, filter.From, filter.To) {
			continue
		}
		tickets = append(tickets, cloneTicket(t))
	}
	sortTicketsNewestFirst(tickets)
	return page(tickets, filter.Skip, filter.Limit), nil
}

func (s *Store) ListTicketsByRegister(_ context.Context, registerID string) ([]domain.SaleTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tickets := make([]domain.SaleTicket, 0)
	for _, t := range s.st.tickets {
		if t.CashRegisterID == registerID {
			tickets = append(tickets, cloneTicket(t))
		}
	}
	sortTicketsNewestFirst(tickets)
	return tickets, nil
}

func (s *Store) GetRegister(_ context.Context, id string) (*domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.register(id)
}

func (s *Store) FindOpenRegisterByUser(_ context.Context, userID string) (*domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.openRegisterByUser(userID)
}

func (s *Store) ListRegisters(_ context.Context, filter domain.RegisterFilter) ([]domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	registers := make([]domain.CashRegister, 0)
	for _, r := range s.st.registers {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		if !inRange(r.OpenedAt, filter.From, filter.To) {
			continue
		}
		registers = append(registers, r)
	}
	slices.SortFunc(registers, func(a, b domain.CashRegister) int {
		if c := b.OpenedAt.Compare(a.OpenedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return page(registers, filter.Skip, filter.Limit), nil
}

func (s *Store) GetWithdrawal(_ context.Context, id string) (*domain.CashWithdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.withdrawal(id)
}

func (s *Store) ListWithdrawalsByRegister(_ context.Context, registerID string) ([]domain.CashWithdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashWithdrawal, 0)
	for _, w := range s.st.withdrawals {
		if w.CashRegisterID == registerID {
			result = append(result, w)
		}
	}
	sortWithdrawalsNewestFirst(result)
	return result, nil
}

func (s *Store) ListWithdrawals(_ context.Context, from time.Time, to time.Time) ([]domain.CashWithdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashWithdrawal, 0)
	for _, w := range s.st.withdrawals {
		if inRange(w.CreatedAt, &from, &to) {
			result = append(result, w)
		}
	}
	sortWithdrawalsNewestFirst(result)
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Validation("username and password are required")
	}
	if _, exists := s.st.usersByUsername[username]; exists {
		return store.Duplicate("username %s already exists", username)
	}
	user.Username = username
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.st.usersByUsername[username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.st.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.NotFound("user %s not found", username)
	}
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := slices.Collect(maps.Values(s.st.usersByUsername))
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *state) putProduct(p domain.Product) {
	if old, ok := s.products[p.ID]; ok {
		delete(s.productByCode, old.Code)
		if old.Barcode != "" {
			delete(s.productByBarcode, old.Barcode)
		}
	}
	s.products[p.ID] = p
	s.productByCode[p.Code] = p.ID
	if p.Barcode != "" {
		s.productByBarcode[p.Barcode] = p.ID
	}
}

func (s *state) product(id string) (*domain.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, store.NotFound("product %s not found", id)
	}
	return &p, nil
}

func (s *state) cart(id string) (*domain.Cart, error) {
	c, ok := s.carts[id]
	if !ok {
		return nil, store.NotFound("cart %s not found", id)
	}
	c.Items = slices.Clone(s.cartItems[id])
	if c.Items == nil {
		c.Items = []domain.CartItem{}
	}
	return &c, nil
}

func (s *state) ticket(id string) (*domain.SaleTicket, error) {
	t, ok := s.tickets[id]
	if !ok {
		return nil, store.NotFound("ticket %s not found", id)
	}
	dup := cloneTicket(t)
	return &dup, nil
}

func (s *state) register(id string) (*domain.CashRegister, error) {
	r, ok := s.registers[id]
	if !ok {
		return nil, store.NotFound("cash register %s not found", id)
	}
	return &r, nil
}

func (s *state) openRegisterByUser(userID string) (*domain.CashRegister, error) {
	for _, r := range s.registers {
		if r.UserID == userID && r.Status == domain.RegisterStatusOpen {
			return &r, nil
		}
	}
	return nil, store.NotFound("no open cash register for user %s", userID)
}

func (s *state) withdrawal(id string) (*domain.CashWithdrawal, error) {
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, store.NotFound("withdrawal %s not found", id)
	}
	return &w, nil
}

func page[T any](items []T, skip int, limit int) []T {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(items) {
		return []T{}
	}
	items = items[skip:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func inRange(at time.Time, from *time.Time, to *time.Time) bool {
	if from != nil && at.Before(*from) {
		return false
	}
	if to != nil && !at.Before(*to) {
		return false
	}
	return true
}

func sortTicketsNewestFirst(tickets []domain.SaleTicket) {
	slices.SortFunc(tickets, func(a, b domain.SaleTicket) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.TicketNumber, a.TicketNumber)
	})
}

func sortWithdrawalsNewestFirst(result []domain.CashWithdrawal) {
	slices.SortFunc(result, func(a, b domain.CashWithdrawal) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
}

func cloneTicket(src domain.SaleTicket) domain.SaleTicket {
	dup := src
	dup.Items = slices.Clone(src.Items)
	if dup.Items == nil {
		dup.Items = []domain.SaleTicketItem{}
	}
	return dup
}

package store

import (
	"context"
	"time"

	"posledger/backend/internal/domain"
)

// Store is the ledger store. Reads outside WithTx see committed state only.
type Store interface {
	// WithTx runs fn inside one transaction. A non-nil error from fn rolls
	// back every write made through the Tx.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductByCode(ctx context.Context, code string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, error)
	ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistory, error)

	GetCart(ctx context.Context, id string) (*domain.Cart, error)

	GetTicket(ctx context.Context, id string) (*domain.SaleTicket, error)
	GetTicketByNumber(ctx context.Context, number string) (*domain.SaleTicket, error)
	ListTickets(ctx context.Context, filter domain.TicketFilter) ([]domain.SaleTicket, error)
	ListTicketsByRegister(ctx context.Context, registerID string) ([]domain.SaleTicket, error)

	GetRegister(ctx context.Context, id string) (*domain.CashRegister, error)
	FindOpenRegisterByUser(ctx context.Context, userID string) (*domain.CashRegister, error)
	ListRegisters(ctx context.Context, filter domain.RegisterFilter) ([]domain.CashRegister, error)

	GetWithdrawal(ctx context.Context, id string) (*domain.CashWithdrawal, error)
	ListWithdrawalsByRegister(ctx context.Context, registerID string) ([]domain.CashWithdrawal, error)
	ListWithdrawals(ctx context.Context, from time.Time, to time.Time) ([]domain.CashWithdrawal, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

// Tx is the transaction-scoped view handed to WithTx callbacks. The
// ForUpdate reads hold a row lock until the transaction ends.
type Tx interface {
	GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	// GetProductsForUpdate locks rows in ascending id order and returns them
	// keyed by id. Missing ids are absent from the map.
	GetProductsForUpdate(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) error
	UpdateProduct(ctx context.Context, product domain.Product) error
	CreatePriceHistory(ctx context.Context, entry domain.PriceHistory) error

	CreateCart(ctx context.Context, cart domain.Cart) error
	// GetCartForUpdate returns the cart with its items in insertion order.
	GetCartForUpdate(ctx context.Context, id string) (*domain.Cart, error)
	UpdateCartStatus(ctx context.Context, cart domain.Cart) error
	InsertCartItem(ctx context.Context, item domain.CartItem) error
	UpdateCartItem(ctx context.Context, item domain.CartItem) error
	DeleteCartItem(ctx context.Context, cartID string, itemID string) error
	ClearCart(ctx context.Context, cartID string) error

	// NextTicketSequence atomically allocates the next 1-based sequence for a
	// UTC day (YYYYMMDD).
	NextTicketSequence(ctx context.Context, day string) (int, error)
	CreateTicket(ctx context.Context, ticket domain.SaleTicket) error
	GetTicketForUpdate(ctx context.Context, id string) (*domain.SaleTicket, error)
	UpdateTicketCancellation(ctx context.Context, ticket domain.SaleTicket) error

	CreateRegister(ctx context.Context, register domain.CashRegister) error
	GetRegisterForUpdate(ctx context.Context, id string) (*domain.CashRegister, error)
	GetOpenRegisterByUser(ctx context.Context, userID string) (*domain.CashRegister, error)
	UpdateRegister(ctx context.Context, register domain.CashRegister) error

	CreateWithdrawal(ctx context.Context, withdrawal domain.CashWithdrawal) error
	GetWithdrawalForUpdate(ctx context.Context, id string) (*domain.CashWithdrawal, error)
	UpdateWithdrawalStatus(ctx context.Context, withdrawal domain.CashWithdrawal) error
}

type ProductFilter struct {
	IncludeInactive bool
	Category        string
	// Query matches name, code or barcode, case-insensitive.
	Query string
	Skip  int
	Limit int
}

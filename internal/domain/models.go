package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MoneyPlaces is the scale of every monetary column.
	MoneyPlaces int32 = 2
	// QtyPlaces is the scale of stock and line quantities.
	QtyPlaces int32 = 4
)

type Product struct {
	ID        string          `json:"id"`
	Code      string          `json:"code"`
	Barcode   string          `json:"barcode,omitempty"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Unit      string          `json:"unit"`
	Price     decimal.Decimal `json:"price"`
	Stock     decimal.Decimal `json:"stock"`
	MinStock  decimal.Decimal `json:"min_stock"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Code     string          `json:"code" validate:"required,max=64"`
	Barcode  string          `json:"barcode" validate:"max=64"`
	Name     string          `json:"name" validate:"required,max=200"`
	Category string          `json:"category" validate:"required,max=100"`
	Unit     string          `json:"unit" validate:"required,max=32"`
	Price    decimal.Decimal `json:"price" validate:"gte=0"`
	Stock    decimal.Decimal `json:"stock" validate:"gte=0"`
	MinStock decimal.Decimal `json:"min_stock" validate:"gte=0"`
}

type ProductUpdateRequest struct {
	Code     *string          `json:"code,omitempty" validate:"omitempty,min=1,max=64"`
	Barcode  *string          `json:"barcode,omitempty" validate:"omitempty,max=64"`
	Name     *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Category *string          `json:"category,omitempty" validate:"omitempty,min=1,max=100"`
	Unit     *string          `json:"unit,omitempty" validate:"omitempty,min=1,max=32"`
	MinStock *decimal.Decimal `json:"min_stock,omitempty" validate:"omitempty,gte=0"`
	Active   *bool            `json:"active,omitempty"`
}

type StockUpdateRequest struct {
	Stock decimal.Decimal `json:"stock" validate:"gte=0"`
}

type PriceUpdateRequest struct {
	Price  decimal.Decimal `json:"price" validate:"gte=0"`
	Reason string          `json:"reason" validate:"max=255"`
}

type BulkPriceItem struct {
	ProductID string          `json:"product_id" validate:"required"`
	Price     decimal.Decimal `json:"price" validate:"gte=0"`
	Reason    string          `json:"reason" validate:"max=255"`
}

type BulkPriceRequest struct {
	Items []BulkPriceItem `json:"items" validate:"required,min=1,max=500,dive"`
}

type BulkPriceResponse struct {
	Updated []Product `json:"updated"`
}

// PriceHistory is append-only; rows are written in the same transaction as the price change.
type PriceHistory struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	Reason    string          `json:"reason,omitempty"`
	ChangedBy string          `json:"changed_by"`
	ChangedAt time.Time       `json:"changed_at"`
}

type InventorySummary struct {
	TotalProducts    int             `json:"total_products"`
	ActiveProducts   int             `json:"active_products"`
	InactiveProducts int             `json:"inactive_products"`
	LowStock         []Product       `json:"low_stock"`
	StockValue       decimal.Decimal `json:"stock_value"`
}

// ProductSnapshot is a copy of product fields frozen when a line is written.
// It is never refreshed from the live product row.
type ProductSnapshot struct {
	ProductID   string          `json:"product_id"`
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func SnapshotOf(p Product) ProductSnapshot {
	return ProductSnapshot{
		ProductID:   p.ID,
		ProductCode: p.Code,
		ProductName: p.Name,
		UnitPrice:   p.Price,
	}
}

type Cart struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	// Items and Total are filled on read; Total is never persisted.
	Items []CartItem      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

type CartItem struct {
	ID     string `json:"id"`
	CartID string `json:"cart_id"`
	ProductSnapshot
	Quantity decimal.Decimal `json:"quantity"`
	Subtotal decimal.Decimal `json:"subtotal"`
	// Position keeps insertion order.
	Position  int       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type AddCartItemRequest struct {
	ProductID string          `json:"product_id" validate:"required_without_all=Code Barcode"`
	Code      string          `json:"code"`
	Barcode   string          `json:"barcode"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
}

type UpdateCartItemRequest struct {
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
}

type CartStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=cancelled"`
}

type SaleTicket struct {
	ID                 string              `json:"id"`
	TicketNumber       string              `json:"ticket_number"`
	CartID             string              `json:"cart_id"`
	CashRegisterID     string              `json:"cash_register_id,omitempty"`
	UserID             string              `json:"user_id"`
	Subtotal           decimal.Decimal     `json:"subtotal"`
	Tax                decimal.Decimal     `json:"tax"`
	Discount           decimal.Decimal     `json:"discount"`
	Total              decimal.Decimal     `json:"total"`
	PaymentMethod      string              `json:"payment_method"`
	PaymentReference   string              `json:"payment_reference,omitempty"`
	AmountPaid         decimal.NullDecimal `json:"amount_paid"`
	ChangeGiven        decimal.NullDecimal `json:"change_given"`
	Status             string              `json:"status"`
	CreatedAt          time.Time           `json:"created_at"`
	CancelledAt        *time.Time          `json:"cancelled_at,omitempty"`
	CancelledBy        string              `json:"cancelled_by,omitempty"`
	CancellationReason string              `json:"cancellation_reason,omitempty"`
	Items              []SaleTicketItem    `json:"items"`
}

// SaleTicketItem is a frozen copy of a cart line at sale time. ProductID is
// not a foreign key so the row survives product removal.
type SaleTicketItem struct {
	ID       string `json:"id"`
	TicketID string `json:"ticket_id"`
	ProductSnapshot
	Quantity decimal.Decimal `json:"quantity"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type CreateTicketRequest struct {
	CartID           string           `json:"cart_id" validate:"required"`
	PaymentMethod    string           `json:"payment_method" validate:"required,oneof=cash card transfer"`
	PaymentReference string           `json:"payment_reference" validate:"max=128"`
	AmountPaid       *decimal.Decimal `json:"amount_paid,omitempty" validate:"omitempty,gte=0"`
	Tax              decimal.Decimal  `json:"tax" validate:"gte=0"`
	Discount         decimal.Decimal  `json:"discount" validate:"gte=0"`
	CashRegisterID   string           `json:"cash_register_id,omitempty"`
}

type CancelTicketRequest struct {
	Reason string `json:"reason" validate:"required,min=5,max=500"`
}

type TicketFilter struct {
	Status string
	From   *time.Time
	To     *time.Time
	Skip   int
	Limit  int
}

type CashRegister struct {
	ID               string              `json:"id"`
	UserID           string              `json:"user_id"`
	OpenedAt         time.Time           `json:"opened_at"`
	ClosedAt         *time.Time          `json:"closed_at,omitempty"`
	InitialCash      decimal.Decimal     `json:"initial_cash"`
	FinalCash        decimal.NullDecimal `json:"final_cash"`
	ExpectedCash     decimal.NullDecimal `json:"expected_cash"`
	Difference       decimal.NullDecimal `json:"difference"`
	TotalSales       decimal.Decimal     `json:"total_sales"`
	TotalCash        decimal.Decimal     `json:"total_cash"`
	TotalCard        decimal.Decimal     `json:"total_card"`
	TotalTransfer    decimal.Decimal     `json:"total_transfer"`
	TotalWithdrawals decimal.Decimal     `json:"total_withdrawals"`
	CurrentCash      decimal.Decimal     `json:"current_cash"`
	CashLimit        decimal.Decimal     `json:"cash_limit"`
	NumTransactions  int                 `json:"num_transactions"`
	Status           string              `json:"status"`
	Notes            string              `json:"notes,omitempty"`
}

type OpenRegisterRequest struct {
	InitialCash decimal.Decimal  `json:"initial_cash" validate:"gte=0"`
	CashLimit   *decimal.Decimal `json:"cash_limit,omitempty" validate:"omitempty,gte=0"`
	Notes       string           `json:"notes" validate:"max=1000"`
}

type CloseRegisterRequest struct {
	FinalCash decimal.Decimal `json:"final_cash" validate:"gte=0"`
	Notes     string          `json:"notes" validate:"max=1000"`
}

type RegisterFilter struct {
	Status string
	UserID string
	From   *time.Time
	To     *time.Time
	Skip   int
	Limit  int
}

type RegisterSummary struct {
	Register         CashRegister `json:"register"`
	Tickets          []SaleTicket `json:"tickets"`
	CompletedTickets int          `json:"completed_tickets"`
	CancelledTickets int          `json:"cancelled_tickets"`
}

// RegisterTotals are the running counters of a register session.
type RegisterTotals struct {
	TotalSales       decimal.Decimal `json:"total_sales"`
	TotalCash        decimal.Decimal `json:"total_cash"`
	TotalCard        decimal.Decimal `json:"total_card"`
	TotalTransfer    decimal.Decimal `json:"total_transfer"`
	TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	CurrentCash      decimal.Decimal `json:"current_cash"`
	NumTransactions  int             `json:"num_transactions"`
}

type RegisterReconciliation struct {
	RegisterID string         `json:"register_id"`
	Persisted  RegisterTotals `json:"persisted"`
	Recomputed RegisterTotals `json:"recomputed"`
	Balanced   bool           `json:"balanced"`
}

type DailySales struct {
	Date             string          `json:"date"`
	NumTickets       int             `json:"num_tickets"`
	CancelledTickets int             `json:"cancelled_tickets"`
	TotalSales       decimal.Decimal `json:"total_sales"`
	TotalCash        decimal.Decimal `json:"total_cash"`
	TotalCard        decimal.Decimal `json:"total_card"`
	TotalTransfer    decimal.Decimal `json:"total_transfer"`
	TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	NumRegisters     int             `json:"num_registers"`
	OpenRegisters    int             `json:"open_registers"`
	ClosedRegisters  int             `json:"closed_registers"`
}

// Dashboard periods. Each covers whole UTC days ending today: today is one
// day, week 7, month 30, quarter 90 and year 365.
const (
	PeriodToday   = "today"
	PeriodWeek    = "week"
	PeriodMonth   = "month"
	PeriodQuarter = "quarter"
	PeriodYear    = "year"
)

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type AmountComparison struct {
	Total          decimal.Decimal `json:"total"`
	PreviousPeriod decimal.Decimal `json:"previous_period"`
	ChangePercent  decimal.Decimal `json:"change_percent"`
}

type CountComparison struct {
	Total          int             `json:"total"`
	PreviousPeriod int             `json:"previous_period"`
	ChangePercent  decimal.Decimal `json:"change_percent"`
}

type PaymentBreakdown struct {
	Method     string          `json:"method"`
	Total      decimal.Decimal `json:"total"`
	Count      int             `json:"count"`
	Percentage decimal.Decimal `json:"percentage"`
}

type InventoryHealth struct {
	TotalProducts int             `json:"total_products"`
	LowStockItems int             `json:"low_stock_items"`
	StockHealth   decimal.Decimal `json:"stock_health"`
}

type DashboardSummary struct {
	Period         string             `json:"period"`
	DateRange      DateRange          `json:"date_range"`
	Sales          AmountComparison   `json:"sales"`
	Transactions   CountComparison    `json:"transactions"`
	AverageTicket  decimal.Decimal    `json:"average_ticket"`
	PaymentMethods []PaymentBreakdown `json:"payment_methods"`
	Inventory      InventoryHealth    `json:"inventory"`
	GeneratedAt    time.Time          `json:"generated_at"`
}

type MonthlySales struct {
	Period     string          `json:"period"`
	MonthName  string          `json:"month_name"`
	TotalSales decimal.Decimal `json:"total_sales"`
	NumTickets int             `json:"num_tickets"`
	AvgTicket  decimal.Decimal `json:"avg_ticket"`
}

type SalesByMonth struct {
	Data           []MonthlySales `json:"data"`
	MonthsAnalyzed int            `json:"months_analyzed"`
}

type TopProduct struct {
	ProductID         string          `json:"product_id"`
	Name              string          `json:"name"`
	Category          string          `json:"category"`
	QuantitySold      decimal.Decimal `json:"quantity_sold"`
	Revenue           decimal.Decimal `json:"revenue"`
	NumOrders         int             `json:"num_orders"`
	PercentageOfTotal decimal.Decimal `json:"percentage_of_total"`
}

type TopProducts struct {
	Period       string          `json:"period"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	Products     []TopProduct    `json:"products"`
}

type CategorySales struct {
	Category     string          `json:"category"`
	Revenue      decimal.Decimal `json:"revenue"`
	QuantitySold decimal.Decimal `json:"quantity_sold"`
	NumProducts  int             `json:"num_products"`
	Percentage   decimal.Decimal `json:"percentage"`
}

type SalesByCategory struct {
	Period       string          `json:"period"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	Categories   []CategorySales `json:"categories"`
}

type HourlySales struct {
	Hour       string          `json:"hour"`
	TotalSales decimal.Decimal `json:"total_sales"`
	NumTickets int             `json:"num_tickets"`
}

type SalesByHour struct {
	Date   string        `json:"date"`
	Hourly []HourlySales `json:"hourly_distribution"`
}

type CashierStats struct {
	UserID     string          `json:"user_id"`
	Username   string          `json:"username"`
	Role       string          `json:"role"`
	TotalSales decimal.Decimal `json:"total_sales"`
	NumTickets int             `json:"num_tickets"`
	AvgTicket  decimal.Decimal `json:"avg_ticket"`
}

type CashierPerformance struct {
	Period   string         `json:"period"`
	Cashiers []CashierStats `json:"cashiers"`
}

type CashWithdrawal struct {
	ID             string          `json:"id"`
	CashRegisterID string          `json:"cash_register_id"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	Notes          string          `json:"notes,omitempty"`
	CashBefore     decimal.Decimal `json:"cash_before"`
	CashAfter      decimal.Decimal `json:"cash_after"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	ApprovedBy     string          `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
}

type CreateWithdrawalRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Reason string          `json:"reason" validate:"required,oneof=security_limit end_of_shift deposit other"`
	Notes  string          `json:"notes" validate:"max=1000"`
}

type ReasonTotal struct {
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

type WithdrawalSummary struct {
	RegisterID       string                 `json:"register_id"`
	TotalWithdrawals int                    `json:"total_withdrawals"`
	TotalAmount      decimal.Decimal        `json:"total_amount"`
	ByReason         map[string]ReasonTotal `json:"by_reason"`
	Withdrawals      []CashWithdrawal       `json:"withdrawals"`
}

// LimitStatus is advisory; it never blocks sales or withdrawals.
type LimitStatus struct {
	Status              string          `json:"status"`
	AlertLevel          string          `json:"alert_level"`
	Message             string          `json:"message"`
	CurrentCash         decimal.Decimal `json:"current_cash"`
	CashLimit           decimal.Decimal `json:"cash_limit"`
	Excess              decimal.Decimal `json:"excess"`
	SuggestedWithdrawal decimal.Decimal `json:"suggested_withdrawal"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	UserID   string
	Username string
	Role     string
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	Role     string `json:"role" validate:"required,oneof=admin manager cashier"`
}

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	CartStatusOpen      = "open"
	CartStatusCompleted = "completed"
	CartStatusCancelled = "cancelled"
)

const (
	TicketStatusCompleted = "completed"
	TicketStatusCancelled = "cancelled"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
)

const (
	RegisterStatusOpen   = "open"
	RegisterStatusClosed = "closed"
)

const (
	WithdrawalStatusCompleted = "completed"
	WithdrawalStatusCancelled = "cancelled"
)

const (
	WithdrawalReasonSecurityLimit = "security_limit"
	WithdrawalReasonEndOfShift    = "end_of_shift"
	WithdrawalReasonDeposit       = "deposit"
	WithdrawalReasonOther         = "other"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

func IsPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return true
	}
	return false
}

func IsWithdrawalReason(reason string) bool {
	switch reason {
	case WithdrawalReasonSecurityLimit, WithdrawalReasonEndOfShift, WithdrawalReasonDeposit, WithdrawalReasonOther:
		return true
	}
	return false
}

func IsRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleCashier:
		return true
	}
	return false
}

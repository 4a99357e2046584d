// Package ledger holds the arithmetic and state rules of the sales pipeline.
// Nothing here touches storage; callers apply the results inside a store
// transaction.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

var (
	MaxProductPrice = decimal.NewFromInt(1_000_000)
	MaxWithdrawal   = decimal.NewFromInt(50_000)

	criticalRatio = decimal.RequireFromString("0.5")
	warningRatio  = decimal.RequireFromString("0.2")
	hundred       = decimal.NewFromInt(100)
)

// Money rounds to cents, half away from zero.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(domain.MoneyPlaces)
}

func Qty(d decimal.Decimal) decimal.Decimal {
	return d.Round(domain.QtyPlaces)
}

func LineSubtotal(unitPrice decimal.Decimal, quantity decimal.Decimal) decimal.Decimal {
	return Money(unitPrice.Mul(quantity))
}

func CartTotal(items []domain.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal)
	}
	return Money(total)
}

func ValidateQuantity(quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return store.Validation("quantity must be greater than zero")
	}
	if !Qty(quantity).Equal(quantity) {
		return store.Validation("quantity supports at most %d decimal places", domain.QtyPlaces)
	}
	return nil
}

func ValidatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return store.Validation("price must not be negative")
	}
	if price.GreaterThan(MaxProductPrice) {
		return store.Validation("price must not exceed %s", MaxProductPrice.StringFixed(domain.MoneyPlaces))
	}
	if !Money(price).Equal(price) {
		return store.Validation("price supports at most %d decimal places", domain.MoneyPlaces)
	}
	return nil
}

// ValidateAmount rejects negative amounts and amounts finer than a cent.
func ValidateAmount(name string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return store.Validation("%s must not be negative", name)
	}
	if !Money(amount).Equal(amount) {
		return store.Validation("%s supports at most %d decimal places", name, domain.MoneyPlaces)
	}
	return nil
}

// ComputeTotals returns subtotal + tax - discount; a negative result is rejected.
// Tax and discount must already be whole cents so the stored parts add up
// to the stored total.
func ComputeTotals(subtotal decimal.Decimal, tax decimal.Decimal, discount decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateAmount("tax", tax); err != nil {
		return decimal.Zero, err
	}
	if err := ValidateAmount("discount", discount); err != nil {
		return decimal.Zero, err
	}
	total := Money(subtotal.Add(tax).Sub(discount))
	if total.IsNegative() {
		return decimal.Zero, store.Validation("total must not be negative: subtotal %s, tax %s, discount %s",
			subtotal.StringFixed(domain.MoneyPlaces), tax.StringFixed(domain.MoneyPlaces), discount.StringFixed(domain.MoneyPlaces))
	}
	return total, nil
}

// ComputeChange records amountPaid as given and computes change only for cash
// payments that supply it.
func ComputeChange(method string, amountPaid *decimal.Decimal, total decimal.Decimal) (decimal.NullDecimal, decimal.NullDecimal, error) {
	if amountPaid == nil {
		return decimal.NullDecimal{}, decimal.NullDecimal{}, nil
	}
	paid := *amountPaid
	if err := ValidateAmount("amount paid", paid); err != nil {
		return decimal.NullDecimal{}, decimal.NullDecimal{}, err
	}
	if method != domain.PaymentCash {
		return decimal.NewNullDecimal(paid), decimal.NullDecimal{}, nil
	}
	if paid.LessThan(total) {
		return decimal.NullDecimal{}, decimal.NullDecimal{}, store.Validation("insufficient payment: total %s, received %s",
			total.StringFixed(domain.MoneyPlaces), paid.StringFixed(domain.MoneyPlaces))
	}
	return decimal.NewNullDecimal(paid), decimal.NewNullDecimal(paid.Sub(total)), nil
}

func CheckStock(product domain.Product, quantity decimal.Decimal) error {
	if product.Stock.LessThan(quantity) {
		return store.InsufficientStock(product.ID, product.Name, product.Stock, quantity)
	}
	return nil
}

func TicketDay(at time.Time) string {
	return at.UTC().Format("20060102")
}

func TicketNumber(day string, seq int) string {
	return fmt.Sprintf("TKT-%s-%04d", day, seq)
}

func AvailableCash(register domain.CashRegister) decimal.Decimal {
	return Money(register.InitialCash.Add(register.TotalCash).Sub(register.TotalWithdrawals))
}

func ApplySale(register *domain.CashRegister, total decimal.Decimal, method string) error {
	return adjustSale(register, total, method, 1)
}

func ReverseSale(register *domain.CashRegister, total decimal.Decimal, method string) error {
	return adjustSale(register, total, method, -1)
}

func adjustSale(register *domain.CashRegister, total decimal.Decimal, method string, sign int64) error {
	amount := total.Mul(decimal.NewFromInt(sign))
	switch method {
	case domain.PaymentCash:
		register.TotalCash = Money(register.TotalCash.Add(amount))
	case domain.PaymentCard:
		register.TotalCard = Money(register.TotalCard.Add(amount))
	case domain.PaymentTransfer:
		register.TotalTransfer = Money(register.TotalTransfer.Add(amount))
	default:
		return store.Validation("unknown payment method %q", method)
	}
	register.TotalSales = Money(register.TotalSales.Add(amount))
	register.NumTransactions += int(sign)
	register.CurrentCash = AvailableCash(*register)
	return nil
}

// ApplyWithdrawal checks the amount against the available cash and returns
// the before/after balances. The register is only modified on success.
func ApplyWithdrawal(register *domain.CashRegister, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if err := ValidateWithdrawalAmount(amount); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	before := AvailableCash(*register)
	if amount.GreaterThan(before) {
		return decimal.Zero, decimal.Zero, store.InvalidOperation("insufficient cash: available %s, requested %s",
			before.StringFixed(domain.MoneyPlaces), amount.StringFixed(domain.MoneyPlaces))
	}
	register.TotalWithdrawals = Money(register.TotalWithdrawals.Add(amount))
	register.CurrentCash = AvailableCash(*register)
	return before, register.CurrentCash, nil
}

func ReverseWithdrawal(register *domain.CashRegister, amount decimal.Decimal) {
	register.TotalWithdrawals = Money(register.TotalWithdrawals.Sub(amount))
	register.CurrentCash = AvailableCash(*register)
}

func ValidateWithdrawalAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return store.Validation("withdrawal amount must be greater than zero")
	}
	if amount.GreaterThan(MaxWithdrawal) {
		return store.Validation("withdrawal amount must not exceed %s", MaxWithdrawal.StringFixed(domain.MoneyPlaces))
	}
	if !Money(amount).Equal(amount) {
		return store.Validation("amount supports at most %d decimal places", domain.MoneyPlaces)
	}
	return nil
}

// CloseOut sets expected cash and difference and moves the register to closed.
func CloseOut(register *domain.CashRegister, finalCash decimal.Decimal, notes string, at time.Time) {
	final := Money(finalCash)
	expected := Money(register.InitialCash.Add(register.TotalCash))
	register.FinalCash = decimal.NewNullDecimal(final)
	register.ExpectedCash = decimal.NewNullDecimal(expected)
	register.Difference = decimal.NewNullDecimal(final.Sub(expected))
	register.Status = domain.RegisterStatusClosed
	closedAt := at.UTC()
	register.ClosedAt = &closedAt
	register.Notes = AppendNote(register.Notes, "Close", notes)
}

// AppendNote appends "[tag] note" on its own line, leaving existing notes intact.
func AppendNote(existing string, tag string, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	entry := fmt.Sprintf("[%s] %s", tag, note)
	if existing == "" {
		return entry
	}
	return existing + "\n" + entry
}

func CheckLimit(register domain.CashRegister) domain.LimitStatus {
	current := AvailableCash(register)
	limit := register.CashLimit
	excess := Money(current.Sub(limit))
	status := domain.LimitStatus{
		CurrentCash:         current,
		CashLimit:           limit,
		Excess:              decimal.Zero,
		SuggestedWithdrawal: decimal.Zero,
	}
	if !excess.IsPositive() {
		status.Status = "ok"
		status.AlertLevel = "none"
		status.Message = fmt.Sprintf("cash within limit (%s of %s)",
			current.StringFixed(domain.MoneyPlaces), limit.StringFixed(domain.MoneyPlaces))
		return status
	}

	status.Status = "alert"
	status.Excess = excess
	status.SuggestedWithdrawal = excess
	switch {
	case !limit.IsPositive():
		status.AlertLevel = "critical"
	case excess.Div(limit).GreaterThanOrEqual(criticalRatio):
		status.AlertLevel = "critical"
	case excess.Div(limit).GreaterThanOrEqual(warningRatio):
		status.AlertLevel = "warning"
	default:
		status.AlertLevel = "info"
	}
	if limit.IsPositive() {
		status.Message = fmt.Sprintf("cash limit exceeded by %s (%s%%), withdraw %s",
			excess.StringFixed(domain.MoneyPlaces),
			excess.Div(limit).Mul(hundred).StringFixed(1),
			excess.StringFixed(domain.MoneyPlaces))
	} else {
		status.Message = fmt.Sprintf("cash limit exceeded by %s, withdraw %s",
			excess.StringFixed(domain.MoneyPlaces), excess.StringFixed(domain.MoneyPlaces))
	}
	return status
}

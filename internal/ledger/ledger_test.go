package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLineSubtotalRoundsToCents(t *testing.T) {
	assert.True(t, d("20.00").Equal(LineSubtotal(d("10.00"), d("2"))))
	assert.True(t, d("3.71").Equal(LineSubtotal(d("2.47"), d("1.5"))))
	assert.True(t, d("0.01").Equal(LineSubtotal(d("0.01"), d("0.5"))))
}

func TestCartTotalSumsSubtotals(t *testing.T) {
	items := []domain.CartItem{
		{Subtotal: d("0.10")},
		{Subtotal: d("0.20")},
		{Subtotal: d("19.70")},
	}
	assert.Equal(t, "20.00", CartTotal(items).StringFixed(2))
	assert.True(t, CartTotal(nil).IsZero())
}

func TestValidateQuantity(t *testing.T) {
	require.NoError(t, ValidateQuantity(d("0.0001")))
	assert.True(t, errors.Is(ValidateQuantity(decimal.Zero), store.ErrValidation))
	assert.True(t, errors.Is(ValidateQuantity(d("-1")), store.ErrValidation))
	assert.True(t, errors.Is(ValidateQuantity(d("1.00001")), store.ErrValidation))
}

func TestValidatePriceBounds(t *testing.T) {
	require.NoError(t, ValidatePrice(decimal.Zero))
	require.NoError(t, ValidatePrice(d("1000000")))
	assert.True(t, errors.Is(ValidatePrice(d("1000000.01")), store.ErrValidation))
	assert.True(t, errors.Is(ValidatePrice(d("-0.01")), store.ErrValidation))
	assert.True(t, errors.Is(ValidatePrice(d("1.005")), store.ErrValidation))
}

func TestComputeTotals(t *testing.T) {
	total, err := ComputeTotals(d("20.00"), d("3.20"), d("1.00"))
	require.NoError(t, err)
	assert.Equal(t, "22.20", total.StringFixed(2))

	_, err = ComputeTotals(d("5.00"), decimal.Zero, d("5.01"))
	assert.Equal(t, store.KindValidation, store.KindOf(err))

	_, err = ComputeTotals(d("5.00"), d("-1"), decimal.Zero)
	assert.Equal(t, store.KindValidation, store.KindOf(err))
}

func TestComputeTotalsRejectsSubCentAdjustments(t *testing.T) {
	_, err := ComputeTotals(d("20.00"), d("0.005"), decimal.Zero)
	assert.ErrorContains(t, err, "tax supports at most 2 decimal places")

	_, err = ComputeTotals(d("20.00"), decimal.Zero, d("0.004"))
	assert.ErrorContains(t, err, "discount supports at most 2 decimal places")

	total, err := ComputeTotals(d("20.00"), d("0.01"), d("0.10"))
	require.NoError(t, err)
	assert.Equal(t, "19.91", total.StringFixed(2))
}

func TestComputeChange(t *testing.T) {
	paid := d("50.00")
	amount, change, err := ComputeChange(domain.PaymentCash, &paid, d("20.00"))
	require.NoError(t, err)
	require.True(t, amount.Valid)
	require.True(t, change.Valid)
	assert.Equal(t, "30.00", change.Decimal.StringFixed(2))

	short := d("19.99")
	_, _, err = ComputeChange(domain.PaymentCash, &short, d("20.00"))
	assert.True(t, errors.Is(err, store.ErrValidation))

	amount, change, err = ComputeChange(domain.PaymentCard, &short, d("20.00"))
	require.NoError(t, err)
	assert.True(t, amount.Valid)
	assert.False(t, change.Valid)

	fractional := d("20.005")
	_, _, err = ComputeChange(domain.PaymentCard, &fractional, d("20.00"))
	assert.Equal(t, store.KindValidation, store.KindOf(err))

	amount, change, err = ComputeChange(domain.PaymentCash, nil, d("20.00"))
	require.NoError(t, err)
	assert.False(t, amount.Valid)
	assert.False(t, change.Valid)
}

func TestCheckStockCarriesShortage(t *testing.T) {
	product := domain.Product{ID: "PRD-1", Name: "Coffee", Stock: d("1")}
	require.NoError(t, CheckStock(product, d("1")))

	err := CheckStock(product, d("2"))
	require.Error(t, err)
	var se *store.Error
	require.True(t, errors.As(err, &se))
	require.NotNil(t, se.Shortage)
	assert.Equal(t, "Coffee", se.Shortage.ProductName)
	assert.True(t, d("1").Equal(se.Shortage.Available))
	assert.True(t, d("2").Equal(se.Shortage.Requested))
}

func TestTicketNumberFormat(t *testing.T) {
	day := TicketDay(time.Date(2026, 3, 9, 23, 59, 0, 0, time.FixedZone("east", -3*3600)))
	assert.Equal(t, "20260310", day)
	assert.Equal(t, "TKT-20260310-0001", TicketNumber(day, 1))
	assert.Equal(t, "TKT-20260310-0042", TicketNumber(day, 42))
	assert.Equal(t, "TKT-20260310-12345", TicketNumber(day, 12345))
}

func TestSaleApplyAndReverseRestoresTotals(t *testing.T) {
	register := domain.CashRegister{InitialCash: d("1000.00")}
	register.CurrentCash = AvailableCash(register)
	before := register

	require.NoError(t, ApplySale(&register, d("20.00"), domain.PaymentCash))
	require.NoError(t, ApplySale(&register, d("15.50"), domain.PaymentCard))
	assert.Equal(t, "35.50", register.TotalSales.StringFixed(2))
	assert.Equal(t, "20.00", register.TotalCash.StringFixed(2))
	assert.Equal(t, "15.50", register.TotalCard.StringFixed(2))
	assert.Equal(t, 2, register.NumTransactions)
	assert.Equal(t, "1020.00", register.CurrentCash.StringFixed(2))

	require.NoError(t, ReverseSale(&register, d("15.50"), domain.PaymentCard))
	require.NoError(t, ReverseSale(&register, d("20.00"), domain.PaymentCash))
	assert.True(t, before.TotalSales.Equal(register.TotalSales))
	assert.True(t, before.TotalCash.Equal(register.TotalCash))
	assert.True(t, before.TotalCard.Equal(register.TotalCard))
	assert.True(t, before.CurrentCash.Equal(register.CurrentCash))
	assert.Equal(t, 0, register.NumTransactions)

	assert.Error(t, ApplySale(&register, d("1"), "voucher"))
}

func TestApplyWithdrawal(t *testing.T) {
	register := domain.CashRegister{InitialCash: d("150.00"), TotalCash: d("50.00")}

	_, _, err := ApplyWithdrawal(&register, d("500.00"))
	assert.True(t, errors.Is(err, store.ErrInvalidOperation))
	assert.True(t, register.TotalWithdrawals.IsZero())

	before, after, err := ApplyWithdrawal(&register, d("120.00"))
	require.NoError(t, err)
	assert.Equal(t, "200.00", before.StringFixed(2))
	assert.Equal(t, "80.00", after.StringFixed(2))
	assert.Equal(t, "120.00", register.TotalWithdrawals.StringFixed(2))
	assert.Equal(t, "80.00", register.CurrentCash.StringFixed(2))

	ReverseWithdrawal(&register, d("120.00"))
	assert.True(t, register.TotalWithdrawals.IsZero())
	assert.Equal(t, "200.00", register.CurrentCash.StringFixed(2))

	_, _, err = ApplyWithdrawal(&register, d("50000.01"))
	assert.True(t, errors.Is(err, store.ErrValidation))
	_, _, err = ApplyWithdrawal(&register, decimal.Zero)
	assert.True(t, errors.Is(err, store.ErrValidation))
}

func TestCloseOut(t *testing.T) {
	register := domain.CashRegister{
		InitialCash: d("1000.00"),
		TotalCash:   d("20.00"),
		Status:      domain.RegisterStatusOpen,
		Notes:       "morning shift",
	}
	at := time.Date(2026, 1, 2, 18, 0, 0, 0, time.UTC)
	CloseOut(&register, d("1015.00"), "short five", at)

	assert.Equal(t, domain.RegisterStatusClosed, register.Status)
	require.NotNil(t, register.ClosedAt)
	assert.Equal(t, at, *register.ClosedAt)
	assert.Equal(t, "1020.00", register.ExpectedCash.Decimal.StringFixed(2))
	assert.Equal(t, "-5.00", register.Difference.Decimal.StringFixed(2))
	assert.Equal(t, "morning shift\n[Close] short five", register.Notes)
}

func TestAppendNote(t *testing.T) {
	assert.Equal(t, "", AppendNote("", "Close", "  "))
	assert.Equal(t, "[Close] done", AppendNote("", "Close", "done"))
	assert.Equal(t, "a\n[Close] done", AppendNote("a", "Close", "done"))
}

func TestCheckLimitLevels(t *testing.T) {
	cases := []struct {
		name    string
		cash    string
		limit   string
		status  string
		level   string
		suggest string
	}{
		{name: "within", cash: "5000.00", limit: "5000.00", status: "ok", level: "none", suggest: "0.00"},
		{name: "info", cash: "5500.00", limit: "5000.00", status: "alert", level: "info", suggest: "500.00"},
		{name: "warning", cash: "6000.00", limit: "5000.00", status: "alert", level: "warning", suggest: "1000.00"},
		{name: "critical", cash: "7500.00", limit: "5000.00", status: "alert", level: "critical", suggest: "2500.00"},
		{name: "zero limit", cash: "1.00", limit: "0", status: "alert", level: "critical", suggest: "1.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			register := domain.CashRegister{InitialCash: d(tc.cash), CashLimit: d(tc.limit)}
			got := CheckLimit(register)
			assert.Equal(t, tc.status, got.Status)
			assert.Equal(t, tc.level, got.AlertLevel)
			assert.Equal(t, tc.suggest, got.SuggestedWithdrawal.StringFixed(2))
			assert.True(t, got.Excess.Equal(got.SuggestedWithdrawal))
			assert.NotEmpty(t, got.Message)
		})
	}
}

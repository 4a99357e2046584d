package store

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindDuplicate
	KindInsufficientStock
	KindInvalidOperation
	KindValidation
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDuplicate:
		return "duplicate"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindInvalidOperation:
		return "invalid_operation"
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Error is a business failure with a stable kind and a message safe to show
// to the caller.
type Error struct {
	Kind    Kind
	Message string
	// Shortage is set for KindInsufficientStock.
	Shortage *StockShortage
}

type StockShortage struct {
	ProductID   string
	ProductName string
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same kind, so the Err* values below work as
// sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrDuplicate         = &Error{Kind: KindDuplicate, Message: "duplicate"}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock, Message: "insufficient stock"}
	ErrInvalidOperation  = &Error{Kind: KindInvalidOperation, Message: "invalid operation"}
	ErrValidation        = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
)

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Duplicate(format string, args ...any) error {
	return &Error{Kind: KindDuplicate, Message: fmt.Sprintf(format, args...)}
}

func InvalidOperation(format string, args ...any) error {
	return &Error{Kind: KindInvalidOperation, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func InsufficientStock(productID string, productName string, available decimal.Decimal, requested decimal.Decimal) error {
	return &Error{
		Kind: KindInsufficientStock,
		Message: fmt.Sprintf("insufficient stock for %s: available %s, requested %s",
			productName, available.String(), requested.String()),
		Shortage: &StockShortage{
			ProductID:   productID,
			ProductName: productName,
			Available:   available,
			Requested:   requested,
		},
	}
}

// KindOf reports the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

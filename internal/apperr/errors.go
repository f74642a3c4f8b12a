// Package apperr defines the error kinds shared by the storefront services.
//
// Every error returned across a service boundary matches exactly one kind with
// errors.Is. The message carried by an *Error is safe to show to clients; the
// wrapped cause, if any, is for logs only.
package apperr

import (
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrForbidden              = errors.New("forbidden")
	ErrStorage                = errors.New("storage failure")
)

type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func newf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return newf(ErrValidation, format, args...)
}

func NotFound(format string, args ...any) error {
	return newf(ErrNotFound, format, args...)
}

func Forbidden(format string, args ...any) error {
	return newf(ErrForbidden, format, args...)
}

func InvalidTransition(format string, args ...any) error {
	return newf(ErrInvalidStateTransition, format, args...)
}

func EmptyCart() error {
	return &Error{Kind: ErrEmptyCart, Message: "cart is empty"}
}

// Storage hides cause behind an opaque message. Callers log the cause before
// returning it.
func Storage(message string, cause error) error {
	return &Error{Kind: ErrStorage, Message: message, Cause: cause}
}

// InsufficientStockError reports the product that could not be reserved.
type InsufficientStockError struct {
	ProductID   uuid.UUID
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID.String()
	}
	return fmt.Sprintf("product %s is not available in the requested quantity: available %d, requested %d", name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

var kinds = []error{
	ErrValidation,
	ErrNotFound,
	ErrInsufficientStock,
	ErrEmptyCart,
	ErrInvalidStateTransition,
	ErrForbidden,
	ErrStorage,
}

// Kind reports which sentinel err matches, or nil when err carries no kind.
func Kind(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsKnown reports whether err already carries one of the kinds above.
func IsKnown(err error) bool {
	return Kind(err) != nil
}

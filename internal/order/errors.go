package order

import "github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"

var (
	ErrOrderNotFound = &apperr.Error{Kind: apperr.ErrNotFound, Message: "order not found"}
	// ErrStatusConflict means the stored status no longer matches the one the
	// update was computed from.
	ErrStatusConflict = &apperr.Error{Kind: apperr.ErrInvalidStateTransition, Message: "order status was changed by another request"}
)

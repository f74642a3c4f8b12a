package product

import "github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"

var (
	ErrProductNotFound   = &apperr.Error{Kind: apperr.ErrNotFound, Message: "product not found"}
	ErrInsufficientStock = &apperr.Error{Kind: apperr.ErrInsufficientStock, Message: "insufficient stock"}
	ErrInvalidQuantity   = &apperr.Error{Kind: apperr.ErrValidation, Message: "stock quantity must be positive"}
)

package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidProduct  = errors.New("invalid product snapshot")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidDelivery = errors.New("invalid delivery details")
	ErrOwnerMismatch   = errors.New("owner is not the active cart owner")
)

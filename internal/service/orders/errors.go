package orders

import "errors"

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrTableNotFound = errors.New("table not found")
	ErrEmptyOrder    = errors.New("order has no items")
	ErrInvalidOrder  = errors.New("invalid order")
)

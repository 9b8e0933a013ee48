package order

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrEmptyCart         = errors.New("order must contain at least one item")
	ErrDishNotFound      = errors.New("dish not found")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrOrderNotFound     = errors.New("order not found")
	ErrForbidden         = errors.New("access denied")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrConflict          = errors.New("order was modified concurrently")
	ErrExpiredForReorder = errors.New("only orders from the last 30 days can be reordered")
	ErrStorage           = errors.New("storage failure")
)

// TransitionError carries the current and attempted status of a rejected transition.
type TransitionError struct {
	Current OrderStatus
	Target  OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot update order from %s to %s", e.Current, e.Target)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// StorageError wraps an infrastructure failure from the order store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("repository: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// IsValidation reports whether err is a client-fixable input error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrDishNotFound) ||
		errors.Is(err, ErrInvalidQuantity)
}

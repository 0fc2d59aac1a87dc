package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidReference = errors.New("payment reference requires tx hash and network")
	ErrInvalidEvent     = errors.New("invalid payment event")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidPackage   = errors.New("invalid package")

	// ErrInsufficientAmount is returned when the deposit is below the package price.
	ErrInsufficientAmount = errors.New("insufficient amount")
	// ErrExcessiveOverpay is returned when the deposit exceeds the package price
	// by more than the configured overpay percentage.
	ErrExcessiveOverpay = errors.New("excessive overpay")

	ErrPaymentClaimed        = errors.New("payment already settled a purchase of another user")
	ErrPurchaseOwnerMismatch = errors.New("purchase belongs to another user")
	ErrPurchaseNotActive     = errors.New("purchase is not accruing")
	ErrNotCompensable        = errors.New("benefit event cannot be compensated")
)

// StoreError wraps a ledger store failure with the operation and key it
// happened on, so the caller can retry the same input.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err, keeping ErrNotFound recognisable through errors.Is.
func NewStoreError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Key: key, Err: err}
}

// IsRetryable reports whether err is a transient failure the caller should
// retry with the same input. Validation errors and missing records are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}

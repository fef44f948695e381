// Package core holds the bookkeeping domain: accounts, ledger records,
// derived positions and the error taxonomy shared by every layer.
package core

import "errors"

// Business-rule errors. These surface to clients unretried; the HTTP layer
// maps them to 4xx responses.
var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInvalidPrice         = errors.New("price per unit must be positive")
	ErrInvalidSide          = errors.New("transaction type must be BUY or SELL")
	ErrInvalidInstrument    = errors.New("security symbol is required")
	ErrSameAccount          = errors.New("source and destination accounts must differ")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountInactive      = errors.New("account is inactive")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientHoldings = errors.New("sell quantity exceeds current holdings")
)

// Infrastructure errors. Retried internally with a bounded budget before
// surfacing as 5xx.
var (
	ErrConcurrentUpdateConflict = errors.New("account was concurrently modified, retries exhausted")
	ErrStorageUnavailable       = errors.New("storage unavailable")

	// ErrPartialFailureRolledBack reports a transfer whose debit leg
	// committed and was then compensated. No money is left in flight.
	ErrPartialFailureRolledBack = errors.New("transfer failed after debit, source account credited back")
)

// Structural validation errors.
var (
	ErrEmptyUserID      = errors.New("empty user id")
	ErrEmptyUsername    = errors.New("empty username")
	ErrNegativeBalance  = errors.New("balance cannot be negative")
	ErrInvalidRole      = errors.New("invalid user role")
	ErrInvalidStatus    = errors.New("invalid account status")
	ErrInvalidDirection = errors.New("direction must be DEBIT or CREDIT")
)

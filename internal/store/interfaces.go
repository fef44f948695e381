// Package store defines the persistence collaborators the bookkeeping core
// depends on. Implementations live in the memory and sqlite subpackages and
// are injected into services by the binaries, never looked up globally.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"wealthbook/internal/core"
)

var (
	// ErrNotFound reports a missing account or record.
	ErrNotFound = errors.New("not found")

	// ErrConditionFailed reports a conditional write whose expected
	// previous value no longer matched. Callers re-read and retry.
	ErrConditionFailed = errors.New("conditional update failed")
)

// AccountStore is a key-value store of account records keyed by user id.
// The only balance mutation primitive is the conditional write, which is the
// optimistic-concurrency safety net for concurrent transfers.
type AccountStore interface {
	Get(ctx context.Context, userID string) (core.Account, error)

	// Put creates the account or updates its profile fields. The stored
	// balance of an existing account is kept; balances change only through
	// ConditionalUpdateBalance.
	Put(ctx context.Context, account core.Account) error
	List(ctx context.Context) ([]core.Account, error)
	UpdateStatus(ctx context.Context, userID string, status core.Status) error

	// ConditionalUpdateBalance sets the balance to updated only when the
	// stored balance still equals expected; otherwise ErrConditionFailed.
	ConditionalUpdateBalance(ctx context.Context, userID string, expected, updated decimal.Decimal) error
}

// ScanFilter narrows a ledger scan. The zero value matches every record.
type ScanFilter struct {
	AccountID       string
	InvestmentsOnly bool
}

// LedgerStore is an append-only store of transaction records. Records are
// never updated or deleted once appended.
type LedgerStore interface {
	Append(ctx context.Context, record core.TransactionRecord) error

	// Scan returns matching records ordered by timestamp ascending, with
	// insertion order breaking ties.
	Scan(ctx context.Context, filter ScanFilter) ([]core.TransactionRecord, error)
}

// Matches reports whether the record passes the filter.
func (f ScanFilter) Matches(r core.TransactionRecord) bool {
	if f.AccountID != "" && r.UserID != f.AccountID {
		return false
	}
	if f.InvestmentsOnly && !r.IsInvestment() {
		return false
	}
	return true
}

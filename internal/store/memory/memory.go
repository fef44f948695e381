// Package memory provides mutex-guarded in-memory implementations of the
// store interfaces. They back the default data backend and the test suites.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"wealthbook/internal/core"
	"wealthbook/internal/store"
)

// AccountStore keeps accounts in a map. All methods return copies so callers
// cannot mutate internal state without going through a write method.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]core.Account
}

func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]core.Account)}
}

func (s *AccountStore) Get(_ context.Context, userID string) (core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[userID]
	if !ok {
		return core.Account{}, fmt.Errorf("%w: account %s", store.ErrNotFound, userID)
	}
	return account, nil
}

func (s *AccountStore) Put(_ context.Context, account core.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accounts[account.UserID]; ok {
		account.Balance = existing.Balance
	}
	s.accounts[account.UserID] = account
	return nil
}

func (s *AccountStore) List(_ context.Context) ([]core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *AccountStore) UpdateStatus(_ context.Context, userID string, status core.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID]
	if !ok {
		return fmt.Errorf("%w: account %s", store.ErrNotFound, userID)
	}
	account.Status = status
	s.accounts[userID] = account
	return nil
}

func (s *AccountStore) ConditionalUpdateBalance(_ context.Context, userID string, expected, updated decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID]
	if !ok {
		return fmt.Errorf("%w: account %s", store.ErrNotFound, userID)
	}
	if !account.Balance.Equal(expected) {
		return fmt.Errorf("%w: account %s", store.ErrConditionFailed, userID)
	}
	account.Balance = updated
	s.accounts[userID] = account
	return nil
}

// LedgerStore keeps records in append order.
type LedgerStore struct {
	mu      sync.RWMutex
	records []core.TransactionRecord
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

func (s *LedgerStore) Append(_ context.Context, record core.TransactionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *LedgerStore) Scan(_ context.Context, filter store.ScanFilter) ([]core.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.TransactionRecord
	for _, r := range s.records {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	// Append order already breaks timestamp ties; SliceStable keeps it.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

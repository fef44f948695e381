// Package memory is an in-process mirror destination used in tests and
// when no spreadsheet is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"wealthbook/internal/core"
	"wealthbook/internal/mirror"
)

type Store struct {
	mu    sync.Mutex
	items []core.TransactionRecord
}

var _ mirror.RecordWriter = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// Append stores the record and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, record core.TransactionRecord) (string, error) {
	if err := record.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, record)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Records returns a copy of everything mirrored so far.
func (s *Store) Records() []core.TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.TransactionRecord(nil), s.items...)
}

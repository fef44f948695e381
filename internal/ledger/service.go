// Package ledger owns the append path of the transaction log: id and
// timestamp assignment, the durable store append, and the optional event
// publication consumed by the mirror worker.
package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wealthbook/internal/core"
	"wealthbook/internal/store"
)

// Publisher is satisfied by the AMQP client. A nil publisher disables event
// publication; publication failures never fail the append.
type Publisher interface {
	PublishLedgerAppended(ctx context.Context, transactionID, userID string) error
}

type Service struct {
	store     store.LedgerStore
	publisher Publisher
	now       func() time.Time
}

func NewService(ledgerStore store.LedgerStore, publisher Publisher) *Service {
	return &Service{
		store:     ledgerStore,
		publisher: publisher,
		now:       time.Now,
	}
}

// Append assigns the transaction id and timestamp when the draft lacks them,
// validates the record and performs exactly one durable append. The caller
// must not assume the record exists unless a nil error is returned.
func (s *Service) Append(ctx context.Context, draft core.TransactionRecord) (core.TransactionRecord, error) {
	record := draft
	if record.TransactionID == "" {
		record.TransactionID = NewTransactionID()
	}
	if record.Timestamp == "" {
		record.Timestamp = core.FormatTimestamp(s.now())
	}
	if err := record.Validate(); err != nil {
		return core.TransactionRecord{}, err
	}

	if err := s.store.Append(ctx, record); err != nil {
		// Validation errors from the store keep their identity; anything
		// else is a storage failure the caller may retry.
		if isDomainErr(err) {
			return core.TransactionRecord{}, err
		}
		return core.TransactionRecord{}, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishLedgerAppended(ctx, record.TransactionID, record.UserID); err != nil {
			// The record is durable; the periodic mirror sweep covers
			// lost messages.
			slog.ErrorContext(ctx, "Failed to publish ledger-appended message",
				"transaction_id", record.TransactionID, "error", err)
		}
	}

	return record, nil
}

// ListByAccount returns the account's records ordered by timestamp
// ascending. Ties keep ledger insertion order.
func (s *Service) ListByAccount(ctx context.Context, accountID string) ([]core.TransactionRecord, error) {
	records, err := s.store.Scan(ctx, store.ScanFilter{AccountID: accountID})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	return records, nil
}

// List returns the full ledger in scan order.
func (s *Service) List(ctx context.Context) ([]core.TransactionRecord, error) {
	records, err := s.store.Scan(ctx, store.ScanFilter{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	return records, nil
}

func isDomainErr(err error) bool {
	for _, domain := range []error{
		core.ErrInvalidAmount, core.ErrInvalidQuantity, core.ErrInvalidPrice,
		core.ErrEmptyUserID, core.ErrInvalidDirection,
	} {
		if errors.Is(err, domain) {
			return true
		}
	}
	return false
}

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewTransactionID returns 8 random alphanumeric characters, enough that id
// collisions are negligible for a single ledger.
func NewTransactionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// timestamp-derived id rather than panic.
		return fmt.Sprintf("t%07d", time.Now().UnixNano()%10000000)
	}
	for i := range b {
		b[i] = idAlphabet[int(b[i])%len(idAlphabet)]
	}
	return string(b)
}

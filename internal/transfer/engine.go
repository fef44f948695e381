// Package transfer moves money between accounts as a two-leg state
// machine. Each balance write is a conditional update keyed on the
// balance the engine last read, retried a bounded number of times, so
// concurrent transfers against the same account never lose an update.
// Once the source has been debited, any later failure triggers a
// compensating credit instead of leaving money in flight.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"wealthbook/internal/core"
	"wealthbook/internal/ledger"
	"wealthbook/internal/metrics"
	"wealthbook/internal/store"
)

// State is the lifecycle stage a transfer reached. A Result always
// carries the last state entered, including on failure.
type State string

const (
	StateValidated  State = "VALIDATED"
	StateDebited    State = "DEBITED"
	StateCompleted  State = "COMPLETED"
	StateRolledBack State = "ROLLED_BACK"
)

// DefaultMaxAttempts bounds the conditional-write retry loop per leg.
const DefaultMaxAttempts = 5

// HoldingChecker reports how many units of a security an account
// currently holds. Satisfied by portfolio.Reconstructor.
type HoldingChecker interface {
	Holding(ctx context.Context, accountID, instrument string) (decimal.Decimal, error)
}

// Result reports the outcome of a completed or rolled-back transfer.
type Result struct {
	State              State
	SourceBalance      decimal.Decimal
	DestinationBalance decimal.Decimal
	DebitRecord        core.TransactionRecord
	CreditRecord       core.TransactionRecord
}

// InvestResult reports the outcome of a buy or sell order.
type InvestResult struct {
	Record     core.TransactionRecord
	NewBalance decimal.Decimal
	Amount     decimal.Decimal
}

type Engine struct {
	accounts    store.AccountStore
	ledger      *ledger.Service
	holdings    HoldingChecker
	collector   *metrics.Collector
	maxAttempts int
}

func NewEngine(accounts store.AccountStore, ledgerService *ledger.Service, holdings HoldingChecker, collector *metrics.Collector, maxAttempts int) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Engine{
		accounts:    accounts,
		ledger:      ledgerService,
		holdings:    holdings,
		collector:   collector,
		maxAttempts: maxAttempts,
	}
}

// Transfer moves amount from the source account to the destination
// account. Both accounts must exist and be ACTIVE, and the source must
// cover the amount. On success both legs are recorded in the ledger;
// on a failure after the debit leg the source is credited back and the
// call returns core.ErrPartialFailureRolledBack wrapping the cause.
func (e *Engine) Transfer(ctx context.Context, sourceID, destinationID string, amount decimal.Decimal) (Result, error) {
	start := time.Now()
	res := Result{State: StateValidated}

	if !amount.IsPositive() {
		e.collector.TransferFailed()
		return res, core.ErrInvalidAmount
	}
	if sourceID == destinationID {
		e.collector.TransferFailed()
		return res, core.ErrSameAccount
	}
	// Checking the destination up front keeps the common failure modes
	// (unknown or deactivated counterparty) off the compensation path.
	// The credit leg re-checks, so a deactivation mid-transfer still
	// rolls back.
	if err := e.requireActive(ctx, destinationID); err != nil {
		e.collector.TransferFailed()
		return res, err
	}

	sourceBalance, err := e.applyDelta(ctx, sourceID, amount.Neg(), true)
	if err != nil {
		e.collector.TransferFailed()
		return res, err
	}
	res.State = StateDebited
	res.SourceBalance = sourceBalance

	res.DebitRecord, err = e.ledger.Append(ctx, core.TransactionRecord{
		UserID:         sourceID,
		CounterpartyID: destinationID,
		Direction:      core.DirectionDebit,
		Amount:         amount,
	})
	if err != nil {
		return e.rollback(ctx, res, sourceID, destinationID, amount, false, err)
	}
	e.collector.LedgerAppended()

	res.DestinationBalance, err = e.applyDelta(ctx, destinationID, amount, true)
	if err != nil {
		return e.rollback(ctx, res, sourceID, destinationID, amount, false, err)
	}

	res.CreditRecord, err = e.ledger.Append(ctx, core.TransactionRecord{
		UserID:         destinationID,
		CounterpartyID: sourceID,
		Direction:      core.DirectionCredit,
		Amount:         amount,
	})
	if err != nil {
		return e.rollback(ctx, res, sourceID, destinationID, amount, true, err)
	}
	e.collector.LedgerAppended()

	res.State = StateCompleted
	e.collector.TransferCompleted(time.Since(start))
	return res, nil
}

// InvestInSecurity executes a buy or sell order against an account's
// cash balance and records the trade as a single investment-tagged
// ledger entry. A buy debits price*quantity, a sell credits it; sells
// are capped at the quantity the ledger says the account holds.
func (e *Engine) InvestInSecurity(ctx context.Context, accountID, instrument string, quantity, pricePerUnit decimal.Decimal, side core.Side) (InvestResult, error) {
	if strings.TrimSpace(instrument) == "" {
		return InvestResult{}, core.ErrInvalidInstrument
	}
	if !quantity.IsPositive() {
		return InvestResult{}, core.ErrInvalidQuantity
	}
	if !pricePerUnit.IsPositive() {
		return InvestResult{}, core.ErrInvalidPrice
	}

	amount := pricePerUnit.Mul(quantity)

	if side == core.SideSell {
		// Snapshot check: a concurrent sell admitted between this read and
		// the ledger append can push net quantity below zero. Only the cash
		// balance is guarded by conditional writes.
		held, err := e.holdings.Holding(ctx, accountID, instrument)
		if err != nil {
			return InvestResult{}, err
		}
		if held.LessThan(quantity) {
			return InvestResult{}, fmt.Errorf("%w: holding %s of %s, selling %s",
				core.ErrInsufficientHoldings, held, instrument, quantity)
		}
	}

	delta := amount
	if side == core.SideBuy {
		delta = amount.Neg()
	}
	newBalance, err := e.applyDelta(ctx, accountID, delta, true)
	if err != nil {
		e.collector.TransferFailed()
		return InvestResult{}, err
	}

	record, err := e.ledger.Append(ctx, core.TransactionRecord{
		UserID:         accountID,
		CounterpartyID: instrument,
		Direction:      side.Direction(),
		Amount:         amount,
		Instrument:     instrument,
		Quantity:       quantity,
		PricePerUnit:   pricePerUnit,
	})
	if err != nil {
		// Cash already moved but the trade was never recorded. Undo
		// the cash leg so balance and ledger stay consistent.
		undoCtx := context.WithoutCancel(ctx)
		if _, undoErr := e.applyDelta(undoCtx, accountID, delta.Neg(), false); undoErr != nil {
			slog.ErrorContext(undoCtx, "Failed to reverse cash leg of failed investment; manual intervention required",
				"user_id", accountID, "instrument", instrument, "amount", amount, "error", undoErr)
		}
		e.collector.TransferRolledBack()
		return InvestResult{}, fmt.Errorf("%w: %v", core.ErrPartialFailureRolledBack, err)
	}
	e.collector.LedgerAppended()

	return InvestResult{Record: record, NewBalance: newBalance, Amount: amount}, nil
}

// rollback undoes the legs of a transfer that committed before cause
// occurred. It runs on a context detached from the caller's so that a
// cancelled request cannot abandon a half-applied transfer.
func (e *Engine) rollback(ctx context.Context, res Result, sourceID, destinationID string, amount decimal.Decimal, reverseCredit bool, cause error) (Result, error) {
	ctx = context.WithoutCancel(ctx)

	if reverseCredit {
		if _, err := e.applyDelta(ctx, destinationID, amount.Neg(), false); err != nil {
			slog.ErrorContext(ctx, "Compensation failed to reverse destination credit; manual intervention required",
				"destination_id", destinationID, "amount", amount, "error", err)
		}
	}

	if _, err := e.applyDelta(ctx, sourceID, amount, false); err != nil {
		slog.ErrorContext(ctx, "Compensation failed to restore source balance; manual intervention required",
			"source_id", sourceID, "amount", amount, "error", err)
	} else if res.DebitRecord.TransactionID != "" {
		// Only pair the debit record with a compensating credit when
		// the debit record actually made it into the ledger.
		if _, err := e.ledger.Append(ctx, core.TransactionRecord{
			UserID:         sourceID,
			CounterpartyID: destinationID,
			Direction:      core.DirectionCredit,
			Amount:         amount,
		}); err != nil {
			slog.ErrorContext(ctx, "Compensation restored source balance but could not record the credit",
				"source_id", sourceID, "amount", amount, "error", err)
		} else {
			e.collector.LedgerAppended()
		}
	}

	res.State = StateRolledBack
	e.collector.TransferRolledBack()
	return res, fmt.Errorf("%w: %v", core.ErrPartialFailureRolledBack, cause)
}

// applyDelta adjusts an account balance through a conditional write,
// retrying on lost races up to maxAttempts. It returns the balance
// after the update.
func (e *Engine) applyDelta(ctx context.Context, userID string, delta decimal.Decimal, requireActive bool) (decimal.Decimal, error) {
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		account, err := e.accounts.Get(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return decimal.Zero, fmt.Errorf("%w: %s", core.ErrAccountNotFound, userID)
			}
			return decimal.Zero, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
		}
		if requireActive && !account.IsActive() {
			return decimal.Zero, fmt.Errorf("%w: %s", core.ErrAccountInactive, userID)
		}

		updated := account.Balance.Add(delta)
		if updated.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: account %s", core.ErrInsufficientBalance, userID)
		}

		err = e.accounts.ConditionalUpdateBalance(ctx, userID, account.Balance, updated)
		if err == nil {
			e.collector.ObserveBalance(userID, updated.InexactFloat64())
			return updated, nil
		}
		if errors.Is(err, store.ErrConditionFailed) {
			e.collector.ConditionalWriteConflict()
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("%w: %s", core.ErrAccountNotFound, userID)
		}
		return decimal.Zero, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	return decimal.Zero, fmt.Errorf("%w: account %s", core.ErrConcurrentUpdateConflict, userID)
}

func (e *Engine) requireActive(ctx context.Context, userID string) error {
	account, err := e.accounts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", core.ErrAccountNotFound, userID)
		}
		return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	if !account.IsActive() {
		return fmt.Errorf("%w: %s", core.ErrAccountInactive, userID)
	}
	return nil
}

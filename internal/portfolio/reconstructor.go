// Package portfolio derives stock positions by replaying the ledger. The
// replay is the definition of correctness for holdings: the same ledger
// always yields the same snapshot, and nothing here persists derived state.
package portfolio

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"wealthbook/internal/core"
	"wealthbook/internal/store"
)

type Reconstructor struct {
	ledger store.LedgerStore
}

func NewReconstructor(ledgerStore store.LedgerStore) *Reconstructor {
	return &Reconstructor{ledger: ledgerStore}
}

type accumulator struct {
	net           decimal.Decimal
	totalCost     decimal.Decimal // sum of price*quantity over every leg
	totalQty      decimal.Decimal // sum of quantity over every leg
	lastDirection core.Direction
	lastActivity  string
}

// Reconstruct scans the account's investment legs, groups them by
// instrument and nets BUY quantities against SELL quantities. The average
// price weights each leg's price by its quantity. Instruments whose net
// quantity is not positive are omitted.
func (r *Reconstructor) Reconstruct(ctx context.Context, accountID string) ([]core.Position, error) {
	records, err := r.ledger.Scan(ctx, store.ScanFilter{AccountID: accountID, InvestmentsOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}

	byInstrument := make(map[string]*accumulator)
	for _, rec := range records {
		acc, ok := byInstrument[rec.Instrument]
		if !ok {
			acc = &accumulator{}
			byInstrument[rec.Instrument] = acc
		}
		// BUY legs debit cash and add shares; SELL legs credit cash and
		// remove shares.
		if rec.Direction == core.DirectionDebit {
			acc.net = acc.net.Add(rec.Quantity)
		} else {
			acc.net = acc.net.Sub(rec.Quantity)
		}
		acc.totalCost = acc.totalCost.Add(rec.PricePerUnit.Mul(rec.Quantity))
		acc.totalQty = acc.totalQty.Add(rec.Quantity)
		if rec.Timestamp >= acc.lastActivity {
			acc.lastActivity = rec.Timestamp
			acc.lastDirection = rec.Direction
		}
	}

	positions := make([]core.Position, 0, len(byInstrument))
	for instrument, acc := range byInstrument {
		if !acc.net.IsPositive() {
			continue
		}
		avg := decimal.Zero
		if acc.totalQty.IsPositive() {
			avg = acc.totalCost.Div(acc.totalQty)
		}
		positions = append(positions, core.Position{
			Instrument:           instrument,
			NetQuantity:          acc.net,
			WeightedAveragePrice: avg,
			LastDirection:        acc.lastDirection,
			LastActivity:         acc.lastActivity,
		})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Instrument < positions[j].Instrument })
	return positions, nil
}

// Holding returns the net quantity held for one instrument, zero when the
// account never traded it. The transfer engine uses it to block over-selling.
func (r *Reconstructor) Holding(ctx context.Context, accountID, instrument string) (decimal.Decimal, error) {
	positions, err := r.Reconstruct(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range positions {
		if p.Instrument == instrument {
			return p.NetQuantity, nil
		}
	}
	return decimal.Zero, nil
}

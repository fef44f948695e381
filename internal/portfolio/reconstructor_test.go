package portfolio

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"wealthbook/internal/core"
	"wealthbook/internal/store/memory"
)

func appendLeg(t *testing.T, s *memory.LedgerStore, id, userID, instrument, ts string, dir core.Direction, qty, price int64) {
	t.Helper()
	err := s.Append(context.Background(), core.TransactionRecord{
		TransactionID:  id,
		UserID:         userID,
		CounterpartyID: instrument,
		Direction:      dir,
		Amount:         decimal.NewFromInt(qty * price),
		Timestamp:      ts,
		Instrument:     instrument,
		Quantity:       decimal.NewFromInt(qty),
		PricePerUnit:   decimal.NewFromInt(price),
	})
	if err != nil {
		t.Fatalf("append %s: %v", id, err)
	}
}

func TestReconstructNetsAndWeights(t *testing.T) {
	ctx := context.Background()
	ledgerStore := memory.NewLedgerStore()
	r := NewReconstructor(ledgerStore)

	// Buy 10 @ 2, later sell 4 @ 3.
	appendLeg(t, ledgerStore, "t1", "U001", "ACME", "2026-08-29 10:00:01", core.DirectionDebit, 10, 2)
	appendLeg(t, ledgerStore, "t2", "U001", "ACME", "2026-08-29 10:00:02", core.DirectionCredit, 4, 3)

	positions, err := r.Reconstruct(ctx, "U001")
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	p := positions[0]
	if p.Instrument != "ACME" {
		t.Fatalf("instrument = %s", p.Instrument)
	}
	if !p.NetQuantity.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("net quantity = %s, want 6", p.NetQuantity)
	}
	// Weighted average over all legs: (10*2 + 4*3) / (10+4) = 32/14.
	want := decimal.NewFromInt(32).Div(decimal.NewFromInt(14))
	if !p.WeightedAveragePrice.Equal(want) {
		t.Fatalf("avg price = %s, want %s", p.WeightedAveragePrice, want)
	}
	if p.LastActivity != "2026-08-29 10:00:02" || p.LastDirection != core.DirectionCredit {
		t.Fatalf("last activity wrong: %+v", p)
	}
}

func TestReconstructOmitsClosedPositions(t *testing.T) {
	ctx := context.Background()
	ledgerStore := memory.NewLedgerStore()
	r := NewReconstructor(ledgerStore)

	appendLeg(t, ledgerStore, "t1", "U001", "ACME", "2026-08-29 10:00:01", core.DirectionDebit, 5, 2)
	appendLeg(t, ledgerStore, "t2", "U001", "ACME", "2026-08-29 10:00:02", core.DirectionCredit, 5, 3)
	appendLeg(t, ledgerStore, "t3", "U001", "GLOBX", "2026-08-29 10:00:03", core.DirectionDebit, 1, 7)

	positions, err := r.Reconstruct(ctx, "U001")
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if len(positions) != 1 || positions[0].Instrument != "GLOBX" {
		t.Fatalf("closed position must be omitted: %+v", positions)
	}
}

func TestReconstructIgnoresOtherAccountsAndCashLegs(t *testing.T) {
	ctx := context.Background()
	ledgerStore := memory.NewLedgerStore()
	r := NewReconstructor(ledgerStore)

	appendLeg(t, ledgerStore, "t1", "U002", "ACME", "2026-08-29 10:00:01", core.DirectionDebit, 5, 2)
	if err := ledgerStore.Append(ctx, core.TransactionRecord{
		TransactionID:  "t2",
		UserID:         "U001",
		CounterpartyID: "U002",
		Direction:      core.DirectionDebit,
		Amount:         decimal.NewFromInt(10),
		Timestamp:      "2026-08-29 10:00:02",
	}); err != nil {
		t.Fatalf("append cash leg: %v", err)
	}

	positions, err := r.Reconstruct(ctx, "U001")
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("expected no positions, got %+v", positions)
	}
}

func TestHolding(t *testing.T) {
	ctx := context.Background()
	ledgerStore := memory.NewLedgerStore()
	r := NewReconstructor(ledgerStore)

	appendLeg(t, ledgerStore, "t1", "U001", "ACME", "2026-08-29 10:00:01", core.DirectionDebit, 3, 2)

	held, err := r.Holding(ctx, "U001", "ACME")
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if !held.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("held = %s, want 3", held)
	}

	none, err := r.Holding(ctx, "U001", "GLOBX")
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if !none.IsZero() {
		t.Fatalf("held = %s, want 0", none)
	}
}

package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"wealthbook/internal/core"
	"wealthbook/internal/ledger"
	"wealthbook/internal/portfolio"
	"wealthbook/internal/store"
	"wealthbook/internal/store/memory"
)

func storeFilterAll() store.ScanFilter { return store.ScanFilter{} }

// flakyLedger fails specific Append calls (1-based) and delegates the
// rest to the in-memory store.
type flakyLedger struct {
	*memory.LedgerStore
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
}

func (f *flakyLedger) Append(ctx context.Context, rec core.TransactionRecord) error {
	f.mu.Lock()
	f.calls++
	fail := f.failOn[f.calls]
	f.mu.Unlock()
	if fail {
		return errors.New("storage offline")
	}
	return f.LedgerStore.Append(ctx, rec)
}

func seedAccount(t *testing.T, accounts *memory.AccountStore, id string, balance int64) {
	t.Helper()
	err := accounts.Put(context.Background(), core.Account{
		UserID:   id,
		Username: "user-" + id,
		Balance:  decimal.NewFromInt(balance),
		Role:     core.RoleUser,
		Status:   core.StatusActive,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func newTestEngine(t *testing.T, failOn map[int]bool) (*Engine, *memory.AccountStore, *flakyLedger) {
	t.Helper()
	accounts := memory.NewAccountStore()
	ledgerStore := &flakyLedger{LedgerStore: memory.NewLedgerStore(), failOn: failOn}
	svc := ledger.NewService(ledgerStore, nil)
	engine := NewEngine(accounts, svc, portfolio.NewReconstructor(ledgerStore), nil, 5)
	return engine, accounts, ledgerStore
}

func balance(t *testing.T, accounts *memory.AccountStore, id string) decimal.Decimal {
	t.Helper()
	account, err := accounts.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return account.Balance
}

func TestTransferMovesMoney(t *testing.T) {
	ctx := context.Background()
	engine, accounts, ledgerStore := newTestEngine(t, nil)
	seedAccount(t, accounts, "U001", 100)
	seedAccount(t, accounts, "U002", 50)

	res, err := engine.Transfer(ctx, "U001", "U002", decimal.NewFromInt(30))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.State != StateCompleted {
		t.Fatalf("state = %s, want COMPLETED", res.State)
	}
	if !balance(t, accounts, "U001").Equal(decimal.NewFromInt(70)) {
		t.Fatalf("source balance = %s, want 70", balance(t, accounts, "U001"))
	}
	if !balance(t, accounts, "U002").Equal(decimal.NewFromInt(80)) {
		t.Fatalf("destination balance = %s, want 80", balance(t, accounts, "U002"))
	}

	records, err := ledgerStore.Scan(ctx, storeFilterAll())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if res.DebitRecord.Direction != core.DirectionDebit || res.DebitRecord.UserID != "U001" || res.DebitRecord.CounterpartyID != "U002" {
		t.Fatalf("debit record wrong: %+v", res.DebitRecord)
	}
	if res.CreditRecord.Direction != core.DirectionCredit || res.CreditRecord.UserID != "U002" || res.CreditRecord.CounterpartyID != "U001" {
		t.Fatalf("credit record wrong: %+v", res.CreditRecord)
	}
	if !res.DebitRecord.Amount.Equal(res.CreditRecord.Amount) {
		t.Fatal("leg amounts must match")
	}
}

func TestTransferValidation(t *testing.T) {
	ctx := context.Background()
	engine, accounts, _ := newTestEngine(t, nil)
	seedAccount(t, accounts, "U001", 100)
	seedAccount(t, accounts, "U002", 100)

	if _, err := engine.Transfer(ctx, "U001", "U002", decimal.Zero); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v", err)
	}
	if _, err := engine.Transfer(ctx, "U001", "U002", decimal.NewFromInt(-5)); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("negative amount: got %v", err)
	}
	if _, err := engine.Transfer(ctx, "U001", "U001", decimal.NewFromInt(5)); !errors.Is(err, core.ErrSameAccount) {
		t.Fatalf("self transfer: got %v", err)
	}
	if !balance(t, accounts, "U001").Equal(decimal.NewFromInt(100)) {
		t.Fatal("rejected transfers must not move money")
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	engine, accounts, ledgerStore := newTestEngine(t, nil)
	seedAccount(t, accounts, "U001", 100)
	seedAccount(t, accounts, "U002", 50)

	_, err := engine.Transfer(ctx, "U001", "U002", decimal.NewFromInt(200))
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if !balance(t, accounts, "U001").Equal(decimal.NewFromInt(100)) || !balance(t, accounts, "U002").Equal(decimal.NewFromInt(50)) {
		t.Fatal("failed transfer must leave both balances unchanged")
	}
	records, _ := ledgerStore.Scan(ctx, storeFilterAll())
	if len(records) != 0 {
		t.Fatalf("failed transfer must not write records, got %d", len(records))
	}
}

func TestTransferDestinationChecks(t *testing.T) {
	ctx := context.Background()
	engine, accounts, _ := newTestEngine(t, nil)
	seedAccount(t, accounts, "U001", 100)

	if _, err := engine.Transfer(ctx, "U001", "U404", decimal.NewFromInt(10)); !errors.Is(err, core.ErrAccountNotFound) {
		t.Fatalf("missing destination: got %v", err)
	}

	seedAccount(t, accounts, "U002", 50)
	if err := accounts.UpdateStatus(ctx, "U002", core.StatusInactive); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := engine.Transfer(ctx, "U001", "U002", decimal.NewFromInt(10)); !errors.Is(err, core.ErrAccountInactive) {
		t.Fatalf("inactive destination: got %v", err)
	}
	if !balance(t, accounts, "U001").Equal(decimal.NewFromInt(100)) {
		t.Fatal("source must be untouched when the destination check fails")
	}
}

func TestTransferRollbackOnDebitRecordFailure(t *testing.T) {
	ctx := context.Background()
	engine, accounts, ledgerStore := newTestEngine(t, map[int]bool{1: true})
	seedAccount(t, accounts, "U001", 100)
	seedAccount(t, accounts, "U002", 50)

	res, err := engine.Transfer(ctx, "U001", "U002", decimal.NewFromInt(30))
	if !errors.Is(err, core.ErrPartialFailureRolledBack) {
		t.Fatalf("got %v, want ErrPartialFailureRolledBack", err)
	}
	if res.State != StateRolledBack {
		t.Fatalf("state = %s, want ROLLED_BACK", res.State)
	}
	if !balance(t, accounts, "U001").Equal(decimal.NewFromInt(100)) || !balance(t, accounts, "U002").Equal(decimal.NewFromInt(50)) {
		t.Fatal("compensation must restore both balances")
	}
	// Nothing reached the ledger, so no compensation record either.
	records, _ := ledgerStore.Scan(ctx, storeFilterAll())
	if len(records) != 0 {
		t.Fatalf("ledger should be empty, got %d records", len(records))
	}
}

func TestTransferRollbackOnCreditRecordFailure(t *testing.T) {
	ctx := context.Background()
	engine, accounts, ledgerStore := newTestEngine(t, map[int]bool{2: true})
	seedAccount(t, accounts, "U001", 100)
	seedAccount(t, accounts, "U002", 50)

	_, err := engine.Transfer(ctx, "U001", "U002", decimal.NewFromInt(30))
	if !errors.Is(err, core.ErrPartialFailureRolledBack) {
		t.Fatalf("got %v, want ErrPartialFailureRolledBack", err)
	}
	if !balance(t, accounts, "U001").Equal(decimal.NewFromInt(100)) || !balance(t, accounts, "U002").Equal(decimal.NewFromInt(50)) {
		t.Fatal("compensation must restore both balances")
	}

	// The committed debit record is paired with a compensating credit,
	// so the source's ledger view nets to zero.
	records, _ := ledgerStore.Scan(ctx, storeFilterAll())
	if len(records) != 2 {
		t.Fatalf("got %d records, want debit + compensating credit", len(records))
	}
	net := decimal.Zero
	for _, rec := range records {
		if rec.UserID != "U001" {
			t.Fatalf("unexpected record for %s", rec.UserID)
		}
		if rec.Direction == core.DirectionDebit {
			net = net.Sub(rec.Amount)
		} else {
			net = net.Add(rec.Amount)
		}
	}
	if !net.IsZero() {
		t.Fatalf("source ledger net = %s, want 0", net)
	}
}

func TestConcurrentTransfersConserveTotal(t *testing.T) {
	ctx := context.Background()
	accounts := memory.NewAccountStore()
	ledgerStore := memory.NewLedgerStore()
	svc := ledger.NewService(ledgerStore, nil)
	engine := NewEngine(accounts, svc, portfolio.NewReconstructor(ledgerStore), nil, 100)

	seedAccount(t, accounts, "U001", 1000)
	seedAccount(t, accounts, "U002", 1000)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := engine.Transfer(ctx, "U001", "U002", decimal.NewFromInt(10)); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := engine.Transfer(ctx, "U002", "U001", decimal.NewFromInt(5)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent transfer failed: %v", err)
	}

	total := balance(t, accounts, "U001").Add(balance(t, accounts, "U002"))
	if !total.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("total = %s, want 2000", total)
	}
	if !balance(t, accounts, "U001").Equal(decimal.NewFromInt(1000 - 8*10 + 8*5)) {
		t.Fatalf("U001 = %s", balance(t, accounts, "U001"))
	}
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	ctx := context.Background()

	// Two transfers that each fit alone but not together: the conditional
	// write lets at most one through, the loser re-reads and sees 30.
	for i := 0; i < 25; i++ {
		accounts := memory.NewAccountStore()
		ledgerStore := memory.NewLedgerStore()
		svc := ledger.NewService(ledgerStore, nil)
		engine := NewEngine(accounts, svc, portfolio.NewReconstructor(ledgerStore), nil, 100)

		seedAccount(t, accounts, "U001", 100)
		seedAccount(t, accounts, "U002", 0)

		var wg sync.WaitGroup
		results := make(chan error, 2)
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := engine.Transfer(ctx, "U001", "U002", decimal.NewFromInt(70))
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		successes := 0
		for err := range results {
			if err == nil {
				successes++
			} else if !errors.Is(err, core.ErrInsufficientBalance) {
				t.Fatalf("losing transfer: got %v, want ErrInsufficientBalance", err)
			}
		}
		if successes > 1 {
			t.Fatalf("both transfers succeeded against a balance of 100")
		}

		src := balance(t, accounts, "U001")
		if src.IsNegative() {
			t.Fatalf("source overdrawn: %s", src)
		}
		if total := src.Add(balance(t, accounts, "U002")); !total.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("total = %s, want 100", total)
		}
	}
}

func TestInvestBuyAndSell(t *testing.T) {
	ctx := context.Background()
	engine, accounts, _ := newTestEngine(t, nil)
	seedAccount(t, accounts, "U001", 100)

	buy, err := engine.InvestInSecurity(ctx, "U001", "ACME", decimal.NewFromInt(4), decimal.NewFromInt(10), core.SideBuy)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !buy.NewBalance.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("balance after buy = %s, want 60", buy.NewBalance)
	}
	if buy.Record.Direction != core.DirectionDebit || !buy.Record.IsInvestment() || buy.Record.CounterpartyID != "ACME" {
		t.Fatalf("buy record wrong: %+v", buy.Record)
	}
	if !buy.Amount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("buy amount = %s, want 40", buy.Amount)
	}

	sell, err := engine.InvestInSecurity(ctx, "U001", "ACME", decimal.NewFromInt(1), decimal.NewFromInt(15), core.SideSell)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !sell.NewBalance.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("balance after sell = %s, want 75", sell.NewBalance)
	}
	if sell.Record.Direction != core.DirectionCredit {
		t.Fatalf("sell record wrong: %+v", sell.Record)
	}
}

func TestInvestValidation(t *testing.T) {
	ctx := context.Background()
	engine, accounts, _ := newTestEngine(t, nil)
	seedAccount(t, accounts, "U001", 100)

	if _, err := engine.InvestInSecurity(ctx, "U001", " ", decimal.NewFromInt(1), decimal.NewFromInt(1), core.SideBuy); !errors.Is(err, core.ErrInvalidInstrument) {
		t.Fatalf("blank instrument: got %v", err)
	}
	if _, err := engine.InvestInSecurity(ctx, "U001", "ACME", decimal.Zero, decimal.NewFromInt(1), core.SideBuy); !errors.Is(err, core.ErrInvalidQuantity) {
		t.Fatalf("zero quantity: got %v", err)
	}
	if _, err := engine.InvestInSecurity(ctx, "U001", "ACME", decimal.NewFromInt(1), decimal.Zero, core.SideBuy); !errors.Is(err, core.ErrInvalidPrice) {
		t.Fatalf("zero price: got %v", err)
	}
}

func TestInvestBuyInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	engine, accounts, _ := newTestEngine(t, nil)
	seedAccount(t, accounts, "U001", 30)

	_, err := engine.InvestInSecurity(ctx, "U001", "ACME", decimal.NewFromInt(4), decimal.NewFromInt(10), core.SideBuy)
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if !balance(t, accounts, "U001").Equal(decimal.NewFromInt(30)) {
		t.Fatal("failed buy must not move cash")
	}
}

func TestInvestSellWithoutHoldings(t *testing.T) {
	ctx := context.Background()
	engine, accounts, _ := newTestEngine(t, nil)
	seedAccount(t, accounts, "U001", 100)

	_, err := engine.InvestInSecurity(ctx, "U001", "ACME", decimal.NewFromInt(1), decimal.NewFromInt(10), core.SideSell)
	if !errors.Is(err, core.ErrInsufficientHoldings) {
		t.Fatalf("got %v, want ErrInsufficientHoldings", err)
	}

	// Buy 2, then try to sell 3.
	if _, err := engine.InvestInSecurity(ctx, "U001", "ACME", decimal.NewFromInt(2), decimal.NewFromInt(10), core.SideBuy); err != nil {
		t.Fatalf("buy: %v", err)
	}
	_, err = engine.InvestInSecurity(ctx, "U001", "ACME", decimal.NewFromInt(3), decimal.NewFromInt(10), core.SideSell)
	if !errors.Is(err, core.ErrInsufficientHoldings) {
		t.Fatalf("oversell: got %v", err)
	}
}

func TestInvestRollbackOnRecordFailure(t *testing.T) {
	ctx := context.Background()
	engine, accounts, ledgerStore := newTestEngine(t, map[int]bool{1: true})
	seedAccount(t, accounts, "U001", 100)

	_, err := engine.InvestInSecurity(ctx, "U001", "ACME", decimal.NewFromInt(2), decimal.NewFromInt(10), core.SideBuy)
	if !errors.Is(err, core.ErrPartialFailureRolledBack) {
		t.Fatalf("got %v, want ErrPartialFailureRolledBack", err)
	}
	if !balance(t, accounts, "U001").Equal(decimal.NewFromInt(100)) {
		t.Fatal("cash leg must be reversed when the record append fails")
	}
	records, _ := ledgerStore.Scan(ctx, storeFilterAll())
	if len(records) != 0 {
		t.Fatalf("ledger should be empty, got %d records", len(records))
	}
}

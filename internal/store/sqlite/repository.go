// Package sqlite implements the store interfaces on a local SQLite database.
// Balances and amounts are persisted as canonical decimal strings (the
// output of decimal.Decimal.String), so the equality predicate of the
// conditional balance update compares like with like.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"wealthbook/internal/core"
	"wealthbook/internal/store"
)

type Repository struct {
	db *sql.DB
}

var (
	_ store.AccountStore = (*Repository)(nil)
	_ store.LedgerStore  = (*Repository)(nil)
)

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, userID string) (core.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT user_id, username, balance, user_role, status FROM accounts WHERE user_id = ?`, userID)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("%w: account %s", store.ErrNotFound, userID)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account %s: %w", userID, err)
	}
	return account, nil
}

func (r *Repository) Put(ctx context.Context, account core.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, username, balance, user_role, status)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   username = excluded.username,
		   user_role = excluded.user_role,
		   status = excluded.status,
		   updated_at = CURRENT_TIMESTAMP`,
		account.UserID, account.Username, account.Balance.String(), string(account.Role), string(account.Status))
	if err != nil {
		return fmt.Errorf("put account %s: %w", account.UserID, err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, username, balance, user_role, status FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		out = append(out, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, userID string, status core.Status) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`,
		string(status), userID)
	if err != nil {
		return fmt.Errorf("update status for %s: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status for %s: %w", userID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: account %s", store.ErrNotFound, userID)
	}
	return nil
}

// ConditionalUpdateBalance applies the optimistic write: the UPDATE only
// matches when the stored balance still equals the expected value read by
// the caller. Zero rows affected means another writer got there first.
func (r *Repository) ConditionalUpdateBalance(ctx context.Context, userID string, expected, updated decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ? AND balance = ?`,
		updated.String(), userID, expected.String())
	if err != nil {
		return fmt.Errorf("conditional balance update for %s: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conditional balance update for %s: %w", userID, err)
	}
	if affected == 0 {
		if _, getErr := r.Get(ctx, userID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: account %s", store.ErrConditionFailed, userID)
	}
	return nil
}

func (r *Repository) Append(ctx context.Context, record core.TransactionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions
		   (transaction_id, user_id, counterparty_id, direction, amount, timestamp, instrument, quantity, price_per_unit)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.TransactionID, record.UserID, record.CounterpartyID, string(record.Direction),
		record.Amount.String(), record.Timestamp,
		record.Instrument, record.Quantity.String(), record.PricePerUnit.String())
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", record.TransactionID, err)
	}

	slog.InfoContext(ctx, "Ledger record appended",
		"transaction_id", record.TransactionID,
		"user_id", record.UserID,
		"direction", string(record.Direction),
		"amount", record.Amount.String())
	return nil
}

func (r *Repository) Scan(ctx context.Context, filter store.ScanFilter) ([]core.TransactionRecord, error) {
	query := `SELECT transaction_id, user_id, counterparty_id, direction, amount, timestamp, instrument, quantity, price_per_unit
	          FROM transactions`
	var (
		where []string
		args  []any
	)
	if filter.AccountID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.InvestmentsOnly {
		where = append(where, "instrument != ''")
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY timestamp, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan transactions: %w", err)
	}
	defer rows.Close()

	var out []core.TransactionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transactions: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan transactions: %w", err)
	}
	return out, nil
}

// GetRecord fetches one ledger record by its id. Used by the mirror worker.
func (r *Repository) GetRecord(ctx context.Context, transactionID string) (core.TransactionRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT transaction_id, user_id, counterparty_id, direction, amount, timestamp, instrument, quantity, price_per_unit
		 FROM transactions WHERE transaction_id = ?`, transactionID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.TransactionRecord{}, fmt.Errorf("%w: transaction %s", store.ErrNotFound, transactionID)
	}
	if err != nil {
		return core.TransactionRecord{}, fmt.Errorf("get transaction %s: %w", transactionID, err)
	}
	return record, nil
}

// ListUnmirrored returns records not yet exported to the spreadsheet mirror,
// oldest first. Backup path for lost queue messages.
func (r *Repository) ListUnmirrored(ctx context.Context, limit int) ([]core.TransactionRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT transaction_id, user_id, counterparty_id, direction, amount, timestamp, instrument, quantity, price_per_unit
		 FROM transactions WHERE mirrored = 0 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unmirrored transactions: %w", err)
	}
	defer rows.Close()

	var out []core.TransactionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list unmirrored transactions: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unmirrored transactions: %w", err)
	}
	return out, nil
}

// MarkMirrored flags a record as exported. The mirrored flag is worker
// bookkeeping, not ledger state; the record itself stays immutable.
func (r *Repository) MarkMirrored(ctx context.Context, transactionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET mirrored = 1 WHERE transaction_id = ?`, transactionID)
	if err != nil {
		return fmt.Errorf("mark transaction %s mirrored: %w", transactionID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (core.Account, error) {
	var (
		account core.Account
		balance string
		role    string
		status  string
	)
	if err := row.Scan(&account.UserID, &account.Username, &balance, &role, &status); err != nil {
		return core.Account{}, err
	}
	parsed, err := decimal.NewFromString(balance)
	if err != nil {
		return core.Account{}, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	account.Balance = parsed
	account.Role = core.Role(role)
	account.Status = core.Status(status)
	return account, nil
}

func scanRecord(row rowScanner) (core.TransactionRecord, error) {
	var (
		record    core.TransactionRecord
		direction string
		amount    string
		quantity  string
		price     string
	)
	if err := row.Scan(&record.TransactionID, &record.UserID, &record.CounterpartyID,
		&direction, &amount, &record.Timestamp, &record.Instrument, &quantity, &price); err != nil {
		return core.TransactionRecord{}, err
	}
	record.Direction = core.Direction(direction)
	var err error
	if record.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.TransactionRecord{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if record.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return core.TransactionRecord{}, fmt.Errorf("parse quantity %q: %w", quantity, err)
	}
	if record.PricePerUnit, err = decimal.NewFromString(price); err != nil {
		return core.TransactionRecord{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	return record, nil
}

package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"

	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"

	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"

	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TimestampLayout is the wire and storage format for ledger timestamps.
// Lexicographic order of formatted values equals chronological order.
const TimestampLayout = "2006-01-02 15:04:05"

type (
	Role      string
	Status    string
	Direction string

	// Side is the investment order side; BUY debits cash, SELL credits it.
	Side string

	// Account is a balance-carrying user record. Balances are mutated only
	// through conditional writes issued by the transfer engine.
	Account struct {
		UserID   string
		Username string
		Balance  decimal.Decimal
		Role     Role
		Status   Status
	}

	// TransactionRecord is one immutable ledger entry. A cash transfer
	// produces two of them, equal amount and opposite direction, each
	// naming the other party as counterparty. Investment legs carry the
	// instrument fields and use the instrument symbol as counterparty.
	TransactionRecord struct {
		TransactionID  string
		UserID         string
		CounterpartyID string
		Direction      Direction
		Amount         decimal.Decimal
		Timestamp      string

		Instrument   string
		Quantity     decimal.Decimal
		PricePerUnit decimal.Decimal
	}

	// Position is an account's net holding of one instrument, derived by
	// replaying the ledger. Never persisted.
	Position struct {
		Instrument           string
		NetQuantity          decimal.Decimal
		WeightedAveragePrice decimal.Decimal
		LastDirection        Direction
		LastActivity         string
	}
)

// IsInvestment reports whether the record is an investment leg.
func (r TransactionRecord) IsInvestment() bool {
	return r.Instrument != ""
}

// FormatTimestamp renders t in the ledger timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// NormalizeRole maps arbitrary input to a valid role, defaulting to USER.
func NormalizeRole(role string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(role))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleUser:
		return RoleUser
	default:
		return RoleUser
	}
}

// NormalizeSide parses an order side, accepting any casing.
func NormalizeSide(side string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(side))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", ErrInvalidSide
	}
}

// Direction returns the cash-leg direction for the side.
func (s Side) Direction() Direction {
	if s == SideSell {
		return DirectionCredit
	}
	return DirectionDebit
}

// IsActive reports whether the account can take part in transfers.
func (a Account) IsActive() bool {
	return a.Status == StatusActive
}

// Validate checks the structural invariants of an account record.
func (a Account) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(a.Username) == "" {
		return ErrEmptyUsername
	}
	if a.Balance.IsNegative() {
		return ErrNegativeBalance
	}
	switch a.Role {
	case RoleAdmin, RoleUser:
	default:
		return ErrInvalidRole
	}
	switch a.Status {
	case StatusActive, StatusInactive:
	default:
		return ErrInvalidStatus
	}
	return nil
}

// Validate checks a record before it is appended to the ledger.
func (r TransactionRecord) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrEmptyUserID
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	switch r.Direction {
	case DirectionDebit, DirectionCredit:
	default:
		return ErrInvalidDirection
	}
	if r.IsInvestment() {
		if !r.Quantity.IsPositive() {
			return ErrInvalidQuantity
		}
		if !r.PricePerUnit.IsPositive() {
			return ErrInvalidPrice
		}
	}
	return nil
}

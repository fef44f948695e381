package amqp

import (
	"encoding/json"
	"time"
)

// LedgerAppendedMessage announces one new ledger record. It carries only the
// ids; the mirror worker fetches the full record from the database so the
// queue never becomes an alternative source of truth.
type LedgerAppendedMessage struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewLedgerAppendedMessage(transactionID, userID string) *LedgerAppendedMessage {
	return &LedgerAppendedMessage{
		TransactionID: transactionID,
		UserID:        userID,
		Timestamp:     time.Now(),
	}
}

func (m *LedgerAppendedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerAppendedMessageFromJSON(data []byte) (*LedgerAppendedMessage, error) {
	var msg LedgerAppendedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

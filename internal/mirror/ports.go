// Package mirror defines the outbound port for replicating ledger
// records to an external audit destination.
package mirror

import (
	"context"

	"wealthbook/internal/core"
)

// RecordWriter appends a ledger record to the mirror destination. The
// returned reference identifies where the record landed (for sheets, a
// cell range).
type RecordWriter interface {
	Append(ctx context.Context, record core.TransactionRecord) (rowRef string, err error)
}

// Package worker replicates committed ledger records to the configured
// mirror destination. It is driven by AMQP notifications, with a
// periodic sweep over unmirrored rows as a backstop for lost messages.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"wealthbook/internal/amqp"
	"wealthbook/internal/mirror"
	"wealthbook/internal/store/sqlite"
)

type MirrorWorker struct {
	repo      *sqlite.Repository
	writer    mirror.RecordWriter
	batchSize int
}

func NewMirrorWorker(repo *sqlite.Repository, writer mirror.RecordWriter, batchSize int) *MirrorWorker {
	return &MirrorWorker{
		repo:      repo,
		writer:    writer,
		batchSize: batchSize,
	}
}

// HandleLedgerAppended processes a single ledger notification from
// AMQP: load the record, mirror it, mark it mirrored.
func (w *MirrorWorker) HandleLedgerAppended(ctx context.Context, msg *amqp.LedgerAppendedMessage) error {
	slog.InfoContext(ctx, "Processing ledger notification",
		"transaction_id", msg.TransactionID,
		"user_id", msg.UserID)

	record, err := w.repo.GetRecord(ctx, msg.TransactionID)
	if err != nil {
		return fmt.Errorf("get record from storage: %w", err)
	}

	rowRef, err := w.writer.Append(ctx, record)
	if err != nil {
		return fmt.Errorf("mirror record: %w", err)
	}

	if err := w.repo.MarkMirrored(ctx, record.TransactionID); err != nil {
		return fmt.Errorf("mark record mirrored: %w", err)
	}

	slog.InfoContext(ctx, "Record mirrored",
		"transaction_id", record.TransactionID,
		"row_ref", rowRef)
	return nil
}

// ProcessUnmirrored mirrors any records the notification path missed.
// This is a backup mechanism in case AMQP messages are lost.
func (w *MirrorWorker) ProcessUnmirrored(ctx context.Context) error {
	records, err := w.repo.ListUnmirrored(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list unmirrored records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing unmirrored records", "count", len(records))

	for _, record := range records {
		rowRef, err := w.writer.Append(ctx, record)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to mirror record",
				"transaction_id", record.TransactionID,
				"error", err)
			continue
		}
		if err := w.repo.MarkMirrored(ctx, record.TransactionID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark record mirrored",
				"transaction_id", record.TransactionID,
				"error", err)
			continue
		}
		slog.InfoContext(ctx, "Record mirrored",
			"transaction_id", record.TransactionID,
			"row_ref", rowRef)
	}

	return nil
}

// StartupCheck drains the unmirrored backlog once before the consumer
// loop starts.
func (w *MirrorWorker) StartupCheck(ctx context.Context) error {
	slog.InfoContext(ctx, "Running startup mirror check")
	return w.ProcessUnmirrored(ctx)
}

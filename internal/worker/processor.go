package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"giftpool/internal/model"
	"giftpool/internal/repository"
)

// DebitSyncer applies a cached key debit to the durable ledger.
type DebitSyncer interface {
	SyncDebit(ctx context.Context, event model.KeyDebitEvent) error
}

// BatchRecorder persists a finished batch and its item outcomes.
type BatchRecorder interface {
	RecordBatch(ctx context.Context, event model.BatchCompletedEvent) error
}

// TransactionWorker listens on the ledger and gift topics and syncs events
// into PostgreSQL. Runs off the request path so a slow database never delays
// a batch.
type TransactionWorker struct {
	debits   DebitSyncer
	batches  BatchRecorder
	natsConn *nats.Conn
}

func NewTransactionWorker(debits DebitSyncer, batches BatchRecorder, nc *nats.Conn) *TransactionWorker {
	return &TransactionWorker{
		debits:   debits,
		batches:  batches,
		natsConn: nc,
	}
}

// Run subscribes to both topics and blocks until ctx is cancelled.
func (w *TransactionWorker) Run(ctx context.Context) error {
	// QueueSubscribe: with several replicas running, each event is handled
	// by exactly one worker in the group.
	debitSub, err := w.natsConn.QueueSubscribe(repository.TopicKeyDebited, "worker_group", func(m *nats.Msg) {
		var event model.KeyDebitEvent
		if err := json.Unmarshal(m.Data, &event); err != nil {
			slog.Error("worker: failed to unmarshal key debit event", "error", err)
			return
		}

		if err := w.debits.SyncDebit(ctx, event); err != nil {
			slog.Error("worker: failed to sync key debit",
				"key", event.Key,
				"idempotency_key", event.IdempotencyKey,
				"error", err,
			)
			return
		}

		slog.Info("worker: key debit synced",
			"key", event.Key,
			"amount", event.Amount,
			"idempotency_key", event.IdempotencyKey,
		)
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to NATS: %w", err)
	}

	batchSub, err := w.natsConn.QueueSubscribe(repository.TopicBatchCompleted, "worker_group", func(m *nats.Msg) {
		var event model.BatchCompletedEvent
		if err := json.Unmarshal(m.Data, &event); err != nil {
			slog.Error("worker: failed to unmarshal batch event", "error", err)
			return
		}

		if err := w.batches.RecordBatch(ctx, event); err != nil {
			slog.Error("worker: failed to record batch",
				"batch_id", event.BatchID,
				"error", err,
			)
			return
		}

		slog.Info("worker: batch recorded",
			"batch_id", event.BatchID,
			"items", len(event.Results),
		)
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to NATS: %w", err)
	}

	slog.Info("Transaction worker is running")

	<-ctx.Done()

	slog.Info("Worker received shutdown signal, draining subscriptions...")
	if err := debitSub.Drain(); err != nil {
		return err
	}
	return batchSub.Drain()
}

// Start implements the infrastructure.Server interface.
func (w *TransactionWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *TransactionWorker) Stop(ctx context.Context) error {
	return nil
}

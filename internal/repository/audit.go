package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"giftpool/internal/model"
)

// AuditStore persists finished batches and their per-item outcomes.
// Written only by the transaction worker, never on the request path.
type AuditStore struct {
	dbPool *pgxpool.Pool
}

func NewAuditStore(db *pgxpool.Pool) *AuditStore {
	return &AuditStore{dbPool: db}
}

// RecordBatch inserts the batch row and its items, exactly once per batch ID.
func (s *AuditStore) RecordBatch(ctx context.Context, event model.BatchCompletedEvent) error {
	tx, err := s.dbPool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insBatch := `
		INSERT INTO gift_batches (batch_id, api_key, friend_code, price_nominal, realized_spend, rate_limit_hit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (batch_id) DO NOTHING`
	tag, err := tx.Exec(ctx, insBatch,
		event.BatchID,
		event.Key,
		event.FriendCode,
		event.PriceNominal,
		event.RealizedSpend,
		event.RateLimitHit,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording batch %s: %w", event.BatchID, err)
	}
	if tag.RowsAffected() == 0 {
		// Already recorded by a previous delivery.
		return nil
	}

	insItem := `
		INSERT INTO gift_items (batch_id, item_id, price_nominal, status, error_code, account_used, realized_debit)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)`
	for _, r := range event.Results {
		_, err := tx.Exec(ctx, insItem,
			event.BatchID,
			r.ItemID,
			r.PriceNominal,
			string(r.Status),
			r.ErrorCode,
			r.AccountUsed,
			r.RealizedDebit,
		)
		if err != nil {
			return fmt.Errorf("recording item %s of batch %s: %w", r.ItemID, event.BatchID, err)
		}
	}

	return tx.Commit(ctx)
}

package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"giftpool/internal/model"
)

//go:embed debit.lua
var debitLuaScript string

var (
	ErrAlreadyProcessed = errors.New("debit already processed (idempotency)")
	ErrCacheMiss        = errors.New("key balance not found in cache")
	ErrKeyInsufficient  = errors.New("insufficient key balance")
	ErrKeyNotFound      = errors.New("key not found")
)

// KeyLedger holds prepaid key balances. Redis is the primary balance store
// (debits go through a Lua script so concurrent batches can never
// double-apply); Postgres keeps the durable row and the active flag and is
// synced asynchronously through the bus.
type KeyLedger struct {
	redisClient *redis.Client
	dbPool      *pgxpool.Pool
	bus         MessageBus
}

func NewKeyLedger(rdb *redis.Client, db *pgxpool.Pool, bus MessageBus) *KeyLedger {
	return &KeyLedger{
		redisClient: rdb,
		dbPool:      db,
		bus:         bus,
	}
}

// Get returns the key with its freshest known balance. The active flag always
// comes from Postgres; the balance comes from the Redis cache when warm.
func (l *KeyLedger) Get(ctx context.Context, key string) (*model.ApiKey, error) {
	var k model.ApiKey
	query := `SELECT id, balance, active FROM api_keys WHERE id = $1`
	err := l.dbPool.QueryRow(ctx, query, key).Scan(&k.ID, &k.Balance, &k.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("key lookup: %w", err)
	}

	cached, err := l.redisClient.Get(ctx, balanceKey(key)).Int64()
	switch {
	case err == nil:
		k.Balance = cached
	case errors.Is(err, redis.Nil):
		// Warm the cache from the durable row so the next debit is hot.
		if err := l.redisClient.Set(ctx, balanceKey(key), k.Balance, 0).Err(); err != nil {
			return nil, fmt.Errorf("failed to save key balance to Redis: %w", err)
		}
	default:
		return nil, fmt.Errorf("key balance cache read: %w", err)
	}
	return &k, nil
}

// Debit subtracts amount from the key's balance atomically. If the cache is
// empty, it fetches the balance from the DB and retries. A successful debit
// publishes a sync event for the durable ledger.
func (l *KeyLedger) Debit(ctx context.Context, key string, amount int64, idempotencyKey string) (int64, error) {
	newBalance, err := l.executeLua(ctx, key, amount, idempotencyKey)

	if errors.Is(err, ErrCacheMiss) {
		slog.Info("cold start for key balance, going to PostgreSQL", "key", key)

		if err := l.warmUpCache(ctx, key); err != nil {
			return 0, err
		}
		return l.executeLua(ctx, key, amount, idempotencyKey)
	}

	return newBalance, err
}

func (l *KeyLedger) executeLua(ctx context.Context, key string, amount int64, idempotencyKey string) (int64, error) {
	keys := []string{balanceKey(key), fmt.Sprintf("idem:%s", idempotencyKey)}
	args := []interface{}{amount}

	result, err := l.redisClient.Eval(ctx, debitLuaScript, keys, args...).Result()
	if err != nil {
		return 0, fmt.Errorf("error executing Lua script: %w", err)
	}

	resArray, ok := result.([]interface{})
	if !ok || len(resArray) < 2 {
		return 0, errors.New("unexpected response format from Redis")
	}

	statusCode := resArray[0].(int64)

	switch statusCode {
	case 1:
		newBalance := resArray[1].(int64)
		event := model.KeyDebitEvent{
			Key:            key,
			Amount:         amount,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      time.Now().UTC(),
		}
		eventData, _ := json.Marshal(event)
		if err := l.bus.Publish(TopicKeyDebited, eventData); err != nil {
			slog.Error("failed to publish key debit event", "key", key, "error", err)
		}
		return newBalance, nil
	case 0:
		return 0, ErrAlreadyProcessed
	case -1:
		return 0, ErrCacheMiss
	case -2:
		return 0, ErrKeyInsufficient
	default:
		return 0, fmt.Errorf("unknown status from Lua: %d", statusCode)
	}
}

// warmUpCache fetches the key balance from Postgres and puts it into Redis.
func (l *KeyLedger) warmUpCache(ctx context.Context, key string) error {
	var currentBalance int64

	query := `SELECT balance FROM api_keys WHERE id = $1`
	err := l.dbPool.QueryRow(ctx, query, key).Scan(&currentBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("database query error: %w", err)
	}

	// No TTL: Redis is the primary balance store, not a throwaway cache.
	if err := l.redisClient.Set(ctx, balanceKey(key), currentBalance, 0).Err(); err != nil {
		return fmt.Errorf("failed to save key balance to Redis: %w", err)
	}

	return nil
}

// SyncDebit applies a debit event to the durable key row, exactly once per
// idempotency key. Called by the transaction worker.
func (l *KeyLedger) SyncDebit(ctx context.Context, event model.KeyDebitEvent) error {
	tx, err := l.dbPool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ins := `
		INSERT INTO key_transactions (idempotency_key, api_key, amount, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING`
	tag, err := tx.Exec(ctx, ins, event.IdempotencyKey, event.Key, event.Amount, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording key transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already synced by a previous delivery.
		return nil
	}

	upd := `
		UPDATE api_keys
		SET balance = balance - $2, updated_at = now()
		WHERE id = $1 AND balance >= $2`
	tag, err = tx.Exec(ctx, upd, event.Key, event.Amount)
	if err != nil {
		return fmt.Errorf("applying key debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("durable balance for key %s is behind the cache: %w", event.Key, ErrKeyInsufficient)
	}

	return tx.Commit(ctx)
}

func balanceKey(key string) string {
	return fmt.Sprintf("balance:key:%s", key)
}

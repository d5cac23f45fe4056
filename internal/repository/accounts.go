package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"giftpool/internal/model"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	// ErrBalanceConflict means the stored balance no longer matches the value
	// the caller observed; re-read and retry.
	ErrBalanceConflict = errors.New("account balance changed concurrently")
)

// AccountStore is the durable table of pooled game accounts.
type AccountStore struct {
	dbPool *pgxpool.Pool
}

func NewAccountStore(db *pgxpool.Pool) *AccountStore {
	return &AccountStore{dbPool: db}
}

// ListAvailable returns every unblocked account with a positive balance,
// ordered by balance descending. Expired blocks are cleared durably before
// the scan, so a previously quarantined account becomes eligible again
// without manual intervention.
func (s *AccountStore) ListAvailable(ctx context.Context) ([]model.Account, error) {
	clear := `
		UPDATE accounts
		SET blocked_until = NULL, block_reason = NULL
		WHERE blocked_until IS NOT NULL AND blocked_until <= now()`
	if _, err := s.dbPool.Exec(ctx, clear); err != nil {
		return nil, fmt.Errorf("clearing expired blocks: %w", err)
	}

	query := `
		SELECT login, password, balance, blocked_until, block_reason
		FROM accounts
		WHERE blocked_until IS NULL AND balance > 0
		ORDER BY balance DESC, login`
	rows, err := s.dbPool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing available accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var reason *string
		if err := rows.Scan(&a.Login, &a.Password, &a.Balance, &a.BlockedUntil, &reason); err != nil {
			return nil, err
		}
		if reason != nil {
			a.BlockReason = *reason
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *AccountStore) Get(ctx context.Context, login string) (*model.Account, error) {
	query := `
		SELECT login, password, balance, blocked_until, block_reason
		FROM accounts
		WHERE login = $1`
	var a model.Account
	var reason *string
	err := s.dbPool.QueryRow(ctx, query, login).Scan(&a.Login, &a.Password, &a.Balance, &a.BlockedUntil, &reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if reason != nil {
		a.BlockReason = *reason
	}
	return &a, nil
}

// UpdateBalance sets the account balance to the remote-reported value, but
// only if the stored balance still equals what the caller last observed.
// Returns ErrBalanceConflict when another batch got there first.
func (s *AccountStore) UpdateBalance(ctx context.Context, login string, observed, newBalance int64) error {
	query := `
		UPDATE accounts
		SET balance = $3, updated_at = now()
		WHERE login = $1 AND balance = $2`
	tag, err := s.dbPool.Exec(ctx, query, login, observed, newBalance)
	if err != nil {
		return fmt.Errorf("updating balance for %s: %w", login, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, login); err != nil {
			return err
		}
		return ErrBalanceConflict
	}
	return nil
}

// Block quarantines an account until the given time. Unconditional: a block
// always wins over a concurrent balance write.
func (s *AccountStore) Block(ctx context.Context, login string, until time.Time, reason string) error {
	query := `
		UPDATE accounts
		SET blocked_until = $2, block_reason = $3, updated_at = now()
		WHERE login = $1`
	tag, err := s.dbPool.Exec(ctx, query, login, until, reason)
	if err != nil {
		return fmt.Errorf("blocking account %s: %w", login, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

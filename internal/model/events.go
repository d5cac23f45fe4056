package model

import "time"

// KeyDebitEvent is published after the aggregate key debit succeeds in Redis
// so the worker can apply the same debit to Postgres idempotently.
type KeyDebitEvent struct {
	Key            string    `json:"key"`
	Amount         int64     `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// BatchCompletedEvent carries the audit trail of one finished batch.
type BatchCompletedEvent struct {
	BatchID       string        `json:"batch_id"`
	Key           string        `json:"key"`
	FriendCode    string        `json:"friend_code"`
	PriceNominal  int64         `json:"price_nominal"`
	RealizedSpend int64         `json:"realized_spend"`
	RateLimitHit  bool          `json:"rate_limit_hit"`
	Results       []ItemOutcome `json:"results"`
	CreatedAt     time.Time     `json:"created_at"`
}

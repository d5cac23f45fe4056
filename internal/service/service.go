package service

import (
	"context"
	"errors"
	"time"

	"giftpool/internal/gameclient"
	"giftpool/internal/model"
)

// GiftService defines the business operations of the gift pool.
// All transport layers (HTTP, NATS) depend on this interface, not on the
// concrete orchestrator.
type GiftService interface {
	SendGifts(ctx context.Context, req model.GiftRequest) (*model.GiftResponse, error)
	KeyBalance(ctx context.Context, key string) (*model.KeyBalanceResponse, error)
}

// AccountStore is the durable pool of game accounts.
type AccountStore interface {
	ListAvailable(ctx context.Context) ([]model.Account, error)
	Get(ctx context.Context, login string) (*model.Account, error)
	// UpdateBalance compare-and-sets the stored balance; implementations
	// return repository.ErrBalanceConflict when observed is stale.
	UpdateBalance(ctx context.Context, login string, observed, newBalance int64) error
	Block(ctx context.Context, login string, until time.Time, reason string) error
}

// KeyLedger is the prepaid key balance store.
type KeyLedger interface {
	Get(ctx context.Context, key string) (*model.ApiKey, error)
	Debit(ctx context.Context, key string, amount int64, idempotencyKey string) (int64, error)
}

// Catalog is the static item price list.
type Catalog interface {
	Lookup(ctx context.Context, itemID string) (*model.CatalogItem, error)
}

// GameClient performs the remote platform calls. A returned error means the
// call produced no decodable response; decoded business outcomes come back as
// gameclient.Outcome values.
type GameClient interface {
	Authenticate(ctx context.Context, account model.Account) (*gameclient.Session, error)
	RegisterChatTag(ctx context.Context, s *gameclient.Session) error
	ResolveFriend(ctx context.Context, friendCode string, s *gameclient.Session) (int64, error)
	Purchase(ctx context.Context, itemID string, friendID int64, s *gameclient.Session) (gameclient.Outcome, error)
}

// Precondition failures, mapped to transport status codes by the handler.
// All of them are raised before any account is touched or any ledger mutated.
var (
	ErrInvalidKey  = errors.New("invalid or inactive key")
	ErrItemCount   = errors.New("item count must be between 1 and 10")
	ErrUnknownItem = errors.New("unknown catalog item")
	ErrKeyBalance  = errors.New("insufficient key balance")
)

package model

import "time"

// GiftRequest is the validated inbound batch: send every item in Items to the
// player identified by FriendCode, paid for by the prepaid Key.
type GiftRequest struct {
	FriendCode string   `json:"friend_code"`
	Items      []string `json:"items"`
	Key        string   `json:"key"`
}

type GiftResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Details GiftDetails `json:"details"`
}

type GiftDetails struct {
	Error               string        `json:"error,omitempty"`
	PriceNominal        int64         `json:"price_nominal"`
	RealizedSpend       int64         `json:"realized_spend"`
	SuccessCount        int           `json:"success_count"`
	TotalItems          int           `json:"total_items"`
	Results             []ItemOutcome `json:"results"`
	AccountsUsed        []string      `json:"accounts_used"`
	RemainingKeyBalance int64         `json:"remaining_key_balance"`
	AvailablePoolCoins  int64         `json:"available_pool_coins,omitempty"`
	FriendCode          string        `json:"friend_code,omitempty"`
}

// ItemStatus is the terminal state of one item's trip through the batch.
type ItemStatus string

const (
	StatusSuccess ItemStatus = "success"
	StatusIgnored ItemStatus = "ignored"
	StatusFailed  ItemStatus = "failed"
	StatusSkipped ItemStatus = "skipped"
)

// ItemOutcome is produced exactly once per requested item, in request order.
type ItemOutcome struct {
	ItemID        string     `json:"item_id"`
	ItemName      string     `json:"item_name"`
	PriceNominal  int64      `json:"price"`
	Status        ItemStatus `json:"status"`
	ErrorCode     string     `json:"error,omitempty"`
	Message       string     `json:"message,omitempty"`
	AccountUsed   string     `json:"account_used,omitempty"`
	RealizedDebit int64      `json:"realized_debit"`
	NewBalance    int64      `json:"new_account_balance,omitempty"`
}

type KeyBalanceResponse struct {
	Key     string `json:"key"`
	Balance int64  `json:"balance"`
	Active  bool   `json:"active"`
}

// Account is a pooled game credential with its own real coin balance.
type Account struct {
	Login        string
	Password     string
	Balance      int64
	BlockedUntil *time.Time
	BlockReason  string
}

// ApiKey is a caller-held prepaid credit balance.
type ApiKey struct {
	ID      string
	Balance int64
	Active  bool
}

type CatalogItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

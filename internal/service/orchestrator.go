package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"giftpool/internal/clock"
	"giftpool/internal/gameclient"
	"giftpool/internal/metrics"
	"giftpool/internal/model"
	"giftpool/internal/repository"
)

const maxItemsPerBatch = 10

// errFriendResolve aborts the whole batch: it can only occur before the first
// purchase attempt, so no ledger has been touched yet.
var errFriendResolve = errors.New("friend code resolution failed")

// Pacing and quarantine policy for one orchestrator instance.
type Pacing struct {
	// LoginDelay is waited after a fresh authentication before the next
	// remote call; SendDelay between consecutive purchase attempts. Both
	// exist to stay under the remote abuse heuristics.
	LoginDelay time.Duration
	SendDelay  time.Duration
	// BlockFor is how long a rate-limited account is quarantined.
	BlockFor time.Duration
}

// Orchestrator drives gift batches: account selection, session reuse,
// purchase outcome handling, quarantine and the two ledgers.
type Orchestrator struct {
	accounts AccountStore
	keys     KeyLedger
	catalog  Catalog
	client   GameClient
	bus      repository.MessageBus
	metrics  *metrics.Metrics
	clk      clock.Clock
	pacing   Pacing
}

func NewOrchestrator(
	accounts AccountStore,
	keys KeyLedger,
	catalog Catalog,
	client GameClient,
	bus repository.MessageBus,
	m *metrics.Metrics,
	clk clock.Clock,
	pacing Pacing,
) *Orchestrator {
	return &Orchestrator{
		accounts: accounts,
		keys:     keys,
		catalog:  catalog,
		client:   client,
		bus:      bus,
		metrics:  m,
		clk:      clk,
		pacing:   pacing,
	}
}

// accountSession is one entry of the in-batch session cache. balance is the
// last remote-reported value for the account and is kept in lockstep with the
// durable row.
type accountSession struct {
	account model.Account
	session *gameclient.Session
	balance int64
}

// batch is the mutable state of one request. Owned exclusively by the
// processing goroutine; discarded when the batch completes.
type batch struct {
	id           string
	req          model.GiftRequest
	sessions     map[string]*accountSession
	order        []string
	friendID     int64
	resolved     bool
	rateLimitHit bool
	attempted    bool
	results      []model.ItemOutcome
}

// SendGifts processes one validated batch end to end. Precondition failures
// return typed errors with zero side effects; everything past the
// preconditions is reported inside the response, never as an error.
func (o *Orchestrator) SendGifts(ctx context.Context, req model.GiftRequest) (*model.GiftResponse, error) {
	// Shape check comes before any store read.
	if len(req.Items) < 1 || len(req.Items) > maxItemsPerBatch {
		return nil, ErrItemCount
	}

	key, err := o.keys.Get(ctx, req.Key)
	if errors.Is(err, repository.ErrKeyNotFound) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, err
	}
	if !key.Active {
		return nil, ErrInvalidKey
	}

	items := make([]model.CatalogItem, 0, len(req.Items))
	var nominalTotal int64
	for _, id := range req.Items {
		item, err := o.catalog.Lookup(ctx, id)
		if errors.Is(err, repository.ErrItemNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownItem, id)
		}
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
		nominalTotal += item.Price
	}

	if key.Balance < nominalTotal {
		return nil, fmt.Errorf("%w: balance %d, need %d", ErrKeyBalance, key.Balance, nominalTotal)
	}

	available, err := o.accounts.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	var poolTotal int64
	for _, a := range available {
		poolTotal += a.Balance
	}
	if poolTotal < nominalTotal {
		slog.Warn("pool balance below nominal total", "pool", poolTotal, "needed", nominalTotal)
		o.metrics.BatchesTotal.WithLabelValues("rejected").Inc()
		return &model.GiftResponse{
			Success: false,
			Message: "insufficient pool balance",
			Details: model.GiftDetails{
				PriceNominal:       nominalTotal,
				TotalItems:         len(req.Items),
				AvailablePoolCoins: poolTotal,
			},
		}, nil
	}

	b := &batch{
		id:       newBatchID(),
		req:      req,
		sessions: make(map[string]*accountSession),
	}

	slog.Info("processing batch",
		"batch_id", b.id,
		"items", len(items),
		"friend_code", req.FriendCode,
		"nominal_total", nominalTotal,
	)

	for i := range items {
		if ctx.Err() != nil {
			slog.Warn("batch cancelled, settling what already completed", "batch_id", b.id, "processed", len(b.results))
			o.skipRemaining(b, items[i:], "cancelled", "not processed, the batch was cancelled")
			break
		}
		outcome, err := o.processItem(ctx, b, items[i])
		if errors.Is(err, errFriendResolve) {
			// Resolution precedes every purchase, so nothing has been
			// realized yet and the whole batch can still abort cleanly.
			slog.Error("aborting batch, friend code did not resolve", "batch_id", b.id, "friend_code", req.FriendCode)
			o.metrics.BatchesTotal.WithLabelValues("aborted").Inc()
			return &model.GiftResponse{
				Success: false,
				Message: "failed to resolve friend code",
				Details: model.GiftDetails{FriendCode: req.FriendCode},
			}, nil
		}
		if err != nil {
			// A store failure mid-batch must not lose what earlier items
			// already spent: finalize this item, skip the rest and fall
			// through to settlement.
			outcome.Status = model.StatusFailed
			outcome.ErrorCode = "internal_error"
			outcome.Message = "aborted by an internal error"
			b.results = append(b.results, outcome)
			o.metrics.ItemsTotal.WithLabelValues(string(outcome.Status)).Inc()
			slog.Error("batch aborted, settling what already completed", "batch_id", b.id, "item", items[i].ID, "error", err)
			o.skipRemaining(b, items[i+1:], "batch_aborted", "not processed, a previous item aborted the batch")
			break
		}
		b.results = append(b.results, outcome)
		o.metrics.ItemsTotal.WithLabelValues(string(outcome.Status)).Inc()
	}

	var realized int64
	successCount := 0
	for _, r := range b.results {
		if r.Status == model.StatusSuccess {
			realized += r.RealizedDebit
			successCount++
		}
	}

	remaining := key.Balance
	if realized > 0 {
		// Settlement runs even when the request context died mid-batch:
		// the account coins behind the successful items are already spent.
		newBalance, err := o.keys.Debit(context.WithoutCancel(ctx), req.Key, realized, b.id)
		if err != nil {
			o.publishBatchEvent(b, nominalTotal, realized)
			return nil, fmt.Errorf("applying key debit: %w", err)
		}
		remaining = newBalance
		o.metrics.KeyDebitsTotal.Inc()
		o.metrics.KeyDebitCoinsTotal.Add(float64(realized))
		o.metrics.RealizedSpendTotal.Add(float64(realized))
	}

	o.publishBatchEvent(b, nominalTotal, realized)

	slog.Info("batch finished",
		"batch_id", b.id,
		"successes", successCount,
		"total", len(req.Items),
		"realized_spend", realized,
		"rate_limit_hit", b.rateLimitHit,
	)

	resp := &model.GiftResponse{
		Success: successCount > 0 && !b.rateLimitHit,
		Message: fmt.Sprintf("%d of %d gifts sent", successCount, len(req.Items)),
		Details: model.GiftDetails{
			PriceNominal:        nominalTotal,
			RealizedSpend:       realized,
			SuccessCount:        successCount,
			TotalItems:          len(req.Items),
			Results:             b.results,
			AccountsUsed:        b.order,
			RemainingKeyBalance: remaining,
		},
	}
	if b.rateLimitHit {
		resp.Details.Error = gameclient.RateLimitReason
		o.metrics.BatchesTotal.WithLabelValues("rate_limited").Inc()
	} else {
		o.metrics.BatchesTotal.WithLabelValues("ok").Inc()
	}
	return resp, nil
}

// processItem runs one item through the attempt loop. The excluded set grows
// monotonically, so the loop terminates after at most one attempt per pooled
// account.
func (o *Orchestrator) processItem(ctx context.Context, b *batch, item model.CatalogItem) (model.ItemOutcome, error) {
	out := model.ItemOutcome{
		ItemID:       item.ID,
		ItemName:     item.Name,
		PriceNominal: item.Price,
	}

	if b.rateLimitHit {
		out.Status = model.StatusSkipped
		out.ErrorCode = "rate_limit_previous"
		out.Message = "not processed due to a previous rate limit"
		return out, nil
	}

	excluded := make(map[string]bool)

	for {
		sess, candidate, err := o.selectAccount(ctx, b, item.Price, excluded)
		if err != nil {
			return out, err
		}
		if sess == nil && candidate == nil {
			out.Status = model.StatusFailed
			out.ErrorCode = "no_account_balance"
			out.Message = "no available account with sufficient balance"
			return out, nil
		}

		if sess == nil {
			sess, err = o.openSession(ctx, b, *candidate, &out)
			if err != nil {
				return out, err
			}
			if sess == nil {
				// out already finalized as login_failed / chat_tag_failed;
				// the account is not blamed for the failure.
				return out, nil
			}
		}

		// Resolve lazily if the first authentication happened on a path
		// that did not yet resolve; at most once per batch.
		if !b.resolved {
			id, err := o.client.ResolveFriend(ctx, b.req.FriendCode, sess.session)
			if err != nil {
				return out, fmt.Errorf("%w: %v", errFriendResolve, err)
			}
			b.friendID = id
			b.resolved = true
		}

		out.AccountUsed = sess.account.Login

		if b.attempted {
			o.clk.Sleep(ctx, o.pacing.SendDelay)
		}
		b.attempted = true

		result, err := o.client.Purchase(ctx, item.ID, b.friendID, sess.session)
		if err != nil {
			slog.Error("purchase call failed", "batch_id", b.id, "item", item.ID, "account", sess.account.Login, "error", err)
			out.Status = model.StatusFailed
			out.ErrorCode = "purchase_failed"
			out.Message = err.Error()
			return out, nil
		}

		switch oc := result.(type) {
		case gameclient.Purchased:
			newBalance := sess.balance
			if oc.BalanceKnown {
				newBalance = oc.NewBalance
			}
			debit := sess.balance - newBalance
			if err := o.commitBalance(ctx, sess, newBalance); err != nil {
				// The remote spend already happened, so the item still
				// counts; the durable row catches up on the next reported
				// balance.
				slog.Error("failed to commit account balance", "batch_id", b.id, "account", sess.account.Login, "error", err)
			}
			slog.Info("gift sent", "batch_id", b.id, "item", item.ID, "account", sess.account.Login, "realized_debit", debit, "new_balance", newBalance)
			out.Status = model.StatusSuccess
			out.RealizedDebit = debit
			out.NewBalance = newBalance
			out.Message = "sent"
			return out, nil

		case gameclient.AlreadyOwned:
			out.Status = model.StatusIgnored
			out.ErrorCode = "already_owned"
			out.Message = "recipient already owns this item"
			return out, nil

		case gameclient.LevelGated:
			out.Status = model.StatusIgnored
			out.ErrorCode = "level_gated"
			out.Message = "recipient has not reached the required level"
			return out, nil

		case gameclient.InsufficientBalance:
			// Reconcile to the remote truth, then retry the item on a
			// different account.
			if err := o.commitBalance(ctx, sess, oc.NewBalance); err != nil {
				slog.Error("failed to reconcile account balance", "batch_id", b.id, "account", sess.account.Login, "error", err)
			}
			excluded[sess.account.Login] = true
			slog.Info("account exhausted, retrying with another account", "batch_id", b.id, "item", item.ID, "account", sess.account.Login)
			continue

		case gameclient.RateLimited:
			o.quarantine(ctx, b, sess)
			b.rateLimitHit = true
			out.Status = model.StatusFailed
			out.ErrorCode = gameclient.RateLimitReason
			out.Message = "blocked"
			return out, nil

		case gameclient.Other:
			out.Status = model.StatusFailed
			out.ErrorCode = fmt.Sprintf("remote_%d", oc.StatusCode)
			out.Message = oc.Message
			return out, nil

		default:
			return out, fmt.Errorf("unhandled purchase outcome %T", result)
		}
	}
}

// skipRemaining finalizes every unprocessed item without touching the remote.
func (o *Orchestrator) skipRemaining(b *batch, items []model.CatalogItem, code, msg string) {
	for i := range items {
		out := model.ItemOutcome{
			ItemID:       items[i].ID,
			ItemName:     items[i].Name,
			PriceNominal: items[i].Price,
			Status:       model.StatusSkipped,
			ErrorCode:    code,
			Message:      msg,
		}
		b.results = append(b.results, out)
		o.metrics.ItemsTotal.WithLabelValues(string(out.Status)).Inc()
	}
}

// selectAccount picks the paying account for one attempt. Preference order:
// an already-authenticated session with enough cached balance, then the
// richest available account from the store. Returns (nil, nil, nil) when no
// account qualifies.
func (o *Orchestrator) selectAccount(ctx context.Context, b *batch, price int64, excluded map[string]bool) (*accountSession, *model.Account, error) {
	for _, login := range b.order {
		if excluded[login] {
			continue
		}
		if s := b.sessions[login]; s != nil && s.balance >= price {
			return s, nil, nil
		}
	}

	accounts, err := o.accounts.ListAvailable(ctx)
	if err != nil {
		return nil, nil, err
	}
	for i := range accounts {
		a := accounts[i]
		if excluded[a.Login] {
			continue
		}
		if s, ok := b.sessions[a.Login]; ok {
			// The cached balance is the remote truth; the stored row may
			// lag behind within this batch.
			if s.balance >= price {
				return s, nil, nil
			}
			continue
		}
		if a.Balance >= price {
			return nil, &a, nil
		}
	}
	return nil, nil, nil
}

// openSession authenticates a fresh account and registers it in the batch
// cache. On login or session-setup failure the outcome is finalized in place
// and (nil, nil) is returned.
func (o *Orchestrator) openSession(ctx context.Context, b *batch, account model.Account, out *model.ItemOutcome) (*accountSession, error) {
	slog.Info("authenticating account", "batch_id", b.id, "account", account.Login, "balance", account.Balance)

	session, err := o.client.Authenticate(ctx, account)
	if err != nil {
		slog.Error("login failed", "batch_id", b.id, "account", account.Login, "error", err)
		out.Status = model.StatusFailed
		out.ErrorCode = "login_failed"
		out.Message = "failed to log in to account"
		return nil, nil
	}

	if err := o.client.RegisterChatTag(ctx, session); err != nil {
		slog.Error("chat tag registration failed", "batch_id", b.id, "account", account.Login, "error", err)
		out.Status = model.StatusFailed
		out.ErrorCode = "chat_tag_failed"
		out.Message = "failed to register chat tag"
		return nil, nil
	}

	sess := &accountSession{
		account: account,
		session: session,
		balance: account.Balance,
	}
	b.sessions[account.Login] = sess
	b.order = append(b.order, account.Login)

	o.clk.Sleep(ctx, o.pacing.LoginDelay)

	if !b.resolved {
		id, err := o.client.ResolveFriend(ctx, b.req.FriendCode, session)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errFriendResolve, err)
		}
		b.friendID = id
		b.resolved = true
	}

	return sess, nil
}

// commitBalance writes the remote-reported balance to the store and the
// session cache. The write compare-and-sets against the last value this batch
// observed; on conflict the observation is refreshed and the write retried,
// since the remote-reported value stays authoritative.
func (o *Orchestrator) commitBalance(ctx context.Context, sess *accountSession, newBalance int64) error {
	observed := sess.balance
	backoff := retry.WithMaxRetries(5, retry.NewConstant(50*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := o.accounts.UpdateBalance(ctx, sess.account.Login, observed, newBalance)
		if errors.Is(err, repository.ErrBalanceConflict) {
			fresh, gerr := o.accounts.Get(ctx, sess.account.Login)
			if gerr != nil {
				return gerr
			}
			observed = fresh.Balance
			return retry.RetryableError(err)
		}
		return err
	})
	// The cached balance tracks the remote truth even when the durable
	// write failed; in-batch accounting stays correct either way.
	sess.balance = newBalance
	if err != nil {
		return fmt.Errorf("committing balance for %s: %w", sess.account.Login, err)
	}
	return nil
}

// quarantine blocks a rate-limited account and drops it from the batch cache.
func (o *Orchestrator) quarantine(ctx context.Context, b *batch, sess *accountSession) {
	login := sess.account.Login
	until := o.clk.Now().Add(o.pacing.BlockFor)

	if err := o.accounts.Block(ctx, login, until, gameclient.RateLimitReason); err != nil {
		slog.Error("failed to block account", "batch_id", b.id, "account", login, "error", err)
	} else {
		slog.Warn("account quarantined", "batch_id", b.id, "account", login, "until", until)
	}

	delete(b.sessions, login)
	for i, l := range b.order {
		if l == login {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	o.metrics.QuarantinedTotal.Inc()
}

func (o *Orchestrator) publishBatchEvent(b *batch, nominalTotal, realized int64) {
	event := model.BatchCompletedEvent{
		BatchID:       b.id,
		Key:           b.req.Key,
		FriendCode:    b.req.FriendCode,
		PriceNominal:  nominalTotal,
		RealizedSpend: realized,
		RateLimitHit:  b.rateLimitHit,
		Results:       b.results,
		CreatedAt:     o.clk.Now(),
	}
	eventData, _ := json.Marshal(event)
	if err := o.bus.Publish(repository.TopicBatchCompleted, eventData); err != nil {
		slog.Error("failed to publish batch event", "batch_id", b.id, "error", err)
	}
}

// KeyBalance implements the balance query endpoint.
func (o *Orchestrator) KeyBalance(ctx context.Context, key string) (*model.KeyBalanceResponse, error) {
	k, err := o.keys.Get(ctx, key)
	if errors.Is(err, repository.ErrKeyNotFound) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, err
	}
	if !k.Active {
		return nil, ErrInvalidKey
	}
	return &model.KeyBalanceResponse{Key: k.ID, Balance: k.Balance, Active: k.Active}, nil
}

func newBatchID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

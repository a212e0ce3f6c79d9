// Package credits implements the credit ledger.
//
// Every balance change goes through the Ledger: a user-triggered debit for an
// enrichment lookup, a webhook-driven grant, an admin top-up, or an expiry on
// renewal. Each change atomically updates the balance and appends an immutable
// transaction carrying a balance-after snapshot, so the full history replays
// to the current balance.
package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadpilot/leadpilot/internal/pagination"
	"github.com/leadpilot/leadpilot/internal/retry"
	"github.com/leadpilot/leadpilot/internal/traces"
)

var (
	ErrUserNotFound        = errors.New("credits: user not found")
	ErrInsufficientCredits = errors.New("credits: insufficient credits")
	ErrInvalidAmount       = errors.New("credits: invalid amount")
	ErrUnknownOperation    = errors.New("credits: unknown operation")
	// ErrContention is returned by stores on write conflicts (serialization
	// failures); the Ledger retries these before surfacing to the caller.
	ErrContention = errors.New("credits: write conflict")
)

// Kind classifies a transaction.
type Kind string

const (
	KindAdd    Kind = "add"
	KindUse    Kind = "use"
	KindExpire Kind = "expire"
)

// Operation names a predefined action with a fixed credit cost.
type Operation string

const (
	OpEmailLookup Operation = "email_lookup"
	OpPhoneLookup Operation = "phone_lookup"
)

// Costs is the named-operation cost table consulted by Debit and
// HasSufficientCredits.
var Costs = map[Operation]int64{
	OpEmailLookup: 2,
	OpPhoneLookup: 10,
}

// Cost resolves a named operation to its credit cost.
func Cost(op Operation) (int64, error) {
	cost, ok := Costs[op]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
	return cost, nil
}

// Metadata is the free-form context attached to a transaction. The billing
// reconciler keys its dedupe checks on the well-known entries below.
type Metadata map[string]string

// Well-known metadata keys.
const (
	MetaSessionID      = "session_id"
	MetaInvoiceID      = "invoice_id"
	MetaSubscriptionID = "subscription_id"
	MetaPlanID         = "plan_id"
	MetaPlanName       = "plan_name"
	MetaQuantity       = "quantity"
	MetaInitial        = "initial"
	MetaContactID      = "contact_id"
	MetaListID         = "list_id"
	MetaGrantedBy      = "granted_by"
)

// Transaction is an immutable ledger entry recording one balance mutation.
// Amount is signed: positive for add, negative for use/expire.
type Transaction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Kind         Kind      `json:"kind"`
	Amount       int64     `json:"amount"`
	Reason       string    `json:"reason"`
	BalanceAfter int64     `json:"balanceAfter"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store persists balances and the transaction log.
//
// Apply must execute as a single atomic unit: read the current balance,
// validate by kind, write the new balance, append the transaction. Two
// concurrent Applies for the same user must serialize; Applies for different
// users are independent. Stores signal transient write conflicts with
// ErrContention.
//
// Kind semantics inside Apply:
//   - KindAdd: balance += amount.
//   - KindUse: fail with ErrInsufficientCredits when balance < amount,
//     recording nothing; otherwise balance -= amount.
//   - KindExpire: remove min(balance, amount); when that is zero, record
//     nothing and return (nil, nil).
type Store interface {
	Apply(ctx context.Context, userID string, kind Kind, amount int64, reason string, meta Metadata) (*Transaction, error)
	Balance(ctx context.Context, userID string) (int64, error)
	// History returns transactions newest-first, up to limit entries, starting
	// after the cursor when non-nil, optionally filtered by kind (empty Kind
	// means all).
	History(ctx context.Context, userID string, limit int, cursor *pagination.Cursor, kind Kind) ([]*Transaction, error)
	// HasTransactionWithMeta reports whether any transaction carries the given
	// metadata key/value pair. The billing reconciler uses this for
	// idempotency checks against provider identifiers.
	HasTransactionWithMeta(ctx context.Context, key, value string) (bool, error)
}

// Retry policy for contended writes.
const (
	maxAttempts    = 5
	baseRetryDelay = 50 * time.Millisecond
)

// Ledger owns every balance-changing operation.
type Ledger struct {
	store  Store
	logger *slog.Logger

	// Overridable in tests.
	attempts   int
	retryDelay time.Duration
}

// New creates a new ledger.
func New(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:      store,
		logger:     logger,
		attempts:   maxAttempts,
		retryDelay: baseRetryDelay,
	}
}

// Credit increases a user's balance and records an `add` transaction.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, reason string, meta Metadata) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	ctx, span := traces.StartSpan(ctx, "credits.Credit", traces.UserID(userID), traces.Amount(amount))
	defer span.End()

	return l.apply(ctx, userID, KindAdd, amount, reason, meta)
}

// Debit decreases a user's balance and records a `use` transaction. It fails
// with ErrInsufficientCredits, recording nothing, when the balance does not
// cover the amount.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, reason string, meta Metadata) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	ctx, span := traces.StartSpan(ctx, "credits.Debit", traces.UserID(userID), traces.Amount(amount))
	defer span.End()

	return l.apply(ctx, userID, KindUse, amount, reason, meta)
}

// DebitOperation debits the fixed cost of a named operation.
func (l *Ledger) DebitOperation(ctx context.Context, userID string, op Operation, reason string, meta Metadata) (*Transaction, error) {
	cost, err := Cost(op)
	if err != nil {
		return nil, err
	}
	return l.Debit(ctx, userID, cost, reason, meta)
}

// Expire removes up to amount credits, clamped to the current balance, and
// records an `expire` transaction. Expiring from an empty balance is a no-op
// success returning (nil, nil).
func (l *Ledger) Expire(ctx context.Context, userID string, amount int64, reason string, meta Metadata) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	ctx, span := traces.StartSpan(ctx, "credits.Expire", traces.UserID(userID), traces.Amount(amount))
	defer span.End()

	return l.apply(ctx, userID, KindExpire, amount, reason, meta)
}

// GetBalance returns the user's current balance.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	return l.store.Balance(ctx, userID)
}

// HasSufficientCredits reports whether the balance covers a named operation.
// Read-only: never mutates.
func (l *Ledger) HasSufficientCredits(ctx context.Context, userID string, op Operation) (bool, error) {
	cost, err := Cost(op)
	if err != nil {
		return false, err
	}
	return l.HasEnoughCredits(ctx, userID, cost)
}

// HasEnoughCredits reports whether the balance covers an explicit amount.
func (l *Ledger) HasEnoughCredits(ctx context.Context, userID string, amount int64) (bool, error) {
	balance, err := l.store.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// GetHistory returns transactions newest-first.
func (l *Ledger) GetHistory(ctx context.Context, userID string, limit int, cursor *pagination.Cursor, kind Kind) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.History(ctx, userID, limit, cursor, kind)
}

// HasTransactionWithMeta exposes the store's metadata dedupe check.
func (l *Ledger) HasTransactionWithMeta(ctx context.Context, key, value string) (bool, error) {
	return l.store.HasTransactionWithMeta(ctx, key, value)
}

// apply runs one atomic mutation, retrying write conflicts with exponential
// backoff. Business errors (not found, insufficient, invalid) are permanent
// and surface immediately.
func (l *Ledger) apply(ctx context.Context, userID string, kind Kind, amount int64, reason string, meta Metadata) (*Transaction, error) {
	done := observeOp(string(kind))
	defer done()

	var txn *Transaction
	err := retry.Do(ctx, l.attempts, l.retryDelay, func() error {
		t, err := l.store.Apply(ctx, userID, kind, amount, reason, meta)
		if err != nil {
			if errors.Is(err, ErrContention) {
				ContentionRetriesTotal.Inc()
				return err
			}
			return retry.Permanent(err)
		}
		txn = t
		return nil
	})
	if err != nil {
		OpsTotal.WithLabelValues(string(kind), "error").Inc()
		if errors.Is(err, ErrContention) {
			l.logger.Warn("ledger operation gave up under contention",
				"user_id", userID, "kind", kind, "amount", amount)
		}
		return nil, err
	}
	OpsTotal.WithLabelValues(string(kind), "ok").Inc()

	if txn != nil {
		l.logger.Debug("ledger transaction recorded",
			"user_id", userID, "kind", kind, "amount", txn.Amount,
			"balance_after", txn.BalanceAfter, "reason", reason)
	}
	return txn, nil
}

package credits

import (
	"context"
	"sync"
	"time"

	"github.com/leadpilot/leadpilot/internal/idgen"
	"github.com/leadpilot/leadpilot/internal/pagination"
)

// AccountDirectory answers whether a user exists. The users package's memory
// store satisfies it; the ledger refuses to mutate balances for unknown users.
type AccountDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// MemoryStore is an in-memory credit store for demo/development mode.
type MemoryStore struct {
	accounts AccountDirectory
	balances map[string]int64
	txns     []*Transaction
	lastAt   time.Time
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory credit store.
func NewMemoryStore(accounts AccountDirectory) *MemoryStore {
	return &MemoryStore{
		accounts: accounts,
		balances: make(map[string]int64),
		txns:     make([]*Transaction, 0),
	}
}

func (m *MemoryStore) Apply(ctx context.Context, userID string, kind Kind, amount int64, reason string, meta Metadata) (*Transaction, error) {
	ok, err := m.accounts.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	balance := m.balances[userID]

	var delta int64
	switch kind {
	case KindAdd:
		delta = amount
	case KindUse:
		if balance < amount {
			return nil, ErrInsufficientCredits
		}
		delta = -amount
	case KindExpire:
		removed := amount
		if balance < removed {
			removed = balance
		}
		if removed == 0 {
			return nil, nil
		}
		delta = -removed
	default:
		return nil, ErrInvalidAmount
	}

	balance += delta
	m.balances[userID] = balance

	// Strictly increasing timestamps keep the (created_at, id) history
	// ordering stable for cursor pagination.
	now := time.Now()
	if !now.After(m.lastAt) {
		now = m.lastAt.Add(time.Nanosecond)
	}
	m.lastAt = now

	txn := &Transaction{
		ID:           idgen.WithPrefix("txn_"),
		UserID:       userID,
		Kind:         kind,
		Amount:       delta,
		Reason:       reason,
		BalanceAfter: balance,
		Metadata:     cloneMeta(meta),
		CreatedAt:    now,
	}
	m.txns = append(m.txns, txn)

	cp := *txn
	return &cp, nil
}

func (m *MemoryStore) Balance(ctx context.Context, userID string) (int64, error) {
	ok, err := m.accounts.Exists(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrUserNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[userID], nil
}

func (m *MemoryStore) History(ctx context.Context, userID string, limit int, cursor *pagination.Cursor, kind Kind) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for i := len(m.txns) - 1; i >= 0 && len(result) < limit; i-- {
		t := m.txns[i]
		if t.UserID != userID {
			continue
		}
		if kind != "" && t.Kind != kind {
			continue
		}
		if cursor != nil && !before(t, cursor) {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) HasTransactionWithMeta(ctx context.Context, key, value string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.txns {
		if t.Metadata != nil && t.Metadata[key] == value {
			return true, nil
		}
	}
	return false, nil
}

// before reports whether t sorts strictly after the cursor position in the
// newest-first ordering (older timestamp, or equal timestamp with smaller ID).
func before(t *Transaction, c *pagination.Cursor) bool {
	if t.CreatedAt.Equal(c.CreatedAt) {
		return t.ID < c.ID
	}
	return t.CreatedAt.Before(c.CreatedAt)
}

func cloneMeta(meta Metadata) Metadata {
	if meta == nil {
		return nil
	}
	cp := make(Metadata, len(meta))
	for k, v := range meta {
		cp[k] = v
	}
	return cp
}

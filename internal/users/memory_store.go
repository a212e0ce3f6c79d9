package users

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory user store for demo/development mode.
type MemoryStore struct {
	users   map[string]*User
	byEmail map[string]string // lowercased email -> id
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, taken := m.byEmail[email]; taken {
		return ErrEmailTaken
	}

	cp := cloneUser(u)
	cp.Email = email
	m.users[u.ID] = cp
	m.byEmail[email] = u.ID
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(m.users[id]), nil
}

func (m *MemoryStore) GetByStripeSubscriptionID(ctx context.Context, subID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Subscription != nil && u.Subscription.StripeSubscriptionID == subID {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Update(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}

	cp := cloneUser(u)
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now()
	m.users[u.ID] = cp
	return nil
}

func (m *MemoryStore) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.StripeCustomerID = customerID
	u.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ClearSubscription(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Subscription = nil
	u.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListDueRenewals(ctx context.Context, before time.Time, limit int) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*User
	for _, u := range m.users {
		if len(result) >= limit {
			break
		}
		if u.Subscription != nil && u.Subscription.PlanID != "" &&
			!u.Subscription.NextRenewalDate.IsZero() &&
			u.Subscription.NextRenewalDate.Before(before) {
			result = append(result, cloneUser(u))
		}
	}
	return result, nil
}

func (m *MemoryStore) List(ctx context.Context, limit int, offset int) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, cloneUser(u))
	}
	// Stable newest-first ordering.
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].CreatedAt.After(all[i].CreatedAt) {
				all[i], all[j] = all[j], all[i]
			}
		}
	}

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[id]
	return ok, nil
}

func cloneUser(u *User) *User {
	cp := *u
	if u.Subscription != nil {
		sub := *u.Subscription
		cp.Subscription = &sub
	}
	return &cp
}

package contacts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leadpilot/leadpilot/internal/pagination"
)

// MemoryStore is an in-memory Store used in tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	lists    map[string]*List
	contacts map[string]*Contact
	lastAt   time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists:    make(map[string]*List),
		contacts: make(map[string]*Contact),
	}
}

// stamp hands out strictly increasing timestamps so cursor
// ordering on (created_at, id) stays stable.
func (m *MemoryStore) stamp() time.Time {
	now := time.Now().UTC()
	if !now.After(m.lastAt) {
		now = m.lastAt.Add(time.Nanosecond)
	}
	m.lastAt = now
	return now
}

func (m *MemoryStore) CreateList(ctx context.Context, l *List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.stamp()
	l.CreatedAt = now
	l.UpdatedAt = now
	cp := *l
	m.lists[l.ID] = &cp
	return nil
}

func (m *MemoryStore) GetList(ctx context.Context, id string) (*List, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lists[id]
	if !ok {
		return nil, ErrListNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) ListsByUser(ctx context.Context, userID string) ([]*List, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*List
	for _, l := range m.lists {
		if l.UserID == userID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sortListsNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) DeleteList(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lists[id]; !ok {
		return ErrListNotFound
	}
	delete(m.lists, id)
	for cid, c := range m.contacts {
		if c.ListID == id {
			delete(m.contacts, cid)
		}
	}
	return nil
}

func (m *MemoryStore) CreateContact(ctx context.Context, c *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putContact(c)
}

func (m *MemoryStore) CreateContacts(ctx context.Context, cs []*Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cs {
		if err := m.putContact(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) putContact(c *Contact) error {
	if _, ok := m.lists[c.ListID]; !ok {
		return ErrListNotFound
	}
	now := m.stamp()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.EnrichmentStatus == "" {
		c.EnrichmentStatus = EnrichmentPending
	}
	cp := *c
	m.contacts[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetContact(ctx context.Context, id string) (*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, ErrContactNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ContactsByList(ctx context.Context, listID string, limit int, cursor *pagination.Cursor) ([]*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*Contact
	for _, c := range m.contacts {
		if c.ListID != listID {
			continue
		}
		if cursor != nil && !before(c, cursor) {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	sortContactsNewestFirst(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) UpdateContact(ctx context.Context, c *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.contacts[c.ID]
	if !ok {
		return ErrContactNotFound
	}
	c.CreatedAt = old.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	m.contacts[c.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteContact(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[id]; !ok {
		return ErrContactNotFound
	}
	delete(m.contacts, id)
	return nil
}

func (m *MemoryStore) CountByList(ctx context.Context, listID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, c := range m.contacts {
		if c.ListID == listID {
			n++
		}
	}
	return n, nil
}

func before(c *Contact, cur *pagination.Cursor) bool {
	if c.CreatedAt.Equal(cur.CreatedAt) {
		return c.ID < cur.ID
	}
	return c.CreatedAt.Before(cur.CreatedAt)
}

func sortContactsNewestFirst(cs []*Contact) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].ID > cs[j].ID
		}
		return cs[i].CreatedAt.After(cs[j].CreatedAt)
	})
}

func sortListsNewestFirst(ls []*List) {
	sort.Slice(ls, func(i, j int) bool {
		return ls[i].CreatedAt.After(ls[j].CreatedAt)
	})
}

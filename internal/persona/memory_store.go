package persona

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	personas map[string]*Persona
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{personas: make(map[string]*Persona)}
}

func (m *MemoryStore) Create(ctx context.Context, p *Persona) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := clone(p)
	m.personas[p.ID] = cp
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.personas[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Persona
	for _, p := range m.personas {
		if p.UserID == userID {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, p *Persona) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.personas[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	m.personas[p.ID] = clone(p)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.personas[id]; !ok {
		return ErrNotFound
	}
	delete(m.personas, id)
	return nil
}

func clone(p *Persona) *Persona {
	cp := *p
	if p.Filters != nil {
		cp.Filters = make(Filters, len(p.Filters))
		for k, v := range p.Filters {
			cp.Filters[k] = v
		}
	}
	return &cp
}

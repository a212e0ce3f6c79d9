package enrich

import (
	"context"
	"sync"
	"time"
)

// CacheEntry is the pooled enrichment data for one LinkedIn profile.
// Results are shared across users so a profile is only ever paid for
// at the provider once.
type CacheEntry struct {
	LinkedInURL   string
	Email         string
	EmailVerified bool
	Phone         string
	UpdatedAt     time.Time
}

// Cache stores enrichment results keyed by LinkedIn URL.
//
// Merge folds new data into an existing entry: empty incoming fields
// never clear stored ones, and EmailVerified can only go from false
// to true.
type Cache interface {
	Get(ctx context.Context, linkedInURL string) (*CacheEntry, error)
	Merge(ctx context.Context, e *CacheEntry) (*CacheEntry, error)
}

// MemoryCache is the in-memory Cache used in tests and local development.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*CacheEntry)}
}

func (m *MemoryCache) Get(ctx context.Context, linkedInURL string) (*CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[linkedInURL]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryCache) Merge(ctx context.Context, e *CacheEntry) (*CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.entries[e.LinkedInURL]
	if !ok {
		cur = &CacheEntry{LinkedInURL: e.LinkedInURL}
		m.entries[e.LinkedInURL] = cur
	}
	mergeEntry(cur, e)
	cur.UpdatedAt = time.Now().UTC()
	cp := *cur
	return &cp, nil
}

func mergeEntry(dst, src *CacheEntry) {
	if src.Email != "" {
		dst.Email = src.Email
	}
	if src.Phone != "" {
		dst.Phone = src.Phone
	}
	if src.EmailVerified {
		dst.EmailVerified = true
	}
}

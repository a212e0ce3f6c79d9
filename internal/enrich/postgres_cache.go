package enrich

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresCache backs the enrichment cache with the enrichment_cache
// table. The merge policy lives in the upsert so concurrent lookups
// for the same profile cannot clobber each other.
type PostgresCache struct {
	db *sql.DB
}

func NewPostgresCache(db *sql.DB) *PostgresCache {
	return &PostgresCache{db: db}
}

func (s *PostgresCache) Get(ctx context.Context, linkedInURL string) (*CacheEntry, error) {
	e := &CacheEntry{}
	err := s.db.QueryRowContext(ctx, `
		SELECT linkedin_url, email, email_verified, phone, updated_at
		FROM enrichment_cache WHERE linkedin_url = $1`, linkedInURL,
	).Scan(&e.LinkedInURL, &e.Email, &e.EmailVerified, &e.Phone, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return e, nil
}

func (s *PostgresCache) Merge(ctx context.Context, e *CacheEntry) (*CacheEntry, error) {
	out := &CacheEntry{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO enrichment_cache (linkedin_url, email, email_verified, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (linkedin_url) DO UPDATE SET
			email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email
				ELSE enrichment_cache.email END,
			phone = CASE WHEN EXCLUDED.phone <> '' THEN EXCLUDED.phone
				ELSE enrichment_cache.phone END,
			email_verified = enrichment_cache.email_verified OR EXCLUDED.email_verified,
			updated_at = NOW()
		RETURNING linkedin_url, email, email_verified, phone, updated_at`,
		e.LinkedInURL, e.Email, e.EmailVerified, e.Phone,
	).Scan(&out.LinkedInURL, &out.Email, &out.EmailVerified, &out.Phone, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("cache merge: %w", err)
	}
	return out, nil
}

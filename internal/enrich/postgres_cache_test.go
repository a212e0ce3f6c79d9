//go:build integration

package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/leadpilot/internal/testutil"
)

func TestPGCacheMergePolicy(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	cache := NewPostgresCache(db)
	ctx := context.Background()
	const url = "https://linkedin.com/in/grace"

	got, err := cache.Get(ctx, url)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = cache.Merge(ctx, &CacheEntry{LinkedInURL: url, Email: "grace@navy.mil", EmailVerified: true})
	require.NoError(t, err)

	// Phone-only merge keeps the email, verified flag stays up.
	merged, err := cache.Merge(ctx, &CacheEntry{LinkedInURL: url, Phone: "+15550100"})
	require.NoError(t, err)
	assert.Equal(t, "grace@navy.mil", merged.Email)
	assert.Equal(t, "+15550100", merged.Phone)
	assert.True(t, merged.EmailVerified)

	got, err = cache.Get(ctx, url)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "grace@navy.mil", got.Email)
	assert.True(t, got.EmailVerified)
	assert.False(t, got.UpdatedAt.IsZero())
}

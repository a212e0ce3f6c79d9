package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeKeepsExistingFields(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	const url = "https://linkedin.com/in/grace"

	_, err := cache.Merge(ctx, &CacheEntry{LinkedInURL: url, Email: "grace@navy.mil"})
	require.NoError(t, err)

	// A phone-only result must not wipe the stored email.
	got, err := cache.Merge(ctx, &CacheEntry{LinkedInURL: url, Phone: "+15550100"})
	require.NoError(t, err)
	assert.Equal(t, "grace@navy.mil", got.Email)
	assert.Equal(t, "+15550100", got.Phone)
}

func TestMergeOverwritesWithFresherData(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	const url = "https://linkedin.com/in/grace"

	_, err := cache.Merge(ctx, &CacheEntry{LinkedInURL: url, Email: "old@example.com"})
	require.NoError(t, err)

	got, err := cache.Merge(ctx, &CacheEntry{LinkedInURL: url, Email: "new@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", got.Email)
}

func TestVerifiedFlagNeverReverts(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	const url = "https://linkedin.com/in/grace"

	_, err := cache.Merge(ctx, &CacheEntry{LinkedInURL: url, Email: "grace@navy.mil", EmailVerified: true})
	require.NoError(t, err)

	got, err := cache.Merge(ctx, &CacheEntry{LinkedInURL: url, Email: "grace@navy.mil", EmailVerified: false})
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)
}

func TestGetMissReturnsNil(t *testing.T) {
	cache := NewMemoryCache()
	got, err := cache.Get(context.Background(), "https://linkedin.com/in/nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

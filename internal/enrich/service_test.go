package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/leadpilot/internal/contacts"
	"github.com/leadpilot/leadpilot/internal/credits"
	"github.com/leadpilot/leadpilot/internal/idgen"
)

type fakeEmailProvider struct {
	name   string
	result *EmailResult
	err    error
	calls  int
}

func (p *fakeEmailProvider) Name() string { return p.name }

func (p *fakeEmailProvider) FindEmail(ctx context.Context, q Lookup) (*EmailResult, error) {
	p.calls++
	return p.result, p.err
}

type fakePhoneProvider struct {
	result *PhoneResult
	err    error
	calls  int
}

func (p *fakePhoneProvider) Name() string { return "apollo" }

func (p *fakePhoneProvider) FindPhone(ctx context.Context, q Lookup) (*PhoneResult, error) {
	p.calls++
	return p.result, p.err
}

type allUsers struct{}

func (allUsers) Exists(ctx context.Context, userID string) (bool, error) { return true, nil }

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

type fixture struct {
	service  *Service
	ledger   *credits.Ledger
	contacts *contacts.MemoryStore
	cache    *MemoryCache
	hunter   *fakeEmailProvider
	apollo   *fakeEmailProvider
	phone    *fakePhoneProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	f := &fixture{
		ledger:   credits.New(credits.NewMemoryStore(allUsers{}), logger),
		contacts: contacts.NewMemoryStore(),
		cache:    NewMemoryCache(),
		hunter:   &fakeEmailProvider{name: "hunter"},
		apollo:   &fakeEmailProvider{name: "apollo"},
		phone:    &fakePhoneProvider{},
	}
	f.service = NewService(f.ledger, f.contacts, f.cache,
		[]EmailProvider{f.hunter, f.apollo}, f.phone, logger)
	return f
}

func (f *fixture) seedContact(t *testing.T, userID string, linkedIn string) *contacts.Contact {
	t.Helper()
	ctx := context.Background()
	l := &contacts.List{ID: idgen.WithPrefix("lst_"), UserID: userID, Name: "leads"}
	require.NoError(t, f.contacts.CreateList(ctx, l))
	c := &contacts.Contact{
		ID:          idgen.WithPrefix("cnt_"),
		ListID:      l.ID,
		UserID:      userID,
		FirstName:   "Grace",
		LastName:    "Hopper",
		Company:     "Navy",
		LinkedInURL: linkedIn,
	}
	require.NoError(t, f.contacts.CreateContact(ctx, c))
	return c
}

func (f *fixture) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), userID, amount, "test grant", nil)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func TestEmailLookupDebitsAndTags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "usr_a", 10)
	c := f.seedContact(t, "usr_a", "https://linkedin.com/in/grace")
	f.hunter.result = &EmailResult{Email: "grace@navy.mil", Verified: true}

	got, err := f.service.EnrichEmail(ctx, "usr_a", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "grace@navy.mil", got.Email)
	assert.True(t, got.EmailVerified)
	assert.Equal(t, contacts.EnrichmentDone, got.EnrichmentStatus)
	assert.EqualValues(t, 8, f.balance(t, "usr_a"))

	history, err := f.ledger.GetHistory(ctx, "usr_a", 10, nil, credits.KindUse)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, c.ID, history[0].Metadata[credits.MetaContactID])
	assert.Equal(t, c.ListID, history[0].Metadata[credits.MetaListID])

	stored, err := f.contacts.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "grace@navy.mil", stored.Email)
}

func TestEmailFallsBackToSecondProvider(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "usr_a", 10)
	c := f.seedContact(t, "usr_a", "")
	f.apollo.result = &EmailResult{Email: "grace@navy.mil"}

	got, err := f.service.EnrichEmail(context.Background(), "usr_a", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "grace@navy.mil", got.Email)
	assert.False(t, got.EmailVerified)
	assert.Equal(t, 1, f.hunter.calls)
	assert.Equal(t, 1, f.apollo.calls)
}

func TestProviderErrorStillTriesFallback(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "usr_a", 10)
	c := f.seedContact(t, "usr_a", "")
	f.hunter.err = fmt.Errorf("upstream 500")
	f.apollo.result = &EmailResult{Email: "grace@navy.mil"}

	got, err := f.service.EnrichEmail(context.Background(), "usr_a", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "grace@navy.mil", got.Email)
}

func TestEmailMissDoesNotDebit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "usr_a", 10)
	c := f.seedContact(t, "usr_a", "")

	_, err := f.service.EnrichEmail(ctx, "usr_a", c.ID)
	assert.ErrorIs(t, err, ErrNoResult)
	assert.EqualValues(t, 10, f.balance(t, "usr_a"))

	stored, err := f.contacts.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, contacts.EnrichmentFailed, stored.EnrichmentStatus)
}

func TestInsufficientCreditsSkipsProviders(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "usr_a", 1)
	c := f.seedContact(t, "usr_a", "")
	f.hunter.result = &EmailResult{Email: "grace@navy.mil"}

	_, err := f.service.EnrichEmail(context.Background(), "usr_a", c.ID)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Zero(t, f.hunter.calls)
	assert.Zero(t, f.apollo.calls)
}

func TestPhoneLookupCostsMore(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "usr_a", 12)
	c := f.seedContact(t, "usr_a", "https://linkedin.com/in/grace")
	f.phone.result = &PhoneResult{Phone: "+15550100"}

	got, err := f.service.EnrichPhone(context.Background(), "usr_a", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "+15550100", got.Phone)
	assert.EqualValues(t, 2, f.balance(t, "usr_a"))
}

func TestCacheHitSkipsProvidersButStillDebits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "usr_a", 10)
	c := f.seedContact(t, "usr_a", "https://linkedin.com/in/grace")
	_, err := f.cache.Merge(ctx, &CacheEntry{
		LinkedInURL:   c.LinkedInURL,
		Email:         "grace@navy.mil",
		EmailVerified: true,
	})
	require.NoError(t, err)

	got, err := f.service.EnrichEmail(ctx, "usr_a", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "grace@navy.mil", got.Email)
	assert.Zero(t, f.hunter.calls)
	assert.Zero(t, f.apollo.calls)
	assert.EqualValues(t, 8, f.balance(t, "usr_a"))
}

func TestLookupResultPooledInCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "usr_a", 10)
	c := f.seedContact(t, "usr_a", "https://linkedin.com/in/grace")
	f.hunter.result = &EmailResult{Email: "grace@navy.mil", Verified: true}

	_, err := f.service.EnrichEmail(ctx, "usr_a", c.ID)
	require.NoError(t, err)

	entry, err := f.cache.Get(ctx, c.LinkedInURL)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "grace@navy.mil", entry.Email)
	assert.True(t, entry.EmailVerified)
}

func TestForeignContactRejected(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "usr_b", 10)
	c := f.seedContact(t, "usr_a", "")

	_, err := f.service.EnrichEmail(context.Background(), "usr_b", c.ID)
	assert.ErrorIs(t, err, contacts.ErrContactNotFound)
}

func TestBulkEnrichDebitsPerSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "usr_a", 100)
	f.hunter.result = &EmailResult{Email: "found@example.com"}

	l := &contacts.List{ID: idgen.WithPrefix("lst_"), UserID: "usr_a", Name: "bulk"}
	require.NoError(t, f.contacts.CreateList(ctx, l))
	for i := 0; i < 3; i++ {
		c := &contacts.Contact{ID: idgen.WithPrefix("cnt_"), ListID: l.ID, UserID: "usr_a"}
		require.NoError(t, f.contacts.CreateContact(ctx, c))
	}
	withEmail := &contacts.Contact{
		ID: idgen.WithPrefix("cnt_"), ListID: l.ID, UserID: "usr_a", Email: "has@example.com",
	}
	require.NoError(t, f.contacts.CreateContact(ctx, withEmail))

	res, err := f.service.EnrichList(ctx, "usr_a", l.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Enriched)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Failed)
	assert.EqualValues(t, 94, f.balance(t, "usr_a"))
}

func TestBulkEnrichStopsWhenBalanceRunsOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "usr_a", 5)
	f.hunter.result = &EmailResult{Email: "found@example.com"}

	l := &contacts.List{ID: idgen.WithPrefix("lst_"), UserID: "usr_a", Name: "bulk"}
	require.NoError(t, f.contacts.CreateList(ctx, l))
	for i := 0; i < 4; i++ {
		c := &contacts.Contact{ID: idgen.WithPrefix("cnt_"), ListID: l.ID, UserID: "usr_a"}
		require.NoError(t, f.contacts.CreateContact(ctx, c))
	}

	res, err := f.service.EnrichList(ctx, "usr_a", l.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Enriched)
	assert.Equal(t, 2, res.Skipped)
	assert.EqualValues(t, 1, f.balance(t, "usr_a"))
}

func TestBulkEnrichForeignListRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := &contacts.List{ID: idgen.WithPrefix("lst_"), UserID: "usr_a", Name: "mine"}
	require.NoError(t, f.contacts.CreateList(ctx, l))

	_, err := f.service.EnrichList(ctx, "usr_b", l.ID)
	assert.ErrorIs(t, err, contacts.ErrListNotFound)
}

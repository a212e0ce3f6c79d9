package billing

import (
	"context"
	"log/slog"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/leadpilot/internal/credits"
	"github.com/leadpilot/leadpilot/internal/plans"
	"github.com/leadpilot/leadpilot/internal/users"
)

type fakeCheckout struct {
	*fakeProvider
	customers      int
	checkoutURL    string
	lastMeta       map[string]string
	lastQuantity   int64
	cancelRequests []string
}

func newFakeCheckout() *fakeCheckout {
	return &fakeCheckout{fakeProvider: newFakeProvider(), checkoutURL: "https://checkout.test/session"}
}

func (f *fakeCheckout) CreateCustomer(_ context.Context, userID, _, _ string) (string, error) {
	f.customers++
	return "cus_" + userID, nil
}

func (f *fakeCheckout) CreateSubscriptionCheckout(_ context.Context, _, _ string, meta map[string]string, _, _ string) (string, error) {
	f.lastMeta = meta
	return f.checkoutURL, nil
}

func (f *fakeCheckout) CreateCreditPackCheckout(_ context.Context, _, _ string, quantity int64, meta map[string]string, _, _ string) (string, error) {
	f.lastMeta = meta
	f.lastQuantity = quantity
	return f.checkoutURL, nil
}

func (f *fakeCheckout) SetCancelAtPeriodEnd(_ context.Context, id string, _ bool) (*stripe.Subscription, error) {
	f.cancelRequests = append(f.cancelRequests, id)
	return &stripe.Subscription{ID: id, CancelAtPeriodEnd: true, CurrentPeriodEnd: time.Now().AddDate(0, 1, 0).Unix()}, nil
}

func newServiceFixture(t *testing.T) (*Service, *users.MemoryStore, *credits.Ledger, *fakeCheckout) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	userStore := users.NewMemoryStore()
	planStore := plans.NewMemoryStore()
	require.NoError(t, plans.Seed(context.Background(), planStore))

	// Seeded plans carry no Stripe price ids; stamp them for checkout paths.
	for _, id := range []string{"plan_starter", "plan_growth", "plan_credits"} {
		p, err := planStore.GetByID(context.Background(), id)
		require.NoError(t, err)
		p.StripePriceID = "price_" + id
		require.NoError(t, planStore.Update(context.Background(), p))
	}

	ledger := credits.New(credits.NewMemoryStore(userStore), logger)
	checkout := newFakeCheckout()
	svc := NewService(ledger, userStore, planStore, checkout, "https://app.test", logger)
	return svc, userStore, ledger, checkout
}

func TestSubscribeFreeActivatesImmediately(t *testing.T) {
	svc, userStore, ledger, _ := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, userStore.Create(ctx, &users.User{ID: "usr_1", Email: "a@b.c"}))

	result, err := svc.Subscribe(ctx, "usr_1", "plan_free")
	require.NoError(t, err)
	assert.True(t, result.Activated)
	assert.Empty(t, result.CheckoutURL)

	balance, err := ledger.GetBalance(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)

	user, err := userStore.GetByID(ctx, "usr_1")
	require.NoError(t, err)
	require.NotNil(t, user.Subscription)
	assert.Equal(t, "plan_free", user.Subscription.PlanID)
	assert.Equal(t, users.StatusActive, user.Subscription.Status)
	assert.True(t, user.Subscription.NextRenewalDate.After(time.Now()))
}

func TestSubscribePaidReturnsCheckoutURL(t *testing.T) {
	svc, userStore, ledger, checkout := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, userStore.Create(ctx, &users.User{ID: "usr_1", Email: "a@b.c"}))

	result, err := svc.Subscribe(ctx, "usr_1", "plan_starter")
	require.NoError(t, err)
	assert.False(t, result.Activated)
	assert.Equal(t, "https://checkout.test/session", result.CheckoutURL)
	assert.Equal(t, "usr_1", checkout.lastMeta["userId"])
	assert.Equal(t, "plan_starter", checkout.lastMeta["planId"])

	// No credits until the webhook confirms payment.
	balance, err := ledger.GetBalance(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	// Customer created once and persisted.
	assert.Equal(t, 1, checkout.customers)
	user, err := userStore.GetByID(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_usr_1", user.StripeCustomerID)

	_, err = svc.Subscribe(ctx, "usr_1", "plan_growth")
	require.NoError(t, err)
	assert.Equal(t, 1, checkout.customers, "existing customer must be reused")
}

func TestSubscribeRejectsOneTimePlan(t *testing.T) {
	svc, userStore, _, _ := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, userStore.Create(ctx, &users.User{ID: "usr_1", Email: "a@b.c"}))

	_, err := svc.Subscribe(ctx, "usr_1", "plan_credits")
	assert.Error(t, err)
}

func TestPurchaseCreditsQuantity(t *testing.T) {
	svc, userStore, _, checkout := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, userStore.Create(ctx, &users.User{ID: "usr_1", Email: "a@b.c"}))

	url, err := svc.PurchaseCredits(ctx, "usr_1", 4)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/session", url)
	assert.Equal(t, int64(4), checkout.lastQuantity)
	assert.Equal(t, "plan_credits", checkout.lastMeta["planId"])

	_, err = svc.PurchaseCredits(ctx, "usr_1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), checkout.lastQuantity)
}

func TestNilProviderKeepsFreePathsWorking(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	ctx := context.Background()

	userStore := users.NewMemoryStore()
	planStore := plans.NewMemoryStore()
	require.NoError(t, plans.Seed(ctx, planStore))
	for _, id := range []string{"plan_starter", "plan_credits"} {
		p, err := planStore.GetByID(ctx, id)
		require.NoError(t, err)
		p.StripePriceID = "price_" + id
		require.NoError(t, planStore.Update(ctx, p))
	}

	ledger := credits.New(credits.NewMemoryStore(userStore), logger)
	svc := NewService(ledger, userStore, planStore, nil, "https://app.test", logger)

	require.NoError(t, userStore.Create(ctx, &users.User{ID: "usr_1", Email: "a@b.c"}))

	// Free plan activates and credits without a provider.
	result, err := svc.Subscribe(ctx, "usr_1", "plan_free")
	require.NoError(t, err)
	assert.True(t, result.Activated)

	summary, err := svc.GetSummary(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), summary.Balance)

	// Paid paths fail cleanly instead of dereferencing a nil provider.
	_, err = svc.Subscribe(ctx, "usr_1", "plan_starter")
	assert.ErrorIs(t, err, ErrPaymentsDisabled)
	_, err = svc.PurchaseCredits(ctx, "usr_1", 1)
	assert.ErrorIs(t, err, ErrPaymentsDisabled)

	// Free cancel clears immediately, no provider involved.
	require.NoError(t, svc.Cancel(ctx, "usr_1"))
	user, err := userStore.GetByID(ctx, "usr_1")
	require.NoError(t, err)
	assert.Nil(t, user.Subscription)
}

func TestCancelPaidSetsFlagAtProvider(t *testing.T) {
	svc, userStore, _, checkout := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, userStore.Create(ctx, &users.User{
		ID: "usr_1", Email: "a@b.c",
		Subscription: &users.Subscription{
			PlanID: "plan_starter", StripeSubscriptionID: "sub_1", Status: users.StatusActive,
		},
	}))

	require.NoError(t, svc.Cancel(ctx, "usr_1"))
	assert.Equal(t, []string{"sub_1"}, checkout.cancelRequests)

	user, err := userStore.GetByID(ctx, "usr_1")
	require.NoError(t, err)
	require.NotNil(t, user.Subscription, "paid subscription stays until period end")
	assert.True(t, user.Subscription.CancelAtPeriodEnd)

	assert.ErrorIs(t, svc.Cancel(ctx, "usr_1"), ErrAlreadyCanceled)
}

func TestCancelFreeClearsImmediately(t *testing.T) {
	svc, userStore, _, checkout := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, userStore.Create(ctx, &users.User{
		ID: "usr_1", Email: "a@b.c",
		Subscription: &users.Subscription{PlanID: "plan_free", Status: users.StatusActive},
	}))

	require.NoError(t, svc.Cancel(ctx, "usr_1"))
	assert.Empty(t, checkout.cancelRequests)

	user, err := userStore.GetByID(ctx, "usr_1")
	require.NoError(t, err)
	assert.Nil(t, user.Subscription)
}

func TestCancelWithoutSubscription(t *testing.T) {
	svc, userStore, _, _ := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, userStore.Create(ctx, &users.User{ID: "usr_1", Email: "a@b.c"}))

	assert.ErrorIs(t, svc.Cancel(ctx, "usr_1"), ErrNoSubscription)
}

func TestSummaryIncludesPlanAndBalance(t *testing.T) {
	svc, userStore, ledger, _ := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, userStore.Create(ctx, &users.User{
		ID: "usr_1", Email: "a@b.c",
		Subscription: &users.Subscription{PlanID: "plan_growth", Status: users.StatusActive},
	}))
	_, err := ledger.Credit(ctx, "usr_1", 42, "grant", nil)
	require.NoError(t, err)

	summary, err := svc.GetSummary(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), summary.Balance)
	require.NotNil(t, summary.Plan)
	assert.Equal(t, "plan_growth", summary.Plan.ID)
}

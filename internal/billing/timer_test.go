package billing

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/leadpilot/internal/credits"
	"github.com/leadpilot/leadpilot/internal/plans"
	"github.com/leadpilot/leadpilot/internal/users"
)

func newTimerFixture(t *testing.T) (*Timer, *users.MemoryStore, *credits.Ledger) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	userStore := users.NewMemoryStore()
	planStore := plans.NewMemoryStore()
	require.NoError(t, plans.Seed(context.Background(), planStore))

	ledger := credits.New(credits.NewMemoryStore(userStore), logger)
	return NewTimer(ledger, userStore, planStore, logger), userStore, ledger
}

func TestSweepEndsCanceledSubscriptions(t *testing.T) {
	timer, userStore, ledger := newTimerFixture(t)
	ctx := context.Background()

	require.NoError(t, userStore.Create(ctx, &users.User{
		ID: "usr_done", Email: "done@x.y",
		Subscription: &users.Subscription{
			PlanID:               "plan_starter",
			StripeSubscriptionID: "sub_done",
			Status:               users.StatusActive,
			CancelAtPeriodEnd:    true,
			NextRenewalDate:      time.Now().Add(-time.Hour),
		},
	}))
	_, err := ledger.Credit(ctx, "usr_done", 33, "grant", nil)
	require.NoError(t, err)

	timer.Sweep(ctx)

	balance, err := ledger.GetBalance(ctx, "usr_done")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	user, err := userStore.GetByID(ctx, "usr_done")
	require.NoError(t, err)
	assert.Nil(t, user.Subscription)

	history, err := ledger.GetHistory(ctx, "usr_done", 10, nil, credits.KindExpire)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "sub_done", history[0].Metadata[credits.MetaSubscriptionID])
}

func TestSweepRenewsFreePlanWithoutExpiring(t *testing.T) {
	timer, userStore, ledger := newTimerFixture(t)
	ctx := context.Background()

	due := time.Now().Add(-2 * time.Hour)
	require.NoError(t, userStore.Create(ctx, &users.User{
		ID: "usr_free", Email: "free@x.y",
		Subscription: &users.Subscription{
			PlanID:          "plan_free",
			Status:          users.StatusActive,
			NextRenewalDate: due,
		},
	}))
	// Leftover credits from the previous cycle carry over on free plans.
	_, err := ledger.Credit(ctx, "usr_free", 5, "prior cycle", nil)
	require.NoError(t, err)

	timer.Sweep(ctx)

	balance, err := ledger.GetBalance(ctx, "usr_free")
	require.NoError(t, err)
	assert.Equal(t, int64(25), balance) // 5 carried over + 20 granted

	history, err := ledger.GetHistory(ctx, "usr_free", 10, nil, credits.KindExpire)
	require.NoError(t, err)
	assert.Empty(t, history, "free renewal must not expire")

	user, err := userStore.GetByID(ctx, "usr_free")
	require.NoError(t, err)
	require.NotNil(t, user.Subscription)
	assert.True(t, user.Subscription.NextRenewalDate.After(due))
}

func TestSweepLeavesPaidRenewalsToInvoices(t *testing.T) {
	timer, userStore, ledger := newTimerFixture(t)
	ctx := context.Background()

	require.NoError(t, userStore.Create(ctx, &users.User{
		ID: "usr_paid", Email: "paid@x.y",
		Subscription: &users.Subscription{
			PlanID:               "plan_growth",
			StripeSubscriptionID: "sub_paid",
			Status:               users.StatusActive,
			NextRenewalDate:      time.Now().Add(-time.Hour),
		},
	}))
	_, err := ledger.Credit(ctx, "usr_paid", 10, "grant", nil)
	require.NoError(t, err)

	timer.Sweep(ctx)

	balance, err := ledger.GetBalance(ctx, "usr_paid")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	user, err := userStore.GetByID(ctx, "usr_paid")
	require.NoError(t, err)
	require.NotNil(t, user.Subscription)
}

func TestSweepIgnoresUsersWithoutDueRenewal(t *testing.T) {
	timer, userStore, ledger := newTimerFixture(t)
	ctx := context.Background()

	require.NoError(t, userStore.Create(ctx, &users.User{
		ID: "usr_future", Email: "future@x.y",
		Subscription: &users.Subscription{
			PlanID:          "plan_free",
			Status:          users.StatusActive,
			NextRenewalDate: time.Now().Add(24 * time.Hour),
		},
	}))

	timer.Sweep(ctx)

	balance, err := ledger.GetBalance(ctx, "usr_future")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

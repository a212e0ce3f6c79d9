package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/leadpilot/leadpilot/internal/credits"
	"github.com/leadpilot/leadpilot/internal/plans"
	"github.com/leadpilot/leadpilot/internal/users"
)

// renewalBatchSize caps how many due subscriptions one sweep processes.
const renewalBatchSize = 500

// Timer periodically sweeps subscriptions whose renewal date has passed.
// Paid renewals arrive as invoice events; the sweep covers what Stripe never
// sends an invoice for: free-plan cycles and paid subscriptions that reached
// their period end flagged cancel-at-period-end.
type Timer struct {
	ledger   *credits.Ledger
	users    users.Store
	plans    plans.Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewTimer creates a renewal sweep timer.
func NewTimer(ledger *credits.Ledger, userStore users.Store, planStore plans.Store, logger *slog.Logger) *Timer {
	return &Timer{
		ledger:   ledger,
		users:    userStore,
		plans:    planStore,
		interval: 24 * time.Hour,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

// Sweep processes every subscription due for renewal. Exported so tests and
// an admin endpoint can trigger it directly.
func (t *Timer) Sweep(ctx context.Context) {
	due, err := t.users.ListDueRenewals(ctx, time.Now(), renewalBatchSize)
	if err != nil {
		t.logger.Warn("renewal sweep failed to list due subscriptions", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	var ended, renewed int
	for _, user := range due {
		if user.Subscription == nil {
			continue
		}
		switch {
		case user.Subscription.CancelAtPeriodEnd:
			if t.endSubscription(ctx, user) {
				ended++
			}
		default:
			if t.renewFree(ctx, user) {
				renewed++
			}
		}
	}

	t.logger.Info("renewal sweep complete", "due", len(due), "ended", ended, "free_renewed", renewed)
}

// endSubscription expires the remaining balance of a subscription that
// reached its period end with the cancel flag set, then clears the block.
func (t *Timer) endSubscription(ctx context.Context, user *users.User) bool {
	balance, err := t.ledger.GetBalance(ctx, user.ID)
	if err != nil {
		t.logger.Error("sweep: balance read failed", "user_id", user.ID, "error", err)
		return false
	}
	if balance > 0 {
		meta := credits.Metadata{}
		if user.Subscription.StripeSubscriptionID != "" {
			meta[credits.MetaSubscriptionID] = user.Subscription.StripeSubscriptionID
		}
		if _, err := t.ledger.Expire(ctx, user.ID, balance, "subscription ended", meta); err != nil {
			t.logger.Error("sweep: expire failed", "user_id", user.ID, "amount", balance, "error", err)
			return false
		}
	}

	if err := t.users.ClearSubscription(ctx, user.ID); err != nil {
		t.logger.Error("sweep: clear subscription failed", "user_id", user.ID, "error", err)
		return false
	}

	t.logger.Info("subscription ended at period end", "user_id", user.ID)
	return true
}

// renewFree grants a free plan's monthly credits and advances the renewal
// date. Unlike invoice-driven paid renewals, free renewals do not expire the
// previous cycle's remainder first.
func (t *Timer) renewFree(ctx context.Context, user *users.User) bool {
	plan, err := t.plans.GetByID(ctx, user.Subscription.PlanID)
	if err != nil {
		t.logger.Error("sweep: unknown plan on due subscription",
			"user_id", user.ID, "plan_id", user.Subscription.PlanID, "error", err)
		return false
	}
	if !plan.IsFree() {
		// Paid renewal: Stripe will deliver invoice.paid; nothing to do here.
		return false
	}

	if _, err := t.ledger.Credit(ctx, user.ID, plan.Credits, "free plan renewal", credits.Metadata{
		credits.MetaPlanID:  plan.ID,
		credits.MetaInitial: "false",
	}); err != nil {
		t.logger.Error("sweep: free renewal credit failed", "user_id", user.ID, "error", err)
		return false
	}

	user.Subscription.NextRenewalDate = nextCycle(user.Subscription.NextRenewalDate, plan.BillingCycle)
	if err := t.users.Update(ctx, user); err != nil {
		t.logger.Error("sweep: renewal date advance failed", "user_id", user.ID, "error", err)
		return false
	}

	t.logger.Info("free plan renewed", "user_id", user.ID, "plan_id", plan.ID, "credits", plan.Credits)
	return true
}

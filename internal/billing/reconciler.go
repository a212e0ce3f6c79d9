// Package billing reconciles payment-provider events with the credit ledger
// and manages checkout, subscription, and renewal flows.
//
// Webhook delivery is at-least-once and unordered, so every path that would
// touch the ledger first dedupes against transaction metadata (session id or
// invoice id). Subscription updates whose linkage metadata has not propagated
// yet get one deferred re-fetch, then are dropped; the provider re-delivers
// on its own schedule if the gap is real.
package billing

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	stripe "github.com/stripe/stripe-go/v81"

	"github.com/leadpilot/leadpilot/internal/credits"
	"github.com/leadpilot/leadpilot/internal/plans"
	"github.com/leadpilot/leadpilot/internal/traces"
	"github.com/leadpilot/leadpilot/internal/users"
)

// Provider is the outbound Stripe surface the reconciler needs. *Client
// implements it; tests substitute a fake.
type Provider interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	UpdateSubscriptionMetadata(ctx context.Context, id string, meta map[string]string) error
}

// Default delay before re-fetching a subscription event that arrived without
// linkage metadata.
const deferredRetryDelay = 5 * time.Second

// Reconciler translates billing events into at most one ledger mutation each.
type Reconciler struct {
	ledger   *credits.Ledger
	users    users.Store
	plans    plans.Store
	provider Provider
	logger   *slog.Logger

	// pending tracks subscription ids awaiting their one deferred retry.
	pending   map[string]struct{}
	pendingMu sync.Mutex

	retryDelay time.Duration
	retryWG    sync.WaitGroup
}

// NewReconciler creates a reconciler.
func NewReconciler(ledger *credits.Ledger, userStore users.Store, planStore plans.Store, provider Provider, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger:     ledger,
		users:      userStore,
		plans:      planStore,
		provider:   provider,
		logger:     logger,
		pending:    make(map[string]struct{}),
		retryDelay: deferredRetryDelay,
	}
}

// HandleCheckoutCompleted processes a checkout.session.completed event.
//
// Subscription-mode checkouts grant no credits here; the session's linkage
// metadata is copied onto the subscription object so later invoice and
// subscription events can find the account. One-time purchases credit
// plan.Credits × quantity, deduped by session id.
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) (Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "billing.HandleCheckoutCompleted", traces.SessionID(session.ID))
	defer span.End()

	linkage := parseCheckoutLinkage(session.Metadata)

	if session.Mode == stripe.CheckoutSessionModeSubscription {
		if session.Subscription == nil || session.Subscription.ID == "" {
			r.logger.Warn("subscription checkout completed without subscription id", "session_id", session.ID)
			return OutcomeSkipped, nil
		}
		if err := r.provider.UpdateSubscriptionMetadata(ctx, session.Subscription.ID, session.Metadata); err != nil {
			r.logger.Error("failed to propagate checkout metadata to subscription",
				"session_id", session.ID, "subscription_id", session.Subscription.ID, "error", err)
			return OutcomeSkipped, err
		}
		return OutcomeSkipped, nil
	}

	// One-time credit pack purchase.
	seen, err := r.ledger.HasTransactionWithMeta(ctx, credits.MetaSessionID, session.ID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if seen {
		r.logger.Info("duplicate checkout event ignored", "session_id", session.ID)
		return OutcomeSkipped, nil
	}

	if linkage.UserID == "" || linkage.PlanID == "" {
		r.logger.Warn("checkout session missing linkage metadata",
			"session_id", session.ID, "user_id", linkage.UserID, "plan_id", linkage.PlanID)
		return OutcomeSkipped, nil
	}

	plan, err := r.plans.GetByID(ctx, linkage.PlanID)
	if err != nil {
		r.logger.Error("checkout references unknown plan", "session_id", session.ID, "plan_id", linkage.PlanID, "error", err)
		return OutcomeSkipped, err
	}

	grant := plan.Credits * linkage.Quantity
	_, err = r.ledger.Credit(ctx, linkage.UserID, grant, "credit pack purchase", credits.Metadata{
		credits.MetaSessionID: session.ID,
		credits.MetaPlanID:    plan.ID,
		credits.MetaQuantity:  strconv.FormatInt(linkage.Quantity, 10),
	})
	if err != nil {
		r.logger.Error("failed to credit checkout purchase",
			"session_id", session.ID, "user_id", linkage.UserID, "amount", grant, "error", err)
		return OutcomeSkipped, err
	}

	r.logger.Info("credit pack purchase applied",
		"session_id", session.ID, "user_id", linkage.UserID, "credits", grant)
	return OutcomeApplied, nil
}

// HandleInvoicePaid processes an invoice.paid event.
//
// Initial invoices (billing reason subscription_create) grant the plan's
// credits; renewal invoices (subscription_cycle) first expire the full
// remaining balance (unused credits do not carry over) and then grant. Any
// other billing reason, such as a plan-change proration, moves no credits.
// In every case the stored subscription block is refreshed from the
// provider's snapshot, including for duplicate deliveries.
func (r *Reconciler) HandleInvoicePaid(ctx context.Context, inv *stripe.Invoice) (Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "billing.HandleInvoicePaid", traces.InvoiceID(inv.ID))
	defer span.End()

	if inv.Subscription == nil || inv.Subscription.ID == "" {
		// One-time invoices are covered by checkout events.
		return OutcomeSkipped, nil
	}
	subID := inv.Subscription.ID

	sub, err := r.provider.GetSubscription(ctx, subID)
	if err != nil {
		r.logger.Error("failed to fetch subscription for invoice", "invoice_id", inv.ID, "subscription_id", subID, "error", err)
		return OutcomeSkipped, err
	}

	user, plan, err := r.resolveInvoiceAccount(ctx, sub)
	if err != nil {
		r.logger.Warn("could not resolve account for invoice",
			"invoice_id", inv.ID, "subscription_id", subID, "error", err)
		return OutcomeSkipped, nil
	}

	seen, err := r.ledger.HasTransactionWithMeta(ctx, credits.MetaInvoiceID, inv.ID)
	if err != nil {
		return OutcomeSkipped, err
	}

	outcome := OutcomeSkipped
	switch {
	case seen:
		r.logger.Info("duplicate invoice event ignored", "invoice_id", inv.ID)

	case inv.BillingReason == stripe.InvoiceBillingReasonSubscriptionCreate,
		inv.BillingReason == stripe.InvoiceBillingReasonSubscriptionCycle:
		renewal := inv.BillingReason == stripe.InvoiceBillingReasonSubscriptionCycle

		if renewal {
			if err := r.expireBalance(ctx, user.ID, "subscription renewal", credits.Metadata{
				credits.MetaInvoiceID:      inv.ID,
				credits.MetaSubscriptionID: subID,
			}); err != nil {
				return OutcomeSkipped, err
			}
		}

		reason := "subscription started"
		meta := credits.Metadata{
			credits.MetaInvoiceID:      inv.ID,
			credits.MetaSubscriptionID: subID,
			credits.MetaPlanID:         plan.ID,
			credits.MetaInitial:        "true",
		}
		if renewal {
			reason = "subscription renewal"
			meta[credits.MetaInitial] = "false"
		}
		if _, err := r.ledger.Credit(ctx, user.ID, plan.Credits, reason, meta); err != nil {
			r.logger.Error("failed to credit invoice",
				"invoice_id", inv.ID, "user_id", user.ID, "amount", plan.Credits, "error", err)
			return OutcomeSkipped, err
		}

		r.logger.Info("invoice credits applied",
			"invoice_id", inv.ID, "user_id", user.ID, "plan_id", plan.ID,
			"credits", plan.Credits, "renewal", renewal)
		outcome = OutcomeApplied

	default:
		// Proration, manual, and threshold invoices move no credits; only
		// the subscription snapshot below is taken.
		r.logger.Info("invoice moves no credits",
			"invoice_id", inv.ID, "billing_reason", inv.BillingReason)
	}

	// Refresh subscription state from the provider snapshot regardless of
	// whether credits moved.
	r.refreshSubscription(ctx, user, plan.ID, sub)
	return outcome, nil
}

// HandleSubscriptionUpdated processes a customer.subscription.updated event.
// No credit mutation happens on this path; it only keeps the stored
// subscription block aligned with the provider.
func (r *Reconciler) HandleSubscriptionUpdated(ctx context.Context, sub *stripe.Subscription) (Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "billing.HandleSubscriptionUpdated", traces.SubscriptionID(sub.ID))
	defer span.End()

	linkage := parseSubscriptionLinkage(sub)
	if linkage.UserID == "" {
		return r.deferUpdate(sub.ID), nil
	}
	return r.applyUpdate(ctx, sub, linkage)
}

// HandleSubscriptionDeleted processes a customer.subscription.deleted event:
// expire the whole remaining balance and drop the subscription block. A
// deleted event without linkage metadata is terminal; there is no invoice to
// fall back to, so it is logged and dropped.
func (r *Reconciler) HandleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) (Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "billing.HandleSubscriptionDeleted", traces.SubscriptionID(sub.ID))
	defer span.End()

	linkage := parseSubscriptionLinkage(sub)
	if linkage.UserID == "" {
		r.logger.Error("subscription deleted without linkage metadata, cannot reconcile",
			"subscription_id", sub.ID)
		return OutcomeSkipped, nil
	}

	if err := r.expireBalance(ctx, linkage.UserID, "subscription ended", credits.Metadata{
		credits.MetaSubscriptionID: sub.ID,
	}); err != nil {
		return OutcomeSkipped, err
	}

	if err := r.users.ClearSubscription(ctx, linkage.UserID); err != nil {
		r.logger.Error("failed to clear subscription block",
			"subscription_id", sub.ID, "user_id", linkage.UserID, "error", err)
		return OutcomeSkipped, err
	}

	r.logger.Info("subscription deleted and credits expired",
		"subscription_id", sub.ID, "user_id", linkage.UserID)
	return OutcomeApplied, nil
}

// PendingRetries reports how many subscription updates are awaiting their
// deferred re-fetch. Exposed for tests and debug endpoints.
func (r *Reconciler) PendingRetries() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

// Wait blocks until all scheduled deferred retries have run. Test helper.
func (r *Reconciler) Wait() {
	r.retryWG.Wait()
}

// deferUpdate schedules a single re-fetch of the subscription after
// retryDelay. Re-enqueueing an id already pending is a no-op. The retry is
// process-local and lost on restart; the provider's own webhook retries
// cover that.
func (r *Reconciler) deferUpdate(subID string) Outcome {
	r.pendingMu.Lock()
	if _, exists := r.pending[subID]; exists {
		r.pendingMu.Unlock()
		return OutcomeDeferred
	}
	r.pending[subID] = struct{}{}
	r.pendingMu.Unlock()

	r.logger.Info("subscription update missing linkage metadata, deferring",
		"subscription_id", subID, "delay", r.retryDelay)

	r.retryWG.Add(1)
	time.AfterFunc(r.retryDelay, func() {
		defer r.retryWG.Done()

		r.pendingMu.Lock()
		delete(r.pending, subID)
		r.pendingMu.Unlock()

		// Detached from the request context: the originating HTTP request
		// has long since been answered.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sub, err := r.provider.GetSubscription(ctx, subID)
		if err != nil {
			r.logger.Error("deferred subscription re-fetch failed", "subscription_id", subID, "error", err)
			return
		}
		linkage := parseSubscriptionLinkage(sub)
		if linkage.UserID == "" {
			r.logger.Error("subscription still missing linkage metadata after deferred retry, dropping",
				"subscription_id", subID)
			return
		}
		if _, err := r.applyUpdate(ctx, sub, linkage); err != nil {
			r.logger.Error("deferred subscription update failed", "subscription_id", subID, "error", err)
		}
	})
	return OutcomeDeferred
}

func (r *Reconciler) applyUpdate(ctx context.Context, sub *stripe.Subscription, linkage subscriptionLinkage) (Outcome, error) {
	user, err := r.users.GetByID(ctx, linkage.UserID)
	if err != nil {
		r.logger.Error("subscription update for unknown user",
			"subscription_id", sub.ID, "user_id", linkage.UserID, "error", err)
		return OutcomeSkipped, err
	}

	planID := linkage.PlanID
	if planID == "" && user.Subscription != nil {
		planID = user.Subscription.PlanID
	}

	r.refreshSubscription(ctx, user, planID, sub)
	return OutcomeApplied, nil
}

// refreshSubscription overwrites the stored subscription block from the
// provider snapshot. Errors are logged, not returned; the snapshot will be
// re-applied by the next event touching this subscription.
func (r *Reconciler) refreshSubscription(ctx context.Context, user *users.User, planID string, sub *stripe.Subscription) {
	if user.Subscription == nil {
		user.Subscription = &users.Subscription{StartDate: time.Now()}
	}
	if planID != "" {
		user.Subscription.PlanID = planID
	}
	user.Subscription.StripeSubscriptionID = sub.ID
	user.Subscription.Status = users.SubscriptionStatus(sub.Status)
	user.Subscription.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	user.Subscription.NextRenewalDate = time.Unix(sub.CurrentPeriodEnd, 0).UTC()

	if err := r.users.Update(ctx, user); err != nil {
		r.logger.Error("failed to refresh subscription state",
			"subscription_id", sub.ID, "user_id", user.ID, "error", err)
	}
}

// resolveInvoiceAccount finds the user and plan an invoice belongs to:
// subscription metadata first, then the stored external subscription id.
func (r *Reconciler) resolveInvoiceAccount(ctx context.Context, sub *stripe.Subscription) (*users.User, *plans.Plan, error) {
	linkage := parseSubscriptionLinkage(sub)

	var user *users.User
	var err error
	if linkage.UserID != "" {
		user, err = r.users.GetByID(ctx, linkage.UserID)
	} else {
		user, err = r.users.GetByStripeSubscriptionID(ctx, sub.ID)
	}
	if err != nil {
		return nil, nil, err
	}

	planID := linkage.PlanID
	if planID == "" && user.Subscription != nil {
		planID = user.Subscription.PlanID
	}
	plan, err := r.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	return user, plan, nil
}

// expireBalance expires the user's entire remaining balance. Nothing to
// expire is a no-op.
func (r *Reconciler) expireBalance(ctx context.Context, userID, reason string, meta credits.Metadata) error {
	balance, err := r.ledger.GetBalance(ctx, userID)
	if err != nil {
		r.logger.Error("failed to read balance before expiry", "user_id", userID, "error", err)
		return err
	}
	if balance <= 0 {
		return nil
	}
	if _, err := r.ledger.Expire(ctx, userID, balance, reason, meta); err != nil {
		r.logger.Error("failed to expire balance", "user_id", userID, "amount", balance, "error", err)
		return err
	}
	return nil
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	stripe "github.com/stripe/stripe-go/v81"

	"github.com/leadpilot/leadpilot/internal/credits"
	"github.com/leadpilot/leadpilot/internal/plans"
	"github.com/leadpilot/leadpilot/internal/users"
)

var (
	ErrNoSubscription   = errors.New("billing: no active subscription")
	ErrAlreadyCanceled  = errors.New("billing: subscription already set to cancel")
	ErrPlanNotPayable   = errors.New("billing: plan has no payment price configured")
	ErrPaymentsDisabled = errors.New("billing: payment provider not configured")
)

// CheckoutProvider is the outbound Stripe surface the service needs beyond
// the reconciler's Provider. *Client implements both.
type CheckoutProvider interface {
	Provider
	CreateCustomer(ctx context.Context, userID, email, name string) (string, error)
	CreateSubscriptionCheckout(ctx context.Context, customerID, priceID string, meta map[string]string, successURL, cancelURL string) (string, error)
	CreateCreditPackCheckout(ctx context.Context, customerID, priceID string, quantity int64, meta map[string]string, successURL, cancelURL string) (string, error)
	SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*stripe.Subscription, error)
}

// Service implements the user-facing billing operations: subscribe, purchase
// credit packs, cancel, and summarize.
type Service struct {
	ledger    *credits.Ledger
	users     users.Store
	plans     plans.Store
	provider  CheckoutProvider
	clientURL string
	logger    *slog.Logger
}

// NewService creates a billing service. clientURL is the frontend base URL
// checkout redirects return to. A nil provider disables the paid paths with
// ErrPaymentsDisabled; free-plan subscribe, cancel, and summaries still work.
func NewService(ledger *credits.Ledger, userStore users.Store, planStore plans.Store, provider CheckoutProvider, clientURL string, logger *slog.Logger) *Service {
	return &Service{
		ledger:    ledger,
		users:     userStore,
		plans:     planStore,
		provider:  provider,
		clientURL: clientURL,
		logger:    logger,
	}
}

// SubscribeResult is what Subscribe returns: either an immediate activation
// (free plans) or a checkout URL the caller must complete.
type SubscribeResult struct {
	CheckoutURL string `json:"checkoutUrl,omitempty"`
	Activated   bool   `json:"activated"`
	PlanID      string `json:"planId"`
}

// Subscribe starts a subscription to the given plan. Free plans activate
// immediately and grant their credits; paid plans return a checkout URL and
// activate via webhook events.
func (s *Service) Subscribe(ctx context.Context, userID, planID string) (*SubscribeResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.BillingCycle == plans.CycleOneTime {
		return nil, fmt.Errorf("billing: plan %s is a one-time purchase, not a subscription", planID)
	}

	if plan.IsFree() {
		return s.subscribeFree(ctx, user, plan)
	}

	if plan.StripePriceID == "" {
		return nil, ErrPlanNotPayable
	}
	if s.provider == nil {
		return nil, ErrPaymentsDisabled
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	url, err := s.provider.CreateSubscriptionCheckout(ctx, customerID, plan.StripePriceID,
		linkageMetadata(user.ID, plan.ID),
		s.clientURL+"/billing/success", s.clientURL+"/billing/cancel")
	if err != nil {
		return nil, err
	}
	return &SubscribeResult{CheckoutURL: url, PlanID: plan.ID}, nil
}

// subscribeFree activates a free plan without touching the payment provider.
func (s *Service) subscribeFree(ctx context.Context, user *users.User, plan *plans.Plan) (*SubscribeResult, error) {
	now := time.Now()
	user.Subscription = &users.Subscription{
		PlanID:          plan.ID,
		Status:          users.StatusActive,
		StartDate:       now,
		NextRenewalDate: nextCycle(now, plan.BillingCycle),
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}

	if _, err := s.ledger.Credit(ctx, user.ID, plan.Credits, "free plan credits", credits.Metadata{
		credits.MetaPlanID:   plan.ID,
		credits.MetaPlanName: plan.Name,
		credits.MetaInitial:  "true",
	}); err != nil {
		return nil, err
	}

	s.logger.Info("free plan activated", "user_id", user.ID, "plan_id", plan.ID, "credits", plan.Credits)
	return &SubscribeResult{Activated: true, PlanID: plan.ID}, nil
}

// PurchaseCredits opens a one-time checkout for quantity units of the credit
// pack plan.
func (s *Service) PurchaseCredits(ctx context.Context, userID string, quantity int64) (string, error) {
	if quantity <= 0 {
		quantity = 1
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	pack, err := s.plans.GetByName(ctx, "Additional Credits")
	if err != nil {
		return "", err
	}
	if pack.StripePriceID == "" {
		return "", ErrPlanNotPayable
	}
	if s.provider == nil {
		return "", ErrPaymentsDisabled
	}

	url, err := s.provider.CreateCreditPackCheckout(ctx, user.StripeCustomerID, pack.StripePriceID, quantity,
		linkageMetadata(user.ID, pack.ID),
		s.clientURL+"/billing/success", s.clientURL+"/billing/cancel")
	if err != nil {
		return "", err
	}
	return url, nil
}

// Cancel requests cancellation of the current subscription. Paid plans are
// set to cancel at period end at the provider and keep their credits until
// then; free plans are dropped immediately.
func (s *Service) Cancel(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Subscription == nil {
		return ErrNoSubscription
	}
	if user.Subscription.CancelAtPeriodEnd {
		return ErrAlreadyCanceled
	}

	plan, err := s.plans.GetByID(ctx, user.Subscription.PlanID)
	if err != nil {
		return err
	}

	if plan.IsFree() || user.Subscription.StripeSubscriptionID == "" {
		if err := s.users.ClearSubscription(ctx, userID); err != nil {
			return err
		}
		s.logger.Info("free subscription canceled", "user_id", userID, "plan_id", plan.ID)
		return nil
	}

	if s.provider == nil {
		return ErrPaymentsDisabled
	}

	sub, err := s.provider.SetCancelAtPeriodEnd(ctx, user.Subscription.StripeSubscriptionID, true)
	if err != nil {
		return err
	}

	user.Subscription.CancelAtPeriodEnd = true
	if sub != nil && sub.CurrentPeriodEnd > 0 {
		// Keep the stored renewal date aligned with the provider's period end
		// in case earlier events drifted.
		user.Subscription.NextRenewalDate = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	s.logger.Info("subscription set to cancel at period end",
		"user_id", userID, "subscription_id", user.Subscription.StripeSubscriptionID)
	return nil
}

// Summary is the current billing position for a user.
type Summary struct {
	Balance      int64               `json:"balance"`
	Subscription *users.Subscription `json:"subscription,omitempty"`
	Plan         *plans.Plan         `json:"plan,omitempty"`
}

// GetSummary returns the user's balance, subscription block, and plan.
func (s *Service) GetSummary(ctx context.Context, userID string) (*Summary, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Balance: balance, Subscription: user.Subscription}
	if user.Subscription != nil {
		if plan, err := s.plans.GetByID(ctx, user.Subscription.PlanID); err == nil {
			summary.Plan = plan
		}
	}
	return summary, nil
}

// ensureCustomer returns the user's Stripe customer id, creating one on
// first use.
func (s *Service) ensureCustomer(ctx context.Context, user *users.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}
	customerID, err := s.provider.CreateCustomer(ctx, user.ID, user.Email, user.Name)
	if err != nil {
		return "", err
	}
	if err := s.users.SetStripeCustomerID(ctx, user.ID, customerID); err != nil {
		return "", err
	}
	user.StripeCustomerID = customerID
	return customerID, nil
}

// nextCycle advances a renewal date by one billing cycle.
func nextCycle(from time.Time, cycle plans.BillingCycle) time.Time {
	if cycle == plans.CycleAnnual {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

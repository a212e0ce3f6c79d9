package billing

import (
	"strconv"

	stripe "github.com/stripe/stripe-go/v81"
)

// Outcome describes what the reconciler did with one delivered event.
type Outcome string

const (
	// OutcomeApplied means the event changed ledger or subscription state.
	OutcomeApplied Outcome = "applied"
	// OutcomeSkipped means the event was a duplicate, irrelevant, or missing
	// required data that will not arrive later.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDeferred means the event lacked linkage metadata and was queued
	// for a single delayed re-fetch.
	OutcomeDeferred Outcome = "deferred"
)

// Metadata keys embedded in Stripe objects at checkout/subscribe time and
// read back from webhook payloads.
const (
	stripeMetaUserID   = "userId"
	stripeMetaPlanID   = "planId"
	stripeMetaQuantity = "quantity"
)

// checkoutLinkage is the typed view of the metadata a checkout session
// carries back to us.
type checkoutLinkage struct {
	UserID   string
	PlanID   string
	Quantity int64
}

func parseCheckoutLinkage(meta map[string]string) checkoutLinkage {
	l := checkoutLinkage{
		UserID:   meta[stripeMetaUserID],
		PlanID:   meta[stripeMetaPlanID],
		Quantity: 1,
	}
	if q, err := strconv.ParseInt(meta[stripeMetaQuantity], 10, 64); err == nil && q > 0 {
		l.Quantity = q
	}
	return l
}

// subscriptionLinkage is the typed view of the metadata on a subscription
// object.
type subscriptionLinkage struct {
	UserID string
	PlanID string
}

func parseSubscriptionLinkage(sub *stripe.Subscription) subscriptionLinkage {
	if sub == nil || sub.Metadata == nil {
		return subscriptionLinkage{}
	}
	return subscriptionLinkage{
		UserID: sub.Metadata[stripeMetaUserID],
		PlanID: sub.Metadata[stripeMetaPlanID],
	}
}

// linkageMetadata builds the metadata block stamped onto Stripe objects so
// webhook events can be tied back to an account and plan.
func linkageMetadata(userID, planID string) map[string]string {
	return map[string]string{
		stripeMetaUserID: userID,
		stripeMetaPlanID: planID,
	}
}

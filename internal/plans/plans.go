// Package plans holds the subscription plan catalogue.
//
// Plans are read-only from the ledger and billing reconciler's perspective;
// only admin endpoints mutate them.
package plans

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("plans: not found")

// BillingCycle is how often a plan renews.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
	CycleOneTime BillingCycle = "one-time"
)

// Plan is a purchasable tier or credit pack.
type Plan struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Description         string       `json:"description,omitempty"`
	PriceCents          int64        `json:"priceCents"`
	BillingCycle        BillingCycle `json:"billingCycle"`
	Credits             int64        `json:"credits"`
	EnrichmentsPerMonth int64        `json:"enrichmentsPerMonth,omitempty"`
	StripePriceID       string       `json:"-"`
	DisplayOnWebsite    bool         `json:"displayOnWebsite"`
	SortOrder           int          `json:"sortOrder"`
	Active              bool         `json:"active"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// IsFree reports whether the plan bills nothing and renews outside Stripe.
func (p *Plan) IsFree() bool {
	return p.PriceCents == 0
}

// Store persists plans.
type Store interface {
	Create(ctx context.Context, p *Plan) error
	GetByID(ctx context.Context, id string) (*Plan, error)
	GetByName(ctx context.Context, name string) (*Plan, error)
	Update(ctx context.Context, p *Plan) error
	// ListVisible returns active plans flagged for website display, in sort order.
	ListVisible(ctx context.Context) ([]*Plan, error)
	ListAll(ctx context.Context) ([]*Plan, error)
}

// Defaults is the seed catalogue applied on first boot when the store is empty.
func Defaults() []*Plan {
	now := time.Now()
	return []*Plan{
		{
			ID:               "plan_free",
			Name:             "Free",
			Description:      "Try the platform with a small monthly credit grant",
			PriceCents:       0,
			BillingCycle:     CycleMonthly,
			Credits:          20,
			DisplayOnWebsite: true,
			SortOrder:        1,
			Active:           true,
			CreatedAt:        now,
			UpdatedAt:        now,
		},
		{
			ID:                  "plan_starter",
			Name:                "Starter",
			Description:         "For individual prospectors",
			PriceCents:          2900,
			BillingCycle:        CycleMonthly,
			Credits:             500,
			EnrichmentsPerMonth: 250,
			DisplayOnWebsite:    true,
			SortOrder:           2,
			Active:              true,
			CreatedAt:           now,
			UpdatedAt:           now,
		},
		{
			ID:                  "plan_growth",
			Name:                "Growth",
			Description:         "For teams running outbound at volume",
			PriceCents:          9900,
			BillingCycle:        CycleMonthly,
			Credits:             2000,
			EnrichmentsPerMonth: 1000,
			DisplayOnWebsite:    true,
			SortOrder:           3,
			Active:              true,
			CreatedAt:           now,
			UpdatedAt:           now,
		},
		{
			ID:               "plan_credits",
			Name:             "Additional Credits",
			Description:      "One-time credit top-up",
			PriceCents:       1000,
			BillingCycle:     CycleOneTime,
			Credits:          100,
			DisplayOnWebsite: false,
			SortOrder:        99,
			Active:           true,
			CreatedAt:        now,
			UpdatedAt:        now,
		},
	}
}

// Seed inserts the default catalogue into an empty store. Existing plans are
// left untouched.
func Seed(ctx context.Context, store Store) error {
	existing, err := store.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, p := range Defaults() {
		if err := store.Create(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

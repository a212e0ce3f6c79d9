// Package users manages user accounts and their subscription state.
//
// The credits column on the users table is owned by the ledger (internal/credits);
// nothing in this package writes it.
package users

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("users: not found")
	ErrEmailTaken = errors.New("users: email already registered")
)

// Role controls access to admin endpoints.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// AuthProvider records how the account was created.
type AuthProvider string

const (
	ProviderLocal    AuthProvider = "local"
	ProviderGoogle   AuthProvider = "google"
	ProviderLinkedIn AuthProvider = "linkedin"
)

// SubscriptionStatus mirrors the payment provider's subscription lifecycle.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusUnpaid   SubscriptionStatus = "unpaid"
	StatusTrialing SubscriptionStatus = "trialing"
)

// Subscription is the per-user subscription block. A nil Subscription on a
// User means no plan at all.
type Subscription struct {
	PlanID               string             `json:"planId"`
	StripeSubscriptionID string             `json:"stripeSubscriptionId,omitempty"`
	Status               SubscriptionStatus `json:"status"`
	StartDate            time.Time          `json:"startDate"`
	NextRenewalDate      time.Time          `json:"nextRenewalDate"`
	CancelAtPeriodEnd    bool               `json:"cancelAtPeriodEnd"`
}

// User represents an account on the platform.
type User struct {
	ID               string        `json:"id"`
	Email            string        `json:"email"`
	Name             string        `json:"name,omitempty"`
	PasswordHash     string        `json:"-"`
	Role             Role          `json:"role"`
	AuthProvider     AuthProvider  `json:"authProvider"`
	ProfilePic       string        `json:"profilePic,omitempty"`
	StripeCustomerID string        `json:"-"`
	Subscription     *Subscription `json:"subscription,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Store persists users.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetByStripeSubscriptionID finds the user whose subscription block holds
	// the given external subscription id. Used by the billing reconciler when
	// event metadata has not propagated yet.
	GetByStripeSubscriptionID(ctx context.Context, subID string) (*User, error)
	// Update writes every mutable column, including the subscription block.
	Update(ctx context.Context, u *User) error
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
	// ClearSubscription removes the subscription block entirely.
	ClearSubscription(ctx context.Context, userID string) error
	// ListDueRenewals returns users whose subscription renewal date has passed.
	ListDueRenewals(ctx context.Context, before time.Time, limit int) ([]*User, error)
	List(ctx context.Context, limit int, offset int) ([]*User, error)
	// Exists reports whether a user id is known. The credits memory store
	// uses this to reject ledger operations for unknown accounts.
	Exists(ctx context.Context, id string) (bool, error)
}

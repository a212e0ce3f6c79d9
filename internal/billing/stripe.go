package billing

import (
	"context"
	"fmt"
	"strconv"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// Client wraps the Stripe API for checkout, subscription, and webhook
// verification.
type Client struct {
	api           *client.API
	webhookSecret string
}

// NewClient creates a Stripe client.
func NewClient(apiKey, webhookSecret string) *Client {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &Client{api: api, webhookSecret: webhookSecret}
}

// ConstructEvent verifies the webhook signature and parses the event.
func (c *Client) ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, c.webhookSecret)
}

// GetSubscription fetches the authoritative subscription snapshot.
func (c *Client) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("billing: fetch subscription %s: %w", id, err)
	}
	return sub, nil
}

// UpdateSubscriptionMetadata stamps linkage metadata onto a subscription so
// later webhook events can be tied back to an account.
func (c *Client) UpdateSubscriptionMetadata(ctx context.Context, id string, meta map[string]string) error {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	for k, v := range meta {
		params.AddMetadata(k, v)
	}
	if _, err := c.api.Subscriptions.Update(id, params); err != nil {
		return fmt.Errorf("billing: update subscription %s metadata: %w", id, err)
	}
	return nil
}

// SetCancelAtPeriodEnd flips the provider-side cancel flag.
func (c *Client) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, fmt.Errorf("billing: set cancel_at_period_end on %s: %w", id, err)
	}
	return sub, nil
}

// CreateCustomer creates a Stripe customer tagged with our user id.
func (c *Client) CreateCustomer(ctx context.Context, userID, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.AddMetadata(stripeMetaUserID, userID)

	cust, err := c.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("billing: create customer: %w", err)
	}
	return cust.ID, nil
}

// CreateSubscriptionCheckout opens a subscription-mode checkout session. The
// linkage metadata goes on both the session and the subscription it creates.
func (c *Client) CreateSubscriptionCheckout(ctx context.Context, customerID, priceID string, meta map[string]string, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: meta,
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.Context = ctx
	for k, v := range meta {
		params.AddMetadata(k, v)
	}

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("billing: create subscription checkout: %w", err)
	}
	return session.URL, nil
}

// CreateCreditPackCheckout opens a one-time payment checkout session for a
// credit pack with the given quantity.
func (c *Client) CreateCreditPackCheckout(ctx context.Context, customerID, priceID string, quantity int64, meta map[string]string, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(quantity)},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.Context = ctx
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	for k, v := range meta {
		params.AddMetadata(k, v)
	}
	params.AddMetadata(stripeMetaQuantity, strconv.FormatInt(quantity, 10))

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("billing: create credit pack checkout: %w", err)
	}
	return session.URL, nil
}

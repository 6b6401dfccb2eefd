package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
)

// StripeClient implements Client on the Stripe API.
//
// The constructor sets the global Stripe key; this service is single-tenant
// with exactly one provider account.
type StripeClient struct {
	priceID    string
	successURL string
	cancelURL  string
}

// NewStripeClient creates a StripeClient. priceID is the recurring price used
// by checkout sessions; frontendURL hosts the post-checkout redirect pages.
func NewStripeClient(apiKey, priceID, frontendURL string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{
		priceID:    priceID,
		successURL: frontendURL + "/success.html",
		cancelURL:  frontendURL + "/cancel.html",
	}
}

// ListSubscriptions scans the account's subscriptions across all statuses,
// capped at limit. Stripe has no metadata-filtered lookup, so callers filter
// the returned page themselves.
func (c *StripeClient) ListSubscriptions(ctx context.Context, limit int64) ([]Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Status: stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(limit)

	var subs []Subscription
	iter := subscription.List(params)
	for iter.Next() {
		subs = append(subs, fromStripe(iter.Subscription()))
		if int64(len(subs)) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (c *StripeClient) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	s, err := subscription.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	sub := fromStripe(s)
	return &sub, nil
}

func (c *StripeClient) CancelSubscription(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	s, err := subscription.Cancel(id, params)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", id, err)
	}
	sub := fromStripe(s)
	return &sub, nil
}

func (c *StripeClient) UpdateSubscriptionMetadata(ctx context.Context, id string, metadata map[string]string) error {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	if _, err := subscription.Update(id, params); err != nil {
		return fmt.Errorf("update subscription %s metadata: %w", id, err)
	}
	return nil
}

// CreateCheckoutSession creates a hosted subscription checkout. The user ID is
// tagged on both the session and the subscription it creates, so webhook
// events can be mapped back without a provider-side user index.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(c.priceID), Quantity: stripe.Int64(1)},
		},
		CustomerEmail: stripe.String(p.Email),
		SuccessURL:    stripe.String(c.successURL),
		CancelURL:     stripe.String(c.cancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{UserIDMetadataKey: p.UserID},
		},
	}
	params.Context = ctx
	params.AddMetadata(UserIDMetadataKey, p.UserID)
	if p.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func fromStripe(s *stripe.Subscription) Subscription {
	return Subscription{
		ID:       s.ID,
		Status:   string(s.Status),
		Metadata: s.Metadata,
		Created:  s.Created,
	}
}

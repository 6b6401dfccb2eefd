package billing

import "context"

// UserIDMetadataKey is the metadata tag on provider subscriptions carrying the
// local user ID. The provider has no user index, so resolution is always a
// scan over the subscription listing filtered by this tag.
const UserIDMetadataKey = "userId"

// Subscription is the provider's handle for one subscription. It is never
// persisted locally; only its ID is recorded on the matched user's record.
type Subscription struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
	Created  int64             `json:"created"`
}

// Entitled reports whether the provider considers this subscription live.
func (s Subscription) Entitled() bool {
	return s.Status == "active" || s.Status == "trialing"
}

// UserID returns the local user ID this handle is tagged with, if any.
func (s Subscription) UserID() string {
	return s.Metadata[UserIDMetadataKey]
}

// CheckoutParams describes a checkout session for a new subscription.
type CheckoutParams struct {
	UserID         string
	Email          string
	IdempotencyKey string
}

// CheckoutSession is the provider's hosted payment page reference.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Client is the typed interface to the external billing provider. It carries
// no business logic; all reconciliation decisions live above it.
type Client interface {
	// ListSubscriptions returns up to limit subscriptions across all
	// statuses. This is the bounded scan used for metadata-tag resolution.
	ListSubscriptions(ctx context.Context, limit int64) ([]Subscription, error)
	// GetSubscription retrieves a single subscription by provider ID.
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	// CancelSubscription cancels immediately and returns the final handle.
	CancelSubscription(ctx context.Context, id string) (*Subscription, error)
	// UpdateSubscriptionMetadata merges metadata keys into the handle.
	UpdateSubscriptionMetadata(ctx context.Context, id string, metadata map[string]string) error
	// CreateCheckoutSession is a pass-through to the provider's hosted checkout.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
}

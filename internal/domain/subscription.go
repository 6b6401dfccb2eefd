package domain

import (
	"strings"
	"time"
)

// Status is the canonical subscription status for a user.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Subscribed reports whether the status grants entitlement.
func (s Status) Subscribed() bool {
	return s == StatusActive || s == StatusTrialing
}

// StatusFromProvider maps a billing-provider status string to a canonical Status.
// Anything the provider reports beyond active/trialing is treated as inactive.
func StatusFromProvider(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	default:
		return StatusInactive
	}
}

// Source records which path last mutated a subscription record.
type Source string

const (
	SourceWebhook      Source = "webhook"
	SourceRefresh      Source = "refresh"
	SourceCancellation Source = "cancellation"
	SourceOverride     Source = "override"
)

// SubscriptionRecord is the per-user entitlement state. There is exactly one
// record per user ID; it is created lazily on first check and never deleted.
type SubscriptionRecord struct {
	UserID         string    `json:"userId"`
	Status         Status    `json:"status"`
	SubscriptionID string    `json:"subscriptionId,omitempty"`
	LastCheckedAt  time.Time `json:"lastCheckedAt"`
	LastEventAt    time.Time `json:"lastEventAt"`
	Source         Source    `json:"source,omitempty"`
}

// Subscribed is derived from Status; it is never stored independently.
func (r SubscriptionRecord) Subscribed() bool {
	return r.Status.Subscribed()
}

// SubscriptionEvent is a normalized webhook event ready for state application.
type SubscriptionEvent struct {
	Kind           string
	UserID         string
	Status         Status
	SubscriptionID string
}

// CheckSubscriptionResponse answers GET /check-subscription/{userId}.
type CheckSubscriptionResponse struct {
	Subscribed bool `json:"subscribed"`
}

// RefreshSubscriptionResponse answers POST /refresh-subscription/{userId}.
type RefreshSubscriptionResponse struct {
	Success    bool `json:"success"`
	Subscribed bool `json:"subscribed"`
}

// CancelSubscriptionResponse answers POST /cancel-subscription/{userId}.
type CancelSubscriptionResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	Error          string `json:"error,omitempty"`
}

// SetSubscriptionRequest is the diagnostic override payload.
type SetSubscriptionRequest struct {
	Subscribed *bool `json:"subscribed" validate:"required"`
}

// CreateCheckoutRequest is the input for creating a provider checkout session.
type CreateCheckoutRequest struct {
	UID   string `json:"uid" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

// CreateCheckoutResponse returns the URL to redirect the user to for payment.
type CreateCheckoutResponse struct {
	URL string `json:"url"`
}

// JWTClaims are the verified claims of an externally issued service token.
type JWTClaims struct {
	Sub   string
	Email string
	Role  string
}

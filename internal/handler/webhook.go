package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/substatus/backend/internal/domain"
	"github.com/substatus/backend/internal/service"
	"github.com/substatus/backend/pkg/billing"
)

const webhookBodyLimit = 1024 * 1024 // 1MiB

// WebhookHandler ingests signed billing-provider events. Signature
// verification is the authentication mechanism for this endpoint: it fails
// closed with no state change. Delivery is at-least-once and unordered; the
// reconciler applies events idempotently, so redelivery is harmless.
type WebhookHandler struct {
	svc     *service.Reconciler
	billing billing.Client
	secret  string
}

func NewWebhookHandler(svc *service.Reconciler, client billing.Client, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{
		svc:     svc,
		billing: client,
		secret:  webhookSecret,
	}
}

// HandleStripe handles POST /api/webhooks/stripe.
//
// 200 means accepted: processed or deliberately ignored. A 200 is returned
// even if the durable mirror write failed; redelivery is driven by
// acknowledgment, not by downstream success. 400 is reserved for signature
// failures and 500 for faults that a provider redelivery can heal.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		JSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		JSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Printf("⚠️  webhook signature verification failed: %v", err)
		JSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}

	if err := h.dispatch(r.Context(), &event); err != nil {
		log.Printf("❌ webhook %s (%s) processing failed: %v", event.ID, event.Type, err)
		JSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to process event"})
		return
	}

	JSON(w, http.StatusOK, map[string]bool{"received": true})
}

// Local payload shapes decoded from event.Data.Raw. Only the fields the
// reconciler needs; the provider's full object types are not depended on.
type eventSubscription struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

type eventCheckoutSession struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type eventInvoice struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
}

// dispatch normalizes a verified event into a state transition and forwards
// it to the reconciler. Unrecognized kinds are acknowledged no-ops: new
// provider event types must never break ingestion.
func (h *WebhookHandler) dispatch(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var sess eventCheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		return h.handleCheckoutCompleted(ctx, sess)

	case "invoice.payment_succeeded":
		return h.applyInvoice(ctx, event, domain.StatusActive)

	case "invoice.payment_failed":
		return h.applyInvoice(ctx, event, domain.StatusPastDue)

	case "customer.subscription.updated":
		var sub eventSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		uid := sub.Metadata[billing.UserIDMetadataKey]
		if uid == "" {
			log.Printf("ℹ️  subscription.updated %s carries no user tag, ignoring", sub.ID)
			return nil
		}
		h.svc.ApplyEvent(ctx, domain.SubscriptionEvent{
			Kind:           string(event.Type),
			UserID:         uid,
			Status:         domain.StatusFromProvider(sub.Status),
			SubscriptionID: sub.ID,
		})
		return nil

	case "customer.subscription.deleted":
		var sub eventSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		uid := sub.Metadata[billing.UserIDMetadataKey]
		if uid == "" {
			log.Printf("ℹ️  subscription.deleted %s carries no user tag, ignoring", sub.ID)
			return nil
		}
		h.svc.ApplyEvent(ctx, domain.SubscriptionEvent{
			Kind:           string(event.Type),
			UserID:         uid,
			Status:         domain.StatusCanceled,
			SubscriptionID: sub.ID,
		})
		return nil

	default:
		log.Printf("ℹ️  unhandled event type: %s", event.Type)
		return nil
	}
}

// handleCheckoutCompleted activates the user and tags the new subscription
// handle with the user ID so later events and scans can resolve it. The tag
// update is best-effort: the fix-metadata endpoint recovers missed tags.
func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, sess eventCheckoutSession) error {
	uid := sess.Metadata[billing.UserIDMetadataKey]
	if uid == "" || sess.Subscription == "" {
		log.Printf("ℹ️  checkout session %s missing user tag or subscription, ignoring", sess.ID)
		return nil
	}

	if err := h.billing.UpdateSubscriptionMetadata(ctx, sess.Subscription, map[string]string{
		billing.UserIDMetadataKey: uid,
	}); err != nil {
		log.Printf("⚠️  failed to tag subscription %s with user %s: %v", sess.Subscription, uid, err)
	}

	h.svc.ApplyEvent(ctx, domain.SubscriptionEvent{
		Kind:           "checkout.session.completed",
		UserID:         uid,
		Status:         domain.StatusActive,
		SubscriptionID: sess.Subscription,
	})
	return nil
}

// applyInvoice resolves the invoice's subscription to find the user tag, then
// applies the mapped status. A failed provider retrieve returns an error so
// the provider redelivers the event.
func (h *WebhookHandler) applyInvoice(ctx context.Context, event *stripe.Event, status domain.Status) error {
	var inv eventInvoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}
	if inv.Subscription == "" {
		log.Printf("ℹ️  invoice %s is not for a subscription, ignoring", inv.ID)
		return nil
	}

	sub, err := h.billing.GetSubscription(ctx, inv.Subscription)
	if err != nil {
		return fmt.Errorf("retrieve subscription %s: %w", inv.Subscription, err)
	}
	uid := sub.UserID()
	if uid == "" {
		log.Printf("ℹ️  subscription %s carries no user tag, ignoring invoice %s", sub.ID, inv.ID)
		return nil
	}

	h.svc.ApplyEvent(ctx, domain.SubscriptionEvent{
		Kind:           string(event.Type),
		UserID:         uid,
		Status:         status,
		SubscriptionID: sub.ID,
	})
	return nil
}

package service

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/substatus/backend/internal/domain"
	"github.com/substatus/backend/pkg/billing"
)

// RecordStore is the optional durable mirror for subscription records. A nil
// store disables persistence; the reconciler behaves identically either way.
type RecordStore interface {
	Upsert(ctx context.Context, rec domain.SubscriptionRecord) error
	List(ctx context.Context) ([]domain.SubscriptionRecord, error)
}

// EventPublisher receives every applied state transition, for the live
// diagnostics feed. May be nil.
type EventPublisher interface {
	Publish(rec domain.SubscriptionRecord)
}

// ReconcilerConfig bounds the reconciler's external calls.
type ReconcilerConfig struct {
	ProviderTimeout time.Duration // per billing-provider call
	StoreTimeout    time.Duration // per durable-store write
	ScanPageSize    int64         // cap on the provider subscription scan
}

// Reconciler is the core state unit: it computes canonical subscription
// transitions, resolves users against the billing provider's subscription
// listing by metadata tag, and applies idempotent updates to the status cache
// and the durable store. All mutations for one user are serialized through
// the request gate; the cache is the operative truth for request answers.
type Reconciler struct {
	billing billing.Client
	store   RecordStore
	cache   *StatusCache
	gate    *RequestGate
	events  EventPublisher

	providerTimeout time.Duration
	storeTimeout    time.Duration
	scanLimit       int64

	now func() time.Time
}

// NewReconciler creates a Reconciler. store and events may be nil.
func NewReconciler(client billing.Client, store RecordStore, cache *StatusCache, events EventPublisher, cfg ReconcilerConfig) *Reconciler {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 15 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.ScanPageSize <= 0 {
		cfg.ScanPageSize = 100
	}
	return &Reconciler{
		billing:         client,
		store:           store,
		cache:           cache,
		gate:            NewRequestGate(),
		events:          events,
		providerTimeout: cfg.ProviderTimeout,
		storeTimeout:    cfg.StoreTimeout,
		scanLimit:       cfg.ScanPageSize,
		now:             time.Now,
	}
}

// WarmCache restores records from the durable store into the status cache.
// Called once at startup; failures are logged and non-fatal.
func (r *Reconciler) WarmCache(ctx context.Context) {
	if r.store == nil {
		return
	}
	records, err := r.store.List(ctx)
	if err != nil {
		log.Printf("⚠️  cache warm-up from durable store failed: %v", err)
		return
	}
	r.cache.Warm(records)
	log.Printf("✅ Restored %d subscription records from durable store", len(records))
}

// ApplyEvent applies a normalized webhook event to the user's record. The
// operation is a direct assignment, so redelivering the same event is
// idempotent. Events carry no ordering token: a late-arriving older event can
// overwrite a newer status. That staleness is accepted here, not corrected.
func (r *Reconciler) ApplyEvent(ctx context.Context, ev domain.SubscriptionEvent) domain.SubscriptionRecord {
	release := r.gate.Acquire(ev.UserID)
	defer release()

	rec, _ := r.cache.Get(ev.UserID)
	rec.UserID = ev.UserID
	rec.Status = ev.Status
	if ev.SubscriptionID != "" {
		rec.SubscriptionID = ev.SubscriptionID
	}
	rec.LastEventAt = r.now()
	rec.Source = domain.SourceWebhook

	r.commit(ctx, rec)
	log.Printf("🔄 Applied %s for user %s: %s", ev.Kind, ev.UserID, ev.Status)
	return rec
}

// CheckStatus answers the read path. Without force, a cache hit is returned
// directly and the provider is never called; the answer may lag a pending
// transition until the next event or refresh. A forced refresh (or a cache
// miss) resolves the user against the provider's subscription listing and is
// the way to heal a record whose webhook delivery was lost entirely.
func (r *Reconciler) CheckStatus(ctx context.Context, userID string, force bool) (domain.SubscriptionRecord, error) {
	if !force {
		if rec, ok := r.cache.Get(userID); ok {
			return rec, nil
		}
	}

	release := r.gate.Acquire(userID)
	defer release()

	// A concurrent refresh may have resolved this user while we waited.
	if !force {
		if rec, ok := r.cache.Get(userID); ok {
			return rec, nil
		}
	}

	return r.resolveFromProvider(ctx, userID)
}

// resolveFromProvider scans the provider listing for the first handle tagged
// with userID in an entitled status. No match means inactive. Caller must
// hold the user's gate.
func (r *Reconciler) resolveFromProvider(ctx context.Context, userID string) (domain.SubscriptionRecord, error) {
	match, err := r.findHandle(ctx, userID)
	if err != nil {
		return domain.SubscriptionRecord{}, domain.ErrProviderUnavailable("failed to scan provider subscriptions", err)
	}

	rec, _ := r.cache.Get(userID)
	rec.UserID = userID
	rec.Status = domain.StatusInactive
	if match != nil {
		rec.Status = domain.StatusFromProvider(match.Status)
		rec.SubscriptionID = match.ID
	}
	rec.LastCheckedAt = r.now()
	rec.Source = domain.SourceRefresh

	r.commit(ctx, rec)
	return rec, nil
}

// Cancel is the two-phase cancellation protocol: verify locally, resolve the
// live handle upstream, cancel at the provider, and only commit the canceled
// state after the provider confirmed. A provider failure (including timeout)
// leaves local state untouched: the cache never claims a cancellation that
// did not happen upstream.
func (r *Reconciler) Cancel(ctx context.Context, userID string) (domain.SubscriptionRecord, error) {
	release := r.gate.Acquire(userID)
	defer release()

	rec, ok := r.cache.Get(userID)
	if !ok || !rec.Subscribed() {
		return rec, domain.ErrNotSubscribed
	}

	match, err := r.findHandle(ctx, userID)
	if err != nil {
		return rec, domain.ErrProviderUnavailable("failed to scan provider subscriptions", err)
	}
	if match == nil {
		// Local cache claimed entitlement the provider does not back.
		// Self-heal the divergence before failing.
		rec.Status = domain.StatusInactive
		rec.LastCheckedAt = r.now()
		rec.Source = domain.SourceCancellation
		r.commit(ctx, rec)
		log.Printf("⚠️  user %s cached as subscribed but no live handle upstream; healed to inactive", userID)
		return rec, domain.ErrNotFoundUpstream
	}

	cctx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()
	canceled, err := r.billing.CancelSubscription(cctx, match.ID)
	if err != nil {
		return rec, domain.ErrProviderUnavailable("failed to cancel subscription at the billing provider", err)
	}

	rec.Status = domain.StatusCanceled
	rec.SubscriptionID = canceled.ID
	rec.LastCheckedAt = r.now()
	rec.Source = domain.SourceCancellation
	r.commit(ctx, rec)
	log.Printf("✅ Canceled subscription %s for user %s", canceled.ID, userID)
	return rec, nil
}

// SetOverride writes the cache directly, bypassing the provider. Diagnostic
// use only; the route is access-controlled.
func (r *Reconciler) SetOverride(ctx context.Context, userID string, subscribed bool) domain.SubscriptionRecord {
	release := r.gate.Acquire(userID)
	defer release()

	rec, _ := r.cache.Get(userID)
	rec.UserID = userID
	rec.Status = domain.StatusInactive
	if subscribed {
		rec.Status = domain.StatusActive
	}
	rec.LastCheckedAt = r.now()
	rec.Source = domain.SourceOverride
	r.cache.Set(rec)
	r.publish(rec)
	log.Printf("📝 Manual override for user %s: subscribed=%t", userID, subscribed)
	return rec
}

// DebugSubscriptions lists the provider handles tagged with userID, plus the
// total number of handles scanned.
func (r *Reconciler) DebugSubscriptions(ctx context.Context, userID string) ([]billing.Subscription, int, error) {
	cctx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()
	subs, err := r.billing.ListSubscriptions(cctx, r.scanLimit)
	if err != nil {
		return nil, 0, domain.ErrProviderUnavailable("failed to scan provider subscriptions", err)
	}

	var matches []billing.Subscription
	for _, sub := range subs {
		if sub.UserID() == userID {
			matches = append(matches, sub)
		}
	}
	return matches, len(subs), nil
}

// FixMetadata tags the newest untagged entitled handle with userID and marks
// the user active. Recovers subscriptions created before metadata tagging
// succeeded (e.g. a checkout-completed webhook whose tag update failed).
func (r *Reconciler) FixMetadata(ctx context.Context, userID string) (domain.SubscriptionRecord, error) {
	release := r.gate.Acquire(userID)
	defer release()

	cctx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()
	subs, err := r.billing.ListSubscriptions(cctx, r.scanLimit)
	if err != nil {
		return domain.SubscriptionRecord{}, domain.ErrProviderUnavailable("failed to scan provider subscriptions", err)
	}

	var untagged []billing.Subscription
	for _, sub := range subs {
		if sub.Entitled() && sub.UserID() == "" {
			untagged = append(untagged, sub)
		}
	}
	if len(untagged) == 0 {
		return domain.SubscriptionRecord{}, domain.ErrNotFound("no untagged subscriptions found")
	}
	sort.Slice(untagged, func(i, j int) bool { return untagged[i].Created > untagged[j].Created })
	target := untagged[0]

	uctx, cancelUpdate := context.WithTimeout(ctx, r.providerTimeout)
	defer cancelUpdate()
	if err := r.billing.UpdateSubscriptionMetadata(uctx, target.ID, map[string]string{billing.UserIDMetadataKey: userID}); err != nil {
		return domain.SubscriptionRecord{}, domain.ErrProviderUnavailable("failed to tag subscription metadata", err)
	}

	rec, _ := r.cache.Get(userID)
	rec.UserID = userID
	rec.Status = domain.StatusFromProvider(target.Status)
	rec.SubscriptionID = target.ID
	rec.LastCheckedAt = r.now()
	rec.Source = domain.SourceRefresh
	r.commit(ctx, rec)
	log.Printf("🔧 Tagged subscription %s with user %s", target.ID, userID)
	return rec, nil
}

// CreateCheckout is a pass-through to the provider's hosted checkout.
func (r *Reconciler) CreateCheckout(ctx context.Context, userID, email string) (*billing.CheckoutSession, error) {
	cctx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()
	sess, err := r.billing.CreateCheckoutSession(cctx, billing.CheckoutParams{
		UserID:         userID,
		Email:          email,
		IdempotencyKey: uuid.New().String(),
	})
	if err != nil {
		return nil, domain.ErrProviderUnavailable("failed to create checkout session", err)
	}
	return sess, nil
}

// findHandle scans the provider listing for the first entitled handle tagged
// with userID. The scan is O(n) over the account's subscriptions, capped at
// the configured page size; the provider offers no metadata index.
func (r *Reconciler) findHandle(ctx context.Context, userID string) (*billing.Subscription, error) {
	cctx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()
	subs, err := r.billing.ListSubscriptions(cctx, r.scanLimit)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		if subs[i].UserID() == userID && subs[i].Entitled() {
			return &subs[i], nil
		}
	}
	return nil, nil
}

// commit writes the record to the cache unconditionally, mirrors it to the
// durable store best-effort, and publishes the transition. Store failures are
// logged and swallowed: they never roll back cache state or fail the caller.
func (r *Reconciler) commit(ctx context.Context, rec domain.SubscriptionRecord) {
	r.cache.Set(rec)
	r.persist(ctx, rec)
	r.publish(rec)
}

func (r *Reconciler) persist(ctx context.Context, rec domain.SubscriptionRecord) {
	if r.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storeTimeout)
	defer cancel()
	if err := r.store.Upsert(sctx, rec); err != nil {
		log.Printf("⚠️  durable store write failed for user %s: %v", rec.UserID, err)
	}
}

func (r *Reconciler) publish(rec domain.SubscriptionRecord) {
	if r.events != nil {
		r.events.Publish(rec)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/substatus/backend/internal/domain"
	"github.com/substatus/backend/pkg/billing"
)

var testTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestReconciler(t *testing.T, mock *billing.MockClient, store RecordStore) *Reconciler {
	t.Helper()
	r := NewReconciler(mock, store, NewStatusCache(), nil, ReconcilerConfig{})
	r.now = func() time.Time { return testTime }
	return r
}

// memStore is an in-memory RecordStore with optional error injection.
type memStore struct {
	mu        sync.Mutex
	records   map[string]domain.SubscriptionRecord
	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]domain.SubscriptionRecord)}
}

func (s *memStore) Upsert(ctx context.Context, rec domain.SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.records[rec.UserID] = rec
	return nil
}

func (s *memStore) List(ctx context.Context) ([]domain.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SubscriptionRecord
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

func TestApplyEventIdempotent(t *testing.T) {
	mock := billing.NewMockClient()
	r := newTestReconciler(t, mock, nil)

	ev := domain.SubscriptionEvent{
		Kind:           "customer.subscription.updated",
		UserID:         "user-1",
		Status:         domain.StatusActive,
		SubscriptionID: "sub_1",
	}

	first := r.ApplyEvent(context.Background(), ev)
	second := r.ApplyEvent(context.Background(), ev)

	require.Equal(t, first, second)
	require.Equal(t, domain.StatusActive, second.Status)
	require.Equal(t, "sub_1", second.SubscriptionID)
	require.Equal(t, domain.SourceWebhook, second.Source)
	require.True(t, second.Subscribed())
}

func TestApplyEventPreservesSubscriptionID(t *testing.T) {
	mock := billing.NewMockClient()
	r := newTestReconciler(t, mock, nil)

	r.ApplyEvent(context.Background(), domain.SubscriptionEvent{
		Kind: "checkout.session.completed", UserID: "user-1",
		Status: domain.StatusActive, SubscriptionID: "sub_1",
	})
	// Invoice events may not carry the subscription handle.
	rec := r.ApplyEvent(context.Background(), domain.SubscriptionEvent{
		Kind: "invoice.payment_failed", UserID: "user-1",
		Status: domain.StatusPastDue,
	})

	require.Equal(t, domain.StatusPastDue, rec.Status)
	require.Equal(t, "sub_1", rec.SubscriptionID)
	require.False(t, rec.Subscribed())
}

func TestCheckStatusCacheHitSkipsProvider(t *testing.T) {
	mock := billing.NewMockClient()
	r := newTestReconciler(t, mock, nil)

	r.ApplyEvent(context.Background(), domain.SubscriptionEvent{
		UserID: "user-1", Status: domain.StatusActive, SubscriptionID: "sub_1",
	})

	rec, err := r.CheckStatus(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.True(t, rec.Subscribed())
	require.Zero(t, mock.ListCalls())
}

func TestCheckStatusCacheMissResolvesFromProvider(t *testing.T) {
	mock := billing.NewMockClient()
	mock.Seed(billing.Subscription{
		ID: "sub_1", Status: "trialing",
		Metadata: map[string]string{billing.UserIDMetadataKey: "user-1"},
	})
	r := newTestReconciler(t, mock, nil)

	rec, err := r.CheckStatus(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Equal(t, domain.StatusTrialing, rec.Status)
	require.Equal(t, "sub_1", rec.SubscriptionID)
	require.Equal(t, domain.SourceRefresh, rec.Source)
	require.Equal(t, 1, mock.ListCalls())
}

func TestCheckStatusNoMatchIsInactive(t *testing.T) {
	mock := billing.NewMockClient()
	mock.Seed(billing.Subscription{ID: "sub_other", Status: "active",
		Metadata: map[string]string{billing.UserIDMetadataKey: "someone-else"}})
	r := newTestReconciler(t, mock, nil)

	rec, err := r.CheckStatus(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInactive, rec.Status)
	require.False(t, rec.Subscribed())
}

func TestForcedRefreshCorrectsStaleCache(t *testing.T) {
	mock := billing.NewMockClient()
	r := newTestReconciler(t, mock, nil)

	// Cache says active, provider has nothing for this user.
	r.ApplyEvent(context.Background(), domain.SubscriptionEvent{
		UserID: "user-1", Status: domain.StatusActive, SubscriptionID: "sub_1",
	})

	rec, err := r.CheckStatus(context.Background(), "user-1", true)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInactive, rec.Status)
	require.Equal(t, domain.SourceRefresh, rec.Source)
	require.Equal(t, 1, mock.ListCalls())

	// Without force, the corrected record is served from cache.
	again, err := r.CheckStatus(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Equal(t, rec, again)
	require.Equal(t, 1, mock.ListCalls())
}

func TestCheckStatusProviderFailure(t *testing.T) {
	mock := billing.NewMockClient()
	mock.ListErr = errors.New("provider down")
	r := newTestReconciler(t, mock, nil)

	_, err := r.CheckStatus(context.Background(), "user-1", true)
	require.Error(t, err)
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, 502, appErr.Code)
}

func TestCancelRequiresLocalSubscription(t *testing.T) {
	mock := billing.NewMockClient()
	r := newTestReconciler(t, mock, nil)

	_, err := r.Cancel(context.Background(), "user-1")
	require.ErrorIs(t, err, domain.ErrNotSubscribed)
	// The precondition fails locally; the provider is never consulted.
	require.Zero(t, mock.ListCalls())
	require.Zero(t, mock.CancelCalls())
}

func TestCancelSelfHealsWhenUpstreamMissing(t *testing.T) {
	mock := billing.NewMockClient()
	r := newTestReconciler(t, mock, nil)

	r.ApplyEvent(context.Background(), domain.SubscriptionEvent{
		UserID: "user-1", Status: domain.StatusActive, SubscriptionID: "sub_gone",
	})

	rec, err := r.Cancel(context.Background(), "user-1")
	require.ErrorIs(t, err, domain.ErrNotFoundUpstream)
	require.Equal(t, domain.StatusInactive, rec.Status)
	require.Zero(t, mock.CancelCalls())

	// The divergence is healed in the cache, not just in the return value.
	cached, err := r.CheckStatus(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInactive, cached.Status)
}

func TestCancelCommitsOnlyAfterProviderConfirms(t *testing.T) {
	mock := billing.NewMockClient()
	mock.Seed(billing.Subscription{
		ID: "sub_1", Status: "active",
		Metadata: map[string]string{billing.UserIDMetadataKey: "user-1"},
	})
	r := newTestReconciler(t, mock, nil)

	r.ApplyEvent(context.Background(), domain.SubscriptionEvent{
		UserID: "user-1", Status: domain.StatusActive, SubscriptionID: "sub_1",
	})

	rec, err := r.Cancel(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCanceled, rec.Status)
	require.Equal(t, "sub_1", rec.SubscriptionID)
	require.Equal(t, domain.SourceCancellation, rec.Source)
	require.Equal(t, 1, mock.CancelCalls())
}

func TestCancelProviderFailureLeavesStateUntouched(t *testing.T) {
	mock := billing.NewMockClient()
	mock.Seed(billing.Subscription{
		ID: "sub_1", Status: "active",
		Metadata: map[string]string{billing.UserIDMetadataKey: "user-1"},
	})
	mock.CancelErr = errors.New("provider timeout")
	r := newTestReconciler(t, mock, nil)

	r.ApplyEvent(context.Background(), domain.SubscriptionEvent{
		UserID: "user-1", Status: domain.StatusActive, SubscriptionID: "sub_1",
	})

	_, err := r.Cancel(context.Background(), "user-1")
	require.Error(t, err)
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, 502, appErr.Code)

	// Cache still claims the subscription: no false cancellation.
	rec, err := r.CheckStatus(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, rec.Status)
	require.True(t, rec.Subscribed())
}

func TestStoreFailureNeverPropagates(t *testing.T) {
	mock := billing.NewMockClient()
	store := newMemStore()
	store.upsertErr = errors.New("disk full")
	r := newTestReconciler(t, mock, store)

	rec := r.ApplyEvent(context.Background(), domain.SubscriptionEvent{
		UserID: "user-1", Status: domain.StatusActive, SubscriptionID: "sub_1",
	})
	require.Equal(t, domain.StatusActive, rec.Status)

	// Cache stays authoritative even though the durable write failed.
	cached, err := r.CheckStatus(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Equal(t, rec, cached)
}

func TestWarmCacheRestoresRecords(t *testing.T) {
	mock := billing.NewMockClient()
	store := newMemStore()
	store.records["user-1"] = domain.SubscriptionRecord{
		UserID: "user-1", Status: domain.StatusActive, SubscriptionID: "sub_1",
	}
	r := newTestReconciler(t, mock, store)

	r.WarmCache(context.Background())

	rec, err := r.CheckStatus(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.True(t, rec.Subscribed())
	require.Zero(t, mock.ListCalls())
}

func TestSetOverride(t *testing.T) {
	mock := billing.NewMockClient()
	store := newMemStore()
	r := newTestReconciler(t, mock, store)

	rec := r.SetOverride(context.Background(), "user-1", true)
	require.Equal(t, domain.StatusActive, rec.Status)
	require.Equal(t, domain.SourceOverride, rec.Source)

	rec = r.SetOverride(context.Background(), "user-1", false)
	require.Equal(t, domain.StatusInactive, rec.Status)

	// Overrides are cache-only: nothing reaches the durable store.
	require.Empty(t, store.records)
	require.Zero(t, mock.ListCalls())
}

func TestFixMetadataTagsNewestUntagged(t *testing.T) {
	mock := billing.NewMockClient()
	mock.Seed(billing.Subscription{ID: "sub_old", Status: "active", Created: 100})
	mock.Seed(billing.Subscription{ID: "sub_new", Status: "active", Created: 200})
	mock.Seed(billing.Subscription{ID: "sub_tagged", Status: "active", Created: 300,
		Metadata: map[string]string{billing.UserIDMetadataKey: "someone-else"}})
	r := newTestReconciler(t, mock, nil)

	rec, err := r.FixMetadata(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "sub_new", rec.SubscriptionID)
	require.Equal(t, domain.StatusActive, rec.Status)

	sub, err := mock.GetSubscription(context.Background(), "sub_new")
	require.NoError(t, err)
	require.Equal(t, "user-1", sub.UserID())
}

func TestFixMetadataNoUntagged(t *testing.T) {
	mock := billing.NewMockClient()
	mock.Seed(billing.Subscription{ID: "sub_1", Status: "active",
		Metadata: map[string]string{billing.UserIDMetadataKey: "someone-else"}})
	r := newTestReconciler(t, mock, nil)

	_, err := r.FixMetadata(context.Background(), "user-1")
	require.Error(t, err)
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, 404, appErr.Code)
}

func TestDebugSubscriptions(t *testing.T) {
	mock := billing.NewMockClient()
	mock.Seed(billing.Subscription{ID: "sub_1", Status: "active",
		Metadata: map[string]string{billing.UserIDMetadataKey: "user-1"}})
	mock.Seed(billing.Subscription{ID: "sub_2", Status: "canceled",
		Metadata: map[string]string{billing.UserIDMetadataKey: "user-1"}})
	mock.Seed(billing.Subscription{ID: "sub_3", Status: "active",
		Metadata: map[string]string{billing.UserIDMetadataKey: "someone-else"}})
	r := newTestReconciler(t, mock, nil)

	matches, total, err := r.DebugSubscriptions(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, 3, total)
}

func TestConcurrentMutationsStayConsistent(t *testing.T) {
	mock := billing.NewMockClient()
	store := newMemStore()
	r := newTestReconciler(t, mock, store)

	const users = 10
	const eventsPerUser = 10

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("user-%d", u)
		for i := 0; i < eventsPerUser; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.ApplyEvent(context.Background(), domain.SubscriptionEvent{
					UserID: userID, Status: domain.StatusActive, SubscriptionID: "sub_" + userID,
				})
			}()
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.CheckStatus(context.Background(), userID, false)
			}()
		}
	}
	wg.Wait()

	// All events carried the same status per user, so every record must have
	// converged on it regardless of interleaving.
	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("user-%d", u)
		rec, err := r.CheckStatus(context.Background(), userID, false)
		require.NoError(t, err)
		require.Equal(t, userID, rec.UserID)
		require.Equal(t, domain.StatusActive, rec.Status)
		require.Equal(t, "sub_"+userID, rec.SubscriptionID)
	}
}

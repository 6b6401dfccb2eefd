package billing

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is an in-process Client for development and tests. It is wired
// when no provider API key is configured, so the service can run end to end
// against seeded subscriptions.
type MockClient struct {
	mu   sync.Mutex
	subs map[string]*Subscription

	// Error injection for tests.
	ListErr   error
	GetErr    error
	CancelErr error

	listCalls   int
	cancelCalls int
}

func NewMockClient() *MockClient {
	return &MockClient{subs: make(map[string]*Subscription)}
}

// Seed installs or replaces a subscription handle.
func (m *MockClient) Seed(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := sub
	m.subs[sub.ID] = &s
}

// ListCalls reports how many times ListSubscriptions was invoked.
func (m *MockClient) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

// CancelCalls reports how many times CancelSubscription was invoked.
func (m *MockClient) CancelCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelCalls
}

func (m *MockClient) ListSubscriptions(ctx context.Context, limit int64) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var subs []Subscription
	for _, s := range m.subs {
		if int64(len(subs)) >= limit {
			break
		}
		subs = append(subs, *s)
	}
	return subs, nil
}

func (m *MockClient) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	s, ok := m.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", id)
	}
	out := *s
	return &out, nil
}

func (m *MockClient) CancelSubscription(ctx context.Context, id string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls++
	if m.CancelErr != nil {
		return nil, m.CancelErr
	}
	s, ok := m.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", id)
	}
	s.Status = "canceled"
	out := *s
	return &out, nil
}

func (m *MockClient) UpdateSubscriptionMetadata(ctx context.Context, id string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return fmt.Errorf("subscription %s not found", id)
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	for k, v := range metadata {
		s.Metadata[k] = v
	}
	return nil
}

func (m *MockClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	return &CheckoutSession{
		ID:  "cs_mock_" + p.UserID,
		URL: "https://billing.invalid/pay?session=" + p.IdempotencyKey,
	}, nil
}

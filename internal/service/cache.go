package service

import (
	"sync"

	"github.com/substatus/backend/internal/domain"
)

// StatusCache is the in-process, low-latency source of truth for subscription
// state. It holds one record per user ID with no eviction: cardinality tracks
// active users, not requests. The durable store is only a best-effort mirror;
// request answers always come from here.
type StatusCache struct {
	mu      sync.RWMutex
	records map[string]domain.SubscriptionRecord
}

func NewStatusCache() *StatusCache {
	return &StatusCache{records: make(map[string]domain.SubscriptionRecord)}
}

// Get returns the cached record for a user and whether one exists.
func (c *StatusCache) Get(userID string) (domain.SubscriptionRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[userID]
	return rec, ok
}

// Set stores a record, replacing any previous one for the same user.
func (c *StatusCache) Set(rec domain.SubscriptionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.UserID] = rec
}

// Has reports whether a record exists for the user.
func (c *StatusCache) Has(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.records[userID]
	return ok
}

// Warm bulk-loads records, used to restore state from the durable store on
// startup. Existing entries are overwritten.
func (c *StatusCache) Warm(records []domain.SubscriptionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range records {
		c.records[rec.UserID] = rec
	}
}

// Len returns the number of cached records.
func (c *StatusCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

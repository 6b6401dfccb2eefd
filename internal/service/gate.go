package service

import "sync"

// RequestGate serializes mutating reconciliation operations per user ID: a
// webhook apply, a forced refresh, and a cancellation for the same user never
// interleave. Operations on different users proceed fully in parallel.
//
// Lock entries are created on first use and retained for the process lifetime,
// the same cardinality policy as the status cache.
type RequestGate struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRequestGate() *RequestGate {
	return &RequestGate{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the user's lock is held and returns the release func.
// Callers must release on every exit path:
//
//	release := gate.Acquire(userID)
//	defer release()
func (g *RequestGate) Acquire(userID string) (release func()) {
	g.mu.Lock()
	l, ok := g.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[userID] = l
	}
	g.mu.Unlock()

	l.Lock()
	return l.Unlock
}

package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestGateSerializesSameUser(t *testing.T) {
	gate := NewRequestGate()

	const n = 100
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := gate.Acquire("user-1")
			defer release()
			// Unsynchronized increment; the gate is the only protection.
			counter++
		}()
	}
	wg.Wait()

	require.Equal(t, n, counter)
}

func TestRequestGateIndependentUsers(t *testing.T) {
	gate := NewRequestGate()

	releaseA := gate.Acquire("user-a")
	defer releaseA()

	// Holding user-a's lock must not block user-b.
	done := make(chan struct{})
	go func() {
		release := gate.Acquire("user-b")
		release()
		close(done)
	}()
	<-done
}

func TestRequestGateReacquireAfterRelease(t *testing.T) {
	gate := NewRequestGate()

	release := gate.Acquire("user-1")
	release()

	release = gate.Acquire("user-1")
	release()
}

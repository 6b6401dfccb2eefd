package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusSubscribed(t *testing.T) {
	subscribed := map[Status]bool{
		StatusUnknown:  false,
		StatusInactive: false,
		StatusActive:   true,
		StatusTrialing: true,
		StatusPastDue:  false,
		StatusCanceled: false,
	}
	for status, want := range subscribed {
		require.Equal(t, want, status.Subscribed(), "status %s", status)
	}
}

func TestStatusFromProvider(t *testing.T) {
	require.Equal(t, StatusActive, StatusFromProvider("active"))
	require.Equal(t, StatusTrialing, StatusFromProvider("trialing"))
	require.Equal(t, StatusActive, StatusFromProvider("  ACTIVE "))

	// Everything else the provider can report collapses to inactive.
	for _, raw := range []string{"past_due", "canceled", "unpaid", "incomplete", "paused", ""} {
		require.Equal(t, StatusInactive, StatusFromProvider(raw), "raw %q", raw)
	}
}

func TestRecordSubscribedDerivesFromStatus(t *testing.T) {
	rec := SubscriptionRecord{UserID: "user-1", Status: StatusTrialing}
	require.True(t, rec.Subscribed())

	rec.Status = StatusCanceled
	require.False(t, rec.Subscribed())
}

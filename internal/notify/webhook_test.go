package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookDeliversNotifications(t *testing.T) {
	var mu sync.Mutex
	var received []notification

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg notification
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 2)
	n.PickupArrival(context.Background(), 1, 10, 12.95, 77.57)
	n.TripCompletion(context.Background(), 1, 10)
	n.AdminAlert(context.Background(), 1, 10, "shift end")
	n.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 3)

	kinds := map[string]bool{}
	for _, msg := range received {
		kinds[msg.Kind] = true
		assert.Equal(t, int64(10), msg.TripID)
	}
	assert.True(t, kinds["pickup_arrival"])
	assert.True(t, kinds["trip_completion"])
	assert.True(t, kinds["admin_alert"])
}

func TestShutdownDuringFailedDeliveryDoesNotPanic(t *testing.T) {
	// Gateway that is already gone: every delivery fails and wants a retry.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	n := NewWebhookNotifier(srv.URL, 1)
	n.TripCompletion(context.Background(), 1, 10)

	done := make(chan struct{})
	go func() {
		n.Shutdown()
		close(done)
	}()

	// Shutdown must abandon the pending retry instead of re-enqueueing it
	// into a dead notifier or waiting out the backoff.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return while a delivery retry was pending")
	}

	// Notifications after shutdown are dropped, never sent.
	n.AdminAlert(context.Background(), 1, 10, "late")
	assert.Empty(t, n.queue)
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := newBreaker(3, 2, time.Hour, nil)

	for i := 0; i < 3; i++ {
		require.True(t, b.allow())
		b.record(false)
	}
	assert.False(t, b.allow(), "breaker must be open after tripAfter failures")
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b := newBreaker(3, 2, time.Hour, nil)

	b.record(false)
	b.record(false)
	b.record(true)
	b.record(false)
	b.record(false)
	assert.True(t, b.allow(), "streak was broken, breaker stays closed")
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := newBreaker(1, 2, 10*time.Millisecond, nil)

	b.record(false)
	require.False(t, b.allow())

	time.Sleep(20 * time.Millisecond)

	// Cooldown elapsed: probes are admitted, capped at maxProbes.
	assert.True(t, b.allow())
	assert.True(t, b.allow())
	assert.False(t, b.allow(), "probe budget exhausted")

	b.record(true)
	b.record(true)
	assert.Equal(t, breakerClosed, b.state)
	assert.True(t, b.allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newBreaker(1, 2, 10*time.Millisecond, nil)

	b.record(false)
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.allow())

	b.record(false)
	assert.False(t, b.allow(), "failed probe reopens immediately")
}

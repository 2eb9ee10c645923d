package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsight/backend/internal/core"
)

func seedTrip(t *testing.T, m *Memory) core.Trip {
	t.Helper()
	ctx := context.Background()
	v, err := m.CreateVehicle(ctx, core.Vehicle{RegistrationNumber: "KA01AB1234"})
	require.NoError(t, err)
	trip, err := m.CreateTrip(ctx, core.Trip{VehicleID: v.ID, Status: core.TripInProgress})
	require.NoError(t, err)
	return trip
}

func TestRollbackDiscardsBufferedWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	trip := seedTrip(t, m)

	tx, err := m.Begin(ctx)
	require.NoError(t, err)

	locked, err := tx.LoadTripForUpdate(ctx, trip.ID)
	require.NoError(t, err)

	require.NoError(t, tx.AppendLocation(ctx, core.LocationLog{
		TripID: trip.ID, VehicleID: trip.VehicleID, Timestamp: time.Now(),
	}))
	require.NoError(t, tx.SaveEvent(ctx, core.EventLog{
		TripID: trip.ID, VehicleID: trip.VehicleID,
		EventType: core.EventOfficeReached, EventTimestamp: time.Now(),
	}))
	locked.TotalDistanceKm = 99
	require.NoError(t, tx.SaveTrip(ctx, locked))

	require.NoError(t, tx.Rollback())

	// Nothing from the abandoned transaction is visible.
	locations, err := m.LocationsChronological(ctx)
	require.NoError(t, err)
	assert.Empty(t, locations)

	events, err := m.EventsByTrip(ctx, trip.ID)
	require.NoError(t, err)
	assert.Empty(t, events)

	fresh, err := m.Trip(ctx, trip.ID)
	require.NoError(t, err)
	assert.Zero(t, fresh.TotalDistanceKm)
}

func TestWritesInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	trip := seedTrip(t, m)

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.LoadTripForUpdate(ctx, trip.ID)
	require.NoError(t, err)

	require.NoError(t, tx.AppendLocation(ctx, core.LocationLog{
		TripID: trip.ID, VehicleID: trip.VehicleID, Timestamp: time.Now(),
	}))

	midway, err := m.LocationsChronological(ctx)
	require.NoError(t, err)
	assert.Empty(t, midway, "buffered write leaked before commit")

	require.NoError(t, tx.Commit())

	after, err := m.LocationsChronological(ctx)
	require.NoError(t, err)
	assert.Len(t, after, 1)
}

func TestSaveTripUnknownIDFailsBeforeCommit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedTrip(t, m)

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	err = tx.SaveTrip(ctx, &core.Trip{ID: 999})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTripLockSerializesTransactions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	trip := seedTrip(t, m)

	tx1, err := m.Begin(ctx)
	require.NoError(t, err)
	_, err = tx1.LoadTripForUpdate(ctx, trip.ID)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		tx2, err := m.Begin(ctx)
		require.NoError(t, err)
		_, err = tx2.LoadTripForUpdate(ctx, trip.ID)
		require.NoError(t, err)
		require.NoError(t, tx2.Commit())
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second transaction acquired the row lock before the first committed")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tx1.Commit())

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("row lock was not released on commit")
	}
}

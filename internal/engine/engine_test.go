package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsight/backend/internal/core"
)

const (
	officeLat = 12.9716
	officeLon = 77.5946
	pickupLat = 12.9520
	pickupLon = 77.5750
	awayLat   = 12.9000
	awayLon   = 77.5000
)

type stubEvents struct {
	officeReached bool
	err           error
}

func (s *stubEvents) ExistsEvent(ctx context.Context, tripID int64, eventType core.EventType) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if eventType == core.EventOfficeReached {
		return s.officeReached, nil
	}
	return false, nil
}

func defaultConfig() Config {
	return Config{DwellTimeSeconds: 30, SpeedThresholdKmh: 5.0}
}

func officeGeofences() []core.OfficeGeofence {
	return []core.OfficeGeofence{{
		ID: 1, Name: "Bangalore HQ",
		Latitude: officeLat, Longitude: officeLon,
		RadiusMeters: 100, Shape: core.ShapeCircular,
	}}
}

func inProgressTrip(start time.Time) *core.Trip {
	return &core.Trip{ID: 10, VehicleID: 1, Status: core.TripInProgress, StartTime: &start}
}

func ping(lat, lon, speed float64, ts time.Time) core.Ping {
	return core.Ping{VehicleID: 1, TripID: 10, Latitude: lat, Longitude: lon, Speed: speed, Timestamp: ts}
}

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, len(effects))
	for i, e := range effects {
		out[i] = e.Kind
	}
	return out
}

func eventTypes(effects []Effect) []core.EventType {
	var out []core.EventType
	for _, e := range effects {
		if e.Kind == EffectEmitEvent {
			out = append(out, e.EventType)
		}
	}
	return out
}

func TestPickupArrivalEmitsFullEffectSet(t *testing.T) {
	now := time.Now()
	trip := inProgressTrip(now.Add(-10 * time.Minute))
	pickups := []core.PickupPoint{
		{ID: 1, TripID: 10, Latitude: pickupLat, Longitude: pickupLon, RadiusMeters: 50, Status: core.PickupPending},
	}

	effects, err := Evaluate(context.Background(), trip, ping(pickupLat, pickupLon, 20, now),
		pickups, officeGeofences(), defaultConfig(), now, &stubEvents{})
	require.NoError(t, err)

	assert.Equal(t, []EffectKind{
		EffectMarkPickupArrived, EffectEmitEvent, EffectNotifyPickup, EffectPublishGeofence,
	}, kinds(effects))
	assert.Equal(t, int64(1), effects[0].PickupID)
	assert.Equal(t, core.EventPickupArrived, effects[1].EventType)
}

func TestArrivedPickupIsIdempotent(t *testing.T) {
	now := time.Now()
	trip := inProgressTrip(now.Add(-10 * time.Minute))
	pickups := []core.PickupPoint{
		{ID: 1, TripID: 10, Latitude: pickupLat, Longitude: pickupLon, RadiusMeters: 50, Status: core.PickupArrived},
	}

	effects, err := Evaluate(context.Background(), trip, ping(pickupLat, pickupLon, 20, now),
		pickups, officeGeofences(), defaultConfig(), now, &stubEvents{})
	require.NoError(t, err)
	assert.Empty(t, effects)
}

func TestPickupEffectsComeInPickupIDOrder(t *testing.T) {
	now := time.Now()
	trip := inProgressTrip(now.Add(-10 * time.Minute))
	// Overlapping pickups, supplied out of order.
	pickups := []core.PickupPoint{
		{ID: 5, TripID: 10, Latitude: pickupLat, Longitude: pickupLon, RadiusMeters: 80, Status: core.PickupPending},
		{ID: 2, TripID: 10, Latitude: pickupLat, Longitude: pickupLon, RadiusMeters: 60, Status: core.PickupPending},
	}

	effects, err := Evaluate(context.Background(), trip, ping(pickupLat, pickupLon, 20, now),
		pickups, officeGeofences(), defaultConfig(), now, &stubEvents{})
	require.NoError(t, err)

	require.Len(t, effects, 8)
	assert.Equal(t, int64(2), effects[0].PickupID)
	assert.Equal(t, int64(5), effects[4].PickupID)
}

func TestFirstOfficePingAnchorsDwell(t *testing.T) {
	now := time.Now()
	trip := inProgressTrip(now.Add(-10 * time.Minute))

	effects, err := Evaluate(context.Background(), trip, ping(officeLat, officeLon, 2, now),
		nil, officeGeofences(), defaultConfig(), now, &stubEvents{})
	require.NoError(t, err)

	require.Len(t, effects, 1)
	assert.Equal(t, EffectSetOfficeEntry, effects[0].Kind)
	require.NotNil(t, effects[0].EntryTime)
	assert.Equal(t, now, *effects[0].EntryTime)
}

func TestDwellBoundary(t *testing.T) {
	start := time.Now().Add(-10 * time.Minute)

	cases := []struct {
		name       string
		dwell      time.Duration
		wantsClose bool
	}{
		{"one second short", 29 * time.Second, false},
		{"exactly at threshold", 30 * time.Second, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now := time.Now()
			entry := now.Add(-tc.dwell)
			trip := inProgressTrip(start)
			trip.OfficeEntryTime = &entry

			effects, err := Evaluate(context.Background(), trip, ping(officeLat, officeLon, 2, now),
				nil, officeGeofences(), defaultConfig(), now, &stubEvents{})
			require.NoError(t, err)

			if tc.wantsClose {
				assert.Equal(t, []core.EventType{core.EventOfficeReached, core.EventTripCompleted}, eventTypes(effects))
			} else {
				assert.Empty(t, effects)
			}
		})
	}
}

func TestDriveThroughSpeedGate(t *testing.T) {
	start := time.Now().Add(-10 * time.Minute)

	cases := []struct {
		name       string
		speed      float64
		wantsClose bool
	}{
		{"below threshold closes", 4.9, true},
		{"at threshold does not close", 5.0, false},
		{"above threshold does not close", 40, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now := time.Now()
			entry := now.Add(-60 * time.Second)
			trip := inProgressTrip(start)
			trip.OfficeEntryTime = &entry

			effects, err := Evaluate(context.Background(), trip, ping(officeLat, officeLon, tc.speed, now),
				nil, officeGeofences(), defaultConfig(), now, &stubEvents{})
			require.NoError(t, err)

			if tc.wantsClose {
				assert.Contains(t, eventTypes(effects), core.EventOfficeReached)
			} else {
				assert.Empty(t, effects)
			}
		})
	}
}

func TestDriftResetClearsAnchorAndEmitsExit(t *testing.T) {
	now := time.Now()
	entry := now.Add(-20 * time.Second)
	trip := inProgressTrip(now.Add(-10 * time.Minute))
	trip.OfficeEntryTime = &entry

	effects, err := Evaluate(context.Background(), trip, ping(awayLat, awayLon, 2, now),
		nil, officeGeofences(), defaultConfig(), now, &stubEvents{})
	require.NoError(t, err)

	require.Len(t, effects, 2)
	assert.Equal(t, EffectSetOfficeEntry, effects[0].Kind)
	assert.Nil(t, effects[0].EntryTime)
	assert.Equal(t, core.EventGeofenceExit, effects[1].EventType)
}

func TestOutsideWithoutAnchorIsANoop(t *testing.T) {
	now := time.Now()
	trip := inProgressTrip(now.Add(-10 * time.Minute))

	effects, err := Evaluate(context.Background(), trip, ping(awayLat, awayLon, 20, now),
		nil, officeGeofences(), defaultConfig(), now, &stubEvents{})
	require.NoError(t, err)
	assert.Empty(t, effects)
}

func TestCompletedTripIgnoresOfficePings(t *testing.T) {
	now := time.Now()
	start := now.Add(-time.Hour)
	trip := &core.Trip{ID: 10, VehicleID: 1, Status: core.TripCompleted, StartTime: &start}

	effects, err := Evaluate(context.Background(), trip, ping(officeLat, officeLon, 2, now),
		nil, officeGeofences(), defaultConfig(), now, &stubEvents{})
	require.NoError(t, err)
	assert.Empty(t, effects)
}

func TestMultiStopGateBlocksClosure(t *testing.T) {
	now := time.Now()
	entry := now.Add(-60 * time.Second)
	trip := inProgressTrip(now.Add(-10 * time.Minute))
	trip.OfficeEntryTime = &entry
	pickups := []core.PickupPoint{
		{ID: 1, TripID: 10, Latitude: pickupLat, Longitude: pickupLon, RadiusMeters: 50, Status: core.PickupArrived},
		{ID: 2, TripID: 10, Latitude: 12.9780, Longitude: 77.6450, RadiusMeters: 50, Status: core.PickupPending},
	}

	effects, err := Evaluate(context.Background(), trip, ping(officeLat, officeLon, 2, now),
		pickups, officeGeofences(), defaultConfig(), now, &stubEvents{})
	require.NoError(t, err)

	assert.Equal(t, []core.EventType{core.EventClosureBlockedPendingPickups}, eventTypes(effects))
}

func TestMinDurationGateBlocksEarlyClosure(t *testing.T) {
	now := time.Now()
	entry := now.Add(-60 * time.Second)
	trip := inProgressTrip(now.Add(-5 * time.Minute))
	trip.OfficeEntryTime = &entry

	cfg := defaultConfig()
	cfg.MinTripDurationMinutes = 15

	effects, err := Evaluate(context.Background(), trip, ping(officeLat, officeLon, 2, now),
		nil, officeGeofences(), cfg, now, &stubEvents{})
	require.NoError(t, err)

	assert.Equal(t, []core.EventType{core.EventClosureBlockedMinDuration}, eventTypes(effects))
}

func TestExistsEventGuardSuppressesSecondClosure(t *testing.T) {
	now := time.Now()
	entry := now.Add(-60 * time.Second)
	trip := inProgressTrip(now.Add(-10 * time.Minute))
	trip.OfficeEntryTime = &entry

	effects, err := Evaluate(context.Background(), trip, ping(officeLat, officeLon, 2, now),
		nil, officeGeofences(), defaultConfig(), now, &stubEvents{officeReached: true})
	require.NoError(t, err)
	assert.Empty(t, effects)
}

func TestCloseEmitsOrderedEffectsWithDuration(t *testing.T) {
	now := time.Now()
	entry := now.Add(-45 * time.Second)
	start := now.Add(-42 * time.Minute)
	trip := inProgressTrip(start)
	trip.OfficeEntryTime = &entry

	effects, err := Evaluate(context.Background(), trip, ping(officeLat, officeLon, 1, now),
		nil, officeGeofences(), defaultConfig(), now, &stubEvents{})
	require.NoError(t, err)

	assert.Equal(t, []EffectKind{
		EffectEmitEvent, EffectCompleteTrip, EffectEmitEvent,
		EffectNotifyCompletion, EffectPublishGeofence,
	}, kinds(effects))
	assert.Equal(t, core.EventOfficeReached, effects[0].EventType)
	assert.Equal(t, 42, effects[1].DurationMinutes)
	assert.Equal(t, now, effects[1].EndTime)
	assert.Equal(t, core.EventTripCompleted, effects[2].EventType)
}

func TestPolygonGeofenceClosesTrip(t *testing.T) {
	now := time.Now()
	entry := now.Add(-60 * time.Second)
	trip := inProgressTrip(now.Add(-10 * time.Minute))
	trip.OfficeEntryTime = &entry

	geofences := []core.OfficeGeofence{{
		ID: 2, Name: "Campus", Shape: core.ShapePolygon,
		Polygon: []core.LatLon{
			{Lat: 12.9700, Lon: 77.5930},
			{Lat: 12.9700, Lon: 77.5960},
			{Lat: 12.9730, Lon: 77.5960},
			{Lat: 12.9730, Lon: 77.5930},
		},
	}}

	effects, err := Evaluate(context.Background(), trip, ping(officeLat, officeLon, 2, now),
		nil, geofences, defaultConfig(), now, &stubEvents{})
	require.NoError(t, err)
	assert.Contains(t, eventTypes(effects), core.EventOfficeReached)
}

func TestDriftScenarioEmitsSingleExit(t *testing.T) {
	// inside (anchors) -> outside (drift reset) -> inside (fresh anchor)
	t0 := time.Now()
	trip := inProgressTrip(t0.Add(-10 * time.Minute))
	cfg := defaultConfig()
	events := &stubEvents{}

	effects, err := Evaluate(context.Background(), trip, ping(officeLat, officeLon, 2, t0.Add(10*time.Second)),
		nil, officeGeofences(), cfg, t0.Add(10*time.Second), events)
	require.NoError(t, err)
	require.Len(t, effects, 1)
	trip.OfficeEntryTime = effects[0].EntryTime

	effects, err = Evaluate(context.Background(), trip, ping(12.9800, 77.6050, 2, t0.Add(20*time.Second)),
		nil, officeGeofences(), cfg, t0.Add(20*time.Second), events)
	require.NoError(t, err)
	assert.Equal(t, []core.EventType{core.EventGeofenceExit}, eventTypes(effects))
	trip.OfficeEntryTime = nil

	effects, err = Evaluate(context.Background(), trip, ping(officeLat, officeLon, 2, t0.Add(50*time.Second)),
		nil, officeGeofences(), cfg, t0.Add(50*time.Second), events)
	require.NoError(t, err)
	require.Len(t, effects, 1)
	assert.Equal(t, EffectSetOfficeEntry, effects[0].Kind)
	assert.NotNil(t, effects[0].EntryTime)
}

func TestManualCloseInsideGeofence(t *testing.T) {
	now := time.Now()
	start := now.Add(-30 * time.Minute)
	trip := inProgressTrip(start)

	effects := ManualClose(trip, officeLat, officeLon, officeGeofences(), now)

	assert.Equal(t, []core.EventType{core.EventManualClosure}, eventTypes(effects))
	last := effects[len(effects)-1]
	assert.Equal(t, EffectCompleteTrip, last.Kind)
	assert.Equal(t, 30, last.DurationMinutes)
}

func TestManualCloseOutsideGeofence(t *testing.T) {
	now := time.Now()
	trip := inProgressTrip(now.Add(-30 * time.Minute))

	effects := ManualClose(trip, awayLat, awayLon, officeGeofences(), now)

	assert.Equal(t, []core.EventType{
		core.EventManualClosureOutsideGeofence,
		core.EventAdminAlert,
	}, eventTypes(effects))
	assert.Equal(t, EffectCompleteTrip, effects[len(effects)-1].Kind)
}

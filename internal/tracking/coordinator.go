// Package tracking is the write side of the system: the coordinator applies
// one ping transactionally, the dispatcher fans pings in from the HTTP
// layer, and the admin service owns the lifecycle operations.
package tracking

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fleetsight/backend/internal/bus"
	"github.com/fleetsight/backend/internal/core"
	"github.com/fleetsight/backend/internal/engine"
	"github.com/fleetsight/backend/internal/geo"
	"github.com/fleetsight/backend/internal/metrics"
	"github.com/fleetsight/backend/internal/notify"
	"github.com/fleetsight/backend/internal/staticdata"
	"github.com/fleetsight/backend/internal/store"
)

// Coordinator processes one ping at a time per trip. The store transaction
// plus the row lock from LoadTripForUpdate is the serialization point; every
// engine effect is applied inside that transaction, and notifier and bus
// work happens only after commit.
type Coordinator struct {
	store    store.Store
	static   *staticdata.Provider
	notifier notify.Notifier
	bus      bus.Bus
	cfg      engine.Config
	metrics  *metrics.Metrics
	logger   *log.Logger
}

func NewCoordinator(st store.Store, static *staticdata.Provider, notifier notify.Notifier, b bus.Bus, cfg engine.Config, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		store:    st,
		static:   static,
		notifier: notifier,
		bus:      b,
		cfg:      cfg,
		metrics:  m,
		logger:   log.New(log.Writer(), "[TRACKING] ", log.LstdFlags),
	}
}

// deferredEffect is notifier/bus work held until after commit.
type deferredEffect struct {
	kind      engine.EffectKind
	eventType core.EventType
	lat, lon  float64
}

// Process runs one ping through the full transactional pipeline.
func (c *Coordinator) Process(ctx context.Context, ping core.Ping) error {
	started := time.Now()
	defer func() {
		c.metrics.ProcessingDuration.Observe(time.Since(started).Seconds())
	}()

	// Previous location is read before the lock; distance accumulation only
	// ever adds, so a stale read cannot make the total decrease.
	prev, err := c.store.LatestLocation(ctx, ping.TripID)
	if err != nil {
		return fmt.Errorf("load latest location: %w", err)
	}

	geofences, err := c.static.Geofences(ctx)
	if err != nil {
		return err
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	trip, err := tx.LoadTripForUpdate(ctx, ping.TripID)
	if err != nil {
		return fmt.Errorf("load trip %d: %w", ping.TripID, err)
	}

	if err := tx.AppendLocation(ctx, core.LocationLog{
		VehicleID: ping.VehicleID,
		TripID:    ping.TripID,
		Latitude:  ping.Latitude,
		Longitude: ping.Longitude,
		Speed:     ping.Speed,
		Timestamp: ping.Timestamp,
	}); err != nil {
		return fmt.Errorf("append location: %w", err)
	}

	if prev != nil {
		trip.TotalDistanceKm += geo.DistanceMeters(prev.Latitude, prev.Longitude, ping.Latitude, ping.Longitude) / 1000.0
	}

	pickups, err := c.store.PickupsForTrip(ctx, ping.TripID)
	if err != nil {
		return fmt.Errorf("load pickups: %w", err)
	}

	// Server clock captured once; it stamps the dwell anchor and every
	// event emitted for this ping.
	now := time.Now()
	effects, err := engine.Evaluate(ctx, trip, ping, pickups, geofences, c.cfg, now, tx)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	deferred, err := c.apply(ctx, tx, trip, pickups, effects, now)
	if err != nil {
		return err
	}

	if err := tx.SaveTrip(ctx, trip); err != nil {
		return fmt.Errorf("save trip: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	c.afterCommit(ctx, trip, ping, deferred)
	return nil
}

// apply executes the effect list in order inside the transaction. Returns
// the notifier/bus effects to run after commit.
func (c *Coordinator) apply(ctx context.Context, tx store.Tx, trip *core.Trip, pickups []core.PickupPoint, effects []engine.Effect, now time.Time) ([]deferredEffect, error) {
	var deferred []deferredEffect

	for _, e := range effects {
		switch e.Kind {
		case engine.EffectMarkPickupArrived:
			for i := range pickups {
				if pickups[i].ID != e.PickupID {
					continue
				}
				pickups[i].Status = core.PickupArrived
				if err := tx.SavePickup(ctx, pickups[i]); err != nil {
					return nil, fmt.Errorf("save pickup %d: %w", e.PickupID, err)
				}
			}

		case engine.EffectEmitEvent:
			c.saveEvent(ctx, tx, trip, e, now)

		case engine.EffectSetOfficeEntry:
			trip.OfficeEntryTime = e.EntryTime

		case engine.EffectCompleteTrip:
			trip.Status = core.TripCompleted
			end := e.EndTime
			duration := e.DurationMinutes
			trip.EndTime = &end
			trip.DurationMinutes = &duration
			trip.OfficeEntryTime = nil

		case engine.EffectNotifyPickup, engine.EffectNotifyCompletion, engine.EffectPublishGeofence:
			deferred = append(deferred, deferredEffect{kind: e.Kind, eventType: e.EventType, lat: e.Lat, lon: e.Lon})
		}
	}
	return deferred, nil
}

// saveEvent writes one audit row. Failures are logged and swallowed: the
// audit trail is best-effort and must never roll back the trip mutation.
func (c *Coordinator) saveEvent(ctx context.Context, tx store.Tx, trip *core.Trip, e engine.Effect, now time.Time) {
	err := tx.SaveEvent(ctx, core.EventLog{
		VehicleID:      trip.VehicleID,
		TripID:         trip.ID,
		EventType:      e.EventType,
		Latitude:       e.Lat,
		Longitude:      e.Lon,
		EventTimestamp: now,
	})
	if err != nil {
		c.metrics.AuditWriteFailures.Inc()
		c.logger.Printf("⚠️  Audit write failed for %s on trip %d: %v", e.EventType, trip.ID, err)
		return
	}
	c.metrics.RecordEvent(string(e.EventType))
}

// afterCommit runs the side effects that must not hold the transaction
// open: rider/admin notifications and live-dashboard publishes.
func (c *Coordinator) afterCommit(ctx context.Context, trip *core.Trip, ping core.Ping, deferred []deferredEffect) {
	reg := c.vehicleReg(ctx, trip.VehicleID)

	for _, d := range deferred {
		switch d.kind {
		case engine.EffectNotifyPickup:
			c.notifier.PickupArrival(ctx, trip.VehicleID, trip.ID, d.lat, d.lon)
		case engine.EffectNotifyCompletion:
			c.notifier.TripCompletion(ctx, trip.VehicleID, trip.ID)
		case engine.EffectPublishGeofence:
			c.publishGeofence(ctx, trip, reg, string(d.eventType), d.lat, d.lon)
		}
	}

	if err := c.bus.Publish(ctx, bus.TopicLocationUpdates, bus.LocationUpdate{
		VehicleID:       trip.VehicleID,
		TripID:          trip.ID,
		VehicleReg:      reg,
		Latitude:        ping.Latitude,
		Longitude:       ping.Longitude,
		Speed:           ping.Speed,
		Timestamp:       ping.Timestamp,
		TripStatus:      string(trip.Status),
		TotalDistanceKm: trip.TotalDistanceKm,
	}); err != nil {
		c.logger.Printf("⚠️  Failed to publish location update: %v", err)
	}
}

func (c *Coordinator) publishGeofence(ctx context.Context, trip *core.Trip, reg, eventType string, lat, lon float64) {
	if err := c.bus.Publish(ctx, bus.TopicGeofenceEvents, bus.GeofenceEvent{
		EventType:  eventType,
		VehicleID:  trip.VehicleID,
		TripID:     trip.ID,
		VehicleReg: reg,
		Latitude:   lat,
		Longitude:  lon,
		Timestamp:  time.Now(),
	}); err != nil {
		c.logger.Printf("⚠️  Failed to publish %s: %v", eventType, err)
	}
}

func (c *Coordinator) vehicleReg(ctx context.Context, vehicleID int64) string {
	return lookupVehicleReg(ctx, c.static, vehicleID)
}

// lookupVehicleReg resolves the registration from the static cache;
// best-effort, an empty string is acceptable in the live feed.
func lookupVehicleReg(ctx context.Context, static *staticdata.Provider, vehicleID int64) string {
	vehicles, err := static.Vehicles(ctx)
	if err != nil {
		return ""
	}
	for _, v := range vehicles {
		if v.ID == vehicleID {
			return v.RegistrationNumber
		}
	}
	return ""
}

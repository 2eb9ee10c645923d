package tracking

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fleetsight/backend/internal/bus"
	"github.com/fleetsight/backend/internal/core"
	"github.com/fleetsight/backend/internal/engine"
	"github.com/fleetsight/backend/internal/metrics"
	"github.com/fleetsight/backend/internal/notify"
	"github.com/fleetsight/backend/internal/staticdata"
	"github.com/fleetsight/backend/internal/store"
)

// Lifecycle notifications published on the geofence-events topic. They are
// not audit event kinds; they only feed the live dashboard.
const (
	tripStartedNotification = "TRIP_STARTED"
	tripResetNotification   = "TRIP_RESET"
)

// Admin owns the operator surface: geofence CRUD, trip start, manual
// closure and the full reset.
type Admin struct {
	store    store.Store
	static   *staticdata.Provider
	notifier notify.Notifier
	bus      bus.Bus
	metrics  *metrics.Metrics
	logger   *log.Logger
}

func NewAdmin(st store.Store, static *staticdata.Provider, notifier notify.Notifier, b bus.Bus, m *metrics.Metrics) *Admin {
	return &Admin{
		store:    st,
		static:   static,
		notifier: notifier,
		bus:      b,
		metrics:  m,
		logger:   log.New(log.Writer(), "[ADMIN] ", log.LstdFlags),
	}
}

func validateGeofence(gf core.OfficeGeofence) error {
	if gf.Shape == core.ShapePolygon {
		if len(gf.Polygon) < 3 {
			return fmt.Errorf("%w: polygon needs at least 3 vertices, got %d", core.ErrValidation, len(gf.Polygon))
		}
		return nil
	}
	if gf.RadiusMeters <= 0 {
		return fmt.Errorf("%w: radius must be positive", core.ErrValidation)
	}
	return nil
}

// CreateGeofence validates and persists a new office geofence and evicts
// the geofence cache.
func (a *Admin) CreateGeofence(ctx context.Context, gf core.OfficeGeofence) (core.OfficeGeofence, error) {
	if err := validateGeofence(gf); err != nil {
		return core.OfficeGeofence{}, err
	}
	created, err := a.store.CreateGeofence(ctx, gf)
	if err != nil {
		return core.OfficeGeofence{}, err
	}
	a.static.EvictGeofences()
	return created, nil
}

// UpdateGeofence validates and replaces an existing geofence.
func (a *Admin) UpdateGeofence(ctx context.Context, gf core.OfficeGeofence) error {
	if err := validateGeofence(gf); err != nil {
		return err
	}
	if err := a.store.UpdateGeofence(ctx, gf); err != nil {
		return err
	}
	a.static.EvictGeofences()
	return nil
}

// DeleteGeofence removes a geofence.
func (a *Admin) DeleteGeofence(ctx context.Context, id int64) error {
	if err := a.store.DeleteGeofence(ctx, id); err != nil {
		return err
	}
	a.static.EvictGeofences()
	return nil
}

// StartTrip moves a PENDING trip to IN_PROGRESS, stamps the start time and
// clears all derived fields from any earlier run.
func (a *Admin) StartTrip(ctx context.Context, tripID int64) (*core.Trip, error) {
	tx, err := a.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	trip, err := tx.LoadTripForUpdate(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status == core.TripCompleted {
		return nil, fmt.Errorf("%w: trip %d is completed", core.ErrAlreadyTerminal, tripID)
	}
	if !trip.Status.CanTransitionTo(core.TripInProgress) {
		return nil, fmt.Errorf("%w: trip %d is %s", core.ErrValidation, tripID, trip.Status)
	}

	now := time.Now()
	trip.Status = core.TripInProgress
	trip.StartTime = &now
	trip.EndTime = nil
	trip.DurationMinutes = nil
	trip.OfficeEntryTime = nil

	if err := tx.SaveTrip(ctx, trip); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	a.publishLifecycle(ctx, trip, tripStartedNotification)
	a.logger.Printf("🚦 Trip %d started for vehicle %d", trip.ID, trip.VehicleID)
	return trip, nil
}

// ManualClose force-completes an IN_PROGRESS trip at the operator's
// coordinates. Outside any office geofence it also raises an admin alert.
func (a *Admin) ManualClose(ctx context.Context, tripID int64, lat, lon float64, reason string) (*core.Trip, error) {
	geofences, err := a.static.Geofences(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := a.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	trip, err := tx.LoadTripForUpdate(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status == core.TripCompleted {
		return nil, fmt.Errorf("%w: trip %d is already completed", core.ErrAlreadyTerminal, tripID)
	}
	if trip.Status != core.TripInProgress {
		return nil, fmt.Errorf("%w: trip %d is %s, not IN_PROGRESS", core.ErrValidation, tripID, trip.Status)
	}

	now := time.Now()
	effects := engine.ManualClose(trip, lat, lon, geofences, now)

	alerted := false
	var published []engine.Effect
	for _, e := range effects {
		switch e.Kind {
		case engine.EffectEmitEvent:
			a.saveEvent(ctx, tx, trip, e, now)
			published = append(published, e)
			if e.EventType == core.EventAdminAlert {
				alerted = true
			}
		case engine.EffectCompleteTrip:
			trip.Status = core.TripCompleted
			end := e.EndTime
			duration := e.DurationMinutes
			trip.EndTime = &end
			trip.DurationMinutes = &duration
			trip.OfficeEntryTime = nil
		}
	}

	if err := tx.SaveTrip(ctx, trip); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if alerted {
		a.notifier.AdminAlert(ctx, trip.VehicleID, trip.ID, reason)
	}
	reg := lookupVehicleReg(ctx, a.static, trip.VehicleID)
	for _, e := range published {
		a.publishGeofence(ctx, trip, reg, string(e.EventType), e.Lat, e.Lon)
	}
	return trip, nil
}

// ResetAll wipes every trip back to PENDING: location and event history
// deleted, pickups back to PENDING, caches evicted. Each trip resets in its
// own transaction so a failure on one trip leaves the others reset.
func (a *Admin) ResetAll(ctx context.Context) error {
	trips, err := a.store.Trips(ctx)
	if err != nil {
		return err
	}

	for _, t := range trips {
		if err := a.resetTrip(ctx, t.ID); err != nil {
			return fmt.Errorf("reset trip %d: %w", t.ID, err)
		}
	}

	a.static.EvictAll()
	a.logger.Printf("🧹 Reset complete: %d trips back to PENDING", len(trips))
	return nil
}

func (a *Admin) resetTrip(ctx context.Context, tripID int64) error {
	tx, err := a.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	trip, err := tx.LoadTripForUpdate(ctx, tripID)
	if err != nil {
		return err
	}

	if err := tx.DeleteLocations(ctx, tripID); err != nil {
		return err
	}
	if err := tx.DeleteEvents(ctx, tripID); err != nil {
		return err
	}

	pickups, err := a.store.PickupsForTrip(ctx, tripID)
	if err != nil {
		return err
	}
	for _, p := range pickups {
		p.Status = core.PickupPending
		if err := tx.SavePickup(ctx, p); err != nil {
			return err
		}
	}

	trip.Status = core.TripPending
	trip.StartTime = nil
	trip.EndTime = nil
	trip.DurationMinutes = nil
	trip.OfficeEntryTime = nil
	trip.TotalDistanceKm = 0

	if err := tx.SaveTrip(ctx, trip); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	a.publishLifecycle(ctx, trip, tripResetNotification)
	return nil
}

// saveEvent mirrors the coordinator's best-effort audit policy.
func (a *Admin) saveEvent(ctx context.Context, tx store.Tx, trip *core.Trip, e engine.Effect, now time.Time) {
	err := tx.SaveEvent(ctx, core.EventLog{
		VehicleID:      trip.VehicleID,
		TripID:         trip.ID,
		EventType:      e.EventType,
		Latitude:       e.Lat,
		Longitude:      e.Lon,
		EventTimestamp: now,
	})
	if err != nil {
		a.metrics.AuditWriteFailures.Inc()
		a.logger.Printf("⚠️  Audit write failed for %s on trip %d: %v", e.EventType, trip.ID, err)
		return
	}
	a.metrics.RecordEvent(string(e.EventType))
}

func (a *Admin) publishLifecycle(ctx context.Context, trip *core.Trip, kind string) {
	reg := lookupVehicleReg(ctx, a.static, trip.VehicleID)
	a.publishGeofence(ctx, trip, reg, kind, 0, 0)
}

func (a *Admin) publishGeofence(ctx context.Context, trip *core.Trip, reg, eventType string, lat, lon float64) {
	if err := a.bus.Publish(ctx, bus.TopicGeofenceEvents, bus.GeofenceEvent{
		EventType:  eventType,
		VehicleID:  trip.VehicleID,
		TripID:     trip.ID,
		VehicleReg: reg,
		Latitude:   lat,
		Longitude:  lon,
		Timestamp:  time.Now(),
	}); err != nil {
		a.logger.Printf("⚠️  Failed to publish %s: %v", eventType, err)
	}
}

// Package store defines durable persistence for trips, pickups, geofences,
// location logs and audit events. The Postgres implementation is the
// production store; the in-memory implementation backs tests and local runs
// without a database.
package store

import (
	"context"
	"time"

	"github.com/fleetsight/backend/internal/core"
)

// Store is the full persistence surface. All write paths that mutate a trip
// go through a Tx so the row lock taken by LoadTripForUpdate serializes
// concurrent pings for the same trip.
type Store interface {
	Reader

	// Begin opens a transaction. The caller must Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)

	// Geofence CRUD (admin surface).
	CreateGeofence(ctx context.Context, gf core.OfficeGeofence) (core.OfficeGeofence, error)
	UpdateGeofence(ctx context.Context, gf core.OfficeGeofence) error
	DeleteGeofence(ctx context.Context, id int64) error

	// Fixture inserts, used by the seed loader.
	CreateVehicle(ctx context.Context, v core.Vehicle) (core.Vehicle, error)
	CreateDriver(ctx context.Context, d core.Driver) (core.Driver, error)
	CreateTrip(ctx context.Context, t core.Trip) (core.Trip, error)
	CreatePickup(ctx context.Context, p core.PickupPoint) (core.PickupPoint, error)
	CountVehicles(ctx context.Context) (int, error)
}

// Reader is the lock-free read surface shared by the dashboard, the audit
// query service and the static-data cache.
type Reader interface {
	Trip(ctx context.Context, id int64) (*core.Trip, error)
	Trips(ctx context.Context) ([]core.Trip, error)
	Vehicles(ctx context.Context) ([]core.Vehicle, error)
	DriverByVehicle(ctx context.Context, vehicleID int64) (*core.Driver, error)

	Geofences(ctx context.Context) ([]core.OfficeGeofence, error)
	GeofenceByID(ctx context.Context, id int64) (*core.OfficeGeofence, error)

	PickupsForTrip(ctx context.Context, tripID int64) ([]core.PickupPoint, error)
	Pickups(ctx context.Context) ([]core.PickupPoint, error)

	// LatestLocation returns the most recent log for a trip by device
	// timestamp, or nil when the trip has no pings yet.
	LatestLocation(ctx context.Context, tripID int64) (*core.LocationLog, error)
	LocationsChronological(ctx context.Context) ([]core.LocationLog, error)

	EventsByTrip(ctx context.Context, tripID int64) ([]core.EventLog, error)
	EventsByVehicle(ctx context.Context, vehicleID int64) ([]core.EventLog, error)
	EventsByTimeRange(ctx context.Context, from, to time.Time) ([]core.EventLog, error)
	EventsNewestFirst(ctx context.Context) ([]core.EventLog, error)
	ExistsEvent(ctx context.Context, tripID int64, kind core.EventType) (bool, error)
}

// Tx is a transaction scoped to at most one trip's mutation.
//
// LoadTripForUpdate is the serialization point: it holds an exclusive
// row-level lock on the trip until Commit or Rollback. SaveEvent stamps
// CreatedAt at insert and never updates existing rows.
type Tx interface {
	LoadTripForUpdate(ctx context.Context, tripID int64) (*core.Trip, error)
	SaveTrip(ctx context.Context, t *core.Trip) error
	AppendLocation(ctx context.Context, l core.LocationLog) error
	SavePickup(ctx context.Context, p core.PickupPoint) error
	SaveEvent(ctx context.Context, e core.EventLog) error
	ExistsEvent(ctx context.Context, tripID int64, kind core.EventType) (bool, error)

	// Reset support: removes a trip's owned history (admin reset only).
	DeleteLocations(ctx context.Context, tripID int64) error
	DeleteEvents(ctx context.Context, tripID int64) error

	Commit() error
	Rollback() error
}

package core

import "time"

// VehicleStatus is the operational state of a fleet vehicle.
type VehicleStatus string

const (
	VehicleActive   VehicleStatus = "ACTIVE"
	VehicleInactive VehicleStatus = "INACTIVE"
)

// Vehicle is a fleet vehicle with a unique registration.
type Vehicle struct {
	ID                 int64         `json:"id"`
	RegistrationNumber string        `json:"registrationNumber"`
	Status             VehicleStatus `json:"status"`
}

// Driver is assigned to at most one vehicle.
type Driver struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	PhoneNumber   string `json:"phoneNumber"`
	LicenseNumber string `json:"licenseNumber"`
	VehicleID     int64  `json:"vehicleId"`
}

// GeofenceShape selects the containment predicate for an office geofence.
type GeofenceShape string

const (
	ShapeCircular GeofenceShape = "CIRCULAR"
	ShapePolygon  GeofenceShape = "POLYGON"
)

// LatLon is a WGS84 coordinate pair.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// OfficeGeofence is a terminal (office) region. CIRCULAR geofences use
// Latitude/Longitude/RadiusMeters; POLYGON geofences use Polygon and
// ignore the radius.
type OfficeGeofence struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Latitude     float64       `json:"latitude"`
	Longitude    float64       `json:"longitude"`
	RadiusMeters float64       `json:"radiusMeters"`
	Shape        GeofenceShape `json:"shape"`
	Polygon      []LatLon      `json:"polygon,omitempty"`
}

// PickupStatus tracks whether a pickup point has been visited.
type PickupStatus string

const (
	PickupPending PickupStatus = "PENDING"
	PickupArrived PickupStatus = "ARRIVED"
)

// PickupPoint is a circular geofence owned by exactly one trip.
type PickupPoint struct {
	ID           int64        `json:"id"`
	TripID       int64        `json:"tripId"`
	Latitude     float64      `json:"latitude"`
	Longitude    float64      `json:"longitude"`
	RadiusMeters float64      `json:"radiusMeters"`
	Status       PickupStatus `json:"status"`
}

// TripStatus is the lifecycle state of a trip.
type TripStatus string

const (
	TripPending    TripStatus = "PENDING"
	TripInProgress TripStatus = "IN_PROGRESS"
	TripCompleted  TripStatus = "COMPLETED"
)

// tripTransitions defines the legal lifecycle moves. Reset (any → PENDING)
// is an admin escape hatch handled separately.
var tripTransitions = map[TripStatus][]TripStatus{
	TripPending:    {TripInProgress},
	TripInProgress: {TripCompleted},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s TripStatus) CanTransitionTo(next TripStatus) bool {
	for _, allowed := range tripTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Trip owns a vehicle reference and its pickup points.
//
// Invariants maintained by the coordinator and admin service:
//   - EndTime >= StartTime when both are set.
//   - COMPLETED implies EndTime and DurationMinutes are set.
//   - OfficeEntryTime is non-nil only while IN_PROGRESS.
//   - TotalDistanceKm never decreases.
type Trip struct {
	ID              int64      `json:"id"`
	VehicleID       int64      `json:"vehicleId"`
	Status          TripStatus `json:"status"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	TotalDistanceKm float64    `json:"totalDistanceKm"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
	OfficeEntryTime *time.Time `json:"officeEntryTime,omitempty"`
}

// LocationLog is one appended GPS ping. Timestamp is the device clock.
type LocationLog struct {
	ID        int64     `json:"id"`
	VehicleID int64     `json:"vehicleId"`
	TripID    int64     `json:"tripId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType enumerates the closed set of audit event kinds.
type EventType string

const (
	EventPickupArrived                EventType = "PICKUP_ARRIVED"
	EventOfficeReached                EventType = "OFFICE_REACHED"
	EventTripCompleted                EventType = "TRIP_COMPLETED"
	EventGeofenceExit                 EventType = "GEOFENCE_EXIT"
	EventManualClosure                EventType = "MANUAL_CLOSURE"
	EventManualClosureOutsideGeofence EventType = "MANUAL_CLOSURE_OUTSIDE_GEOFENCE"
	EventAdminAlert                   EventType = "ADMIN_ALERT"
	EventClosureBlockedPendingPickups EventType = "TRIP_CLOSURE_BLOCKED_PENDING_PICKUPS"
	EventClosureBlockedMinDuration    EventType = "TRIP_CLOSURE_BLOCKED_MIN_DURATION"
)

// EventLog is an append-only audit entry. EventTimestamp is the server
// clock at evaluation time, never the device timestamp; CreatedAt is the
// server clock at insert.
type EventLog struct {
	ID             int64     `json:"id"`
	VehicleID      int64     `json:"vehicleId"`
	TripID         int64     `json:"tripId"`
	EventType      EventType `json:"eventType"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	EventTimestamp time.Time `json:"eventTimestamp"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Ping is a validated GPS location update entering the pipeline.
type Ping struct {
	VehicleID int64     `json:"vehicleId"`
	TripID    int64     `json:"tripId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

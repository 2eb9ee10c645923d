package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/fleetsight/backend/internal/core"
)

// localTimeLayout is the wire format for every timestamp: ISO-8601 local
// datetime, no zone suffix.
const localTimeLayout = "2006-01-02T15:04:05"

// LocalTime marshals as ISO-8601 local datetime. Device clocks send local
// time without an offset; we keep that format on the way out too.
type LocalTime struct {
	time.Time
}

func (t LocalTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format(localTimeLayout) + `"`), nil
}

func (t *LocalTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.ParseInLocation(localTimeLayout, s, time.Local)
	if err != nil {
		return fmt.Errorf("timestamp must be %s: %w", localTimeLayout, err)
	}
	t.Time = parsed
	return nil
}

func localTimePtr(t *time.Time) *LocalTime {
	if t == nil {
		return nil
	}
	return &LocalTime{*t}
}

// ApiResponse is the envelope for command endpoints.
type ApiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// LocationUpdateRequest is one GPS ping from a device.
type LocationUpdateRequest struct {
	VehicleID int64     `json:"vehicleId"`
	TripID    int64     `json:"tripId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Timestamp LocalTime `json:"timestamp"`
}

func (r LocationUpdateRequest) Validate() error {
	switch {
	case r.VehicleID <= 0:
		return fmt.Errorf("%w: vehicleId is required", core.ErrValidation)
	case r.TripID <= 0:
		return fmt.Errorf("%w: tripId is required", core.ErrValidation)
	case r.Latitude < -90 || r.Latitude > 90:
		return fmt.Errorf("%w: latitude out of range", core.ErrValidation)
	case r.Longitude < -180 || r.Longitude > 180:
		return fmt.Errorf("%w: longitude out of range", core.ErrValidation)
	case r.Speed < 0:
		return fmt.Errorf("%w: speed must be non-negative", core.ErrValidation)
	case r.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", core.ErrValidation)
	}
	return nil
}

func (r LocationUpdateRequest) toPing() core.Ping {
	return core.Ping{
		VehicleID: r.VehicleID,
		TripID:    r.TripID,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Speed:     r.Speed,
		Timestamp: r.Timestamp.Time,
	}
}

// OfficeGeofenceRequest creates or replaces an office geofence.
type OfficeGeofenceRequest struct {
	Name         string        `json:"name"`
	Latitude     float64       `json:"latitude"`
	Longitude    float64       `json:"longitude"`
	RadiusMeters float64       `json:"radiusMeters"`
	Shape        string        `json:"shape"`
	Polygon      []core.LatLon `json:"polygon,omitempty"`
}

func (r OfficeGeofenceRequest) toGeofence() core.OfficeGeofence {
	shape := core.GeofenceShape(r.Shape)
	if shape == "" {
		shape = core.ShapeCircular
	}
	return core.OfficeGeofence{
		Name:         r.Name,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		RadiusMeters: r.RadiusMeters,
		Shape:        shape,
		Polygon:      r.Polygon,
	}
}

// ManualCloseRequest closes a trip at the operator's coordinates.
type ManualCloseRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Reason    string  `json:"reason"`
}

// EventResponse is one audit event on the wire.
type EventResponse struct {
	ID             int64     `json:"id"`
	VehicleID      int64     `json:"vehicleId"`
	TripID         int64     `json:"tripId"`
	EventType      string    `json:"eventType"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	EventTimestamp LocalTime `json:"eventTimestamp"`
	CreatedAt      LocalTime `json:"createdAt"`
}

func toEventResponses(events []core.EventLog) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, EventResponse{
			ID:             e.ID,
			VehicleID:      e.VehicleID,
			TripID:         e.TripID,
			EventType:      string(e.EventType),
			Latitude:       e.Latitude,
			Longitude:      e.Longitude,
			EventTimestamp: LocalTime{e.EventTimestamp},
			CreatedAt:      LocalTime{e.CreatedAt},
		})
	}
	return out
}

// TripResponse is a trip snapshot on the wire.
type TripResponse struct {
	ID              int64      `json:"id"`
	VehicleID       int64      `json:"vehicleId"`
	Status          string     `json:"status"`
	StartTime       *LocalTime `json:"startTime,omitempty"`
	EndTime         *LocalTime `json:"endTime,omitempty"`
	TotalDistanceKm float64    `json:"totalDistanceKm"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
	OfficeEntryTime *LocalTime `json:"officeEntryTime,omitempty"`
}

func toTripResponse(t core.Trip) TripResponse {
	return TripResponse{
		ID:              t.ID,
		VehicleID:       t.VehicleID,
		Status:          string(t.Status),
		StartTime:       localTimePtr(t.StartTime),
		EndTime:         localTimePtr(t.EndTime),
		TotalDistanceKm: t.TotalDistanceKm,
		DurationMinutes: t.DurationMinutes,
		OfficeEntryTime: localTimePtr(t.OfficeEntryTime),
	}
}

// LocationResponse is one location log on the wire.
type LocationResponse struct {
	ID        int64     `json:"id"`
	VehicleID int64     `json:"vehicleId"`
	TripID    int64     `json:"tripId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Timestamp LocalTime `json:"timestamp"`
}

func toLocationResponses(logs []core.LocationLog) []LocationResponse {
	out := make([]LocationResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, LocationResponse{
			ID:        l.ID,
			VehicleID: l.VehicleID,
			TripID:    l.TripID,
			Latitude:  l.Latitude,
			Longitude: l.Longitude,
			Speed:     l.Speed,
			Timestamp: LocalTime{l.Timestamp},
		})
	}
	return out
}

// VehicleSummary is one row in the dashboard aggregate: the vehicle, its
// driver, the active trip and a naive ETA toward the next destination.
type VehicleSummary struct {
	Vehicle         core.Vehicle  `json:"vehicle"`
	Driver          *core.Driver  `json:"driver,omitempty"`
	Trip            *TripResponse `json:"trip,omitempty"`
	CurrentSpeedKmh float64       `json:"currentSpeedKmh"`
	EtaMinutes      *float64      `json:"etaMinutes,omitempty"`
	Destination     string        `json:"destination,omitempty"`
}

// DashboardData is the full polling payload for the live dashboard.
type DashboardData struct {
	Vehicles  []VehicleSummary      `json:"vehicles"`
	Trips     []TripResponse        `json:"trips"`
	Pickups   []core.PickupPoint    `json:"pickups"`
	Geofences []core.OfficeGeofence `json:"geofences"`
	Locations []LocationResponse    `json:"locations"`
	Events    []EventResponse       `json:"events"`
}

// Package api is the HTTP surface: location ingress, admin operations,
// audit queries, the dashboard aggregate and the live WebSocket feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetsight/backend/internal/core"
	"github.com/fleetsight/backend/internal/geo"
	"github.com/fleetsight/backend/internal/staticdata"
	"github.com/fleetsight/backend/internal/store"
	"github.com/fleetsight/backend/internal/tracking"
)

// Server wires the HTTP routes to the tracking services.
type Server struct {
	dispatcher *tracking.Dispatcher
	admin      *tracking.Admin
	audit      *tracking.AuditQuery
	reader     store.Reader
	static     *staticdata.Provider
	streamer   *Streamer
	logger     *log.Logger
}

func NewServer(dispatcher *tracking.Dispatcher, admin *tracking.Admin, audit *tracking.AuditQuery, reader store.Reader, static *staticdata.Provider, streamer *Streamer) *Server {
	return &Server{
		dispatcher: dispatcher,
		admin:      admin,
		audit:      audit,
		reader:     reader,
		static:     static,
		streamer:   streamer,
		logger:     log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS Middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if req.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	// Location ingress
	r.HandleFunc("/location/update", s.handleLocationUpdate).Methods("POST")
	r.HandleFunc("/location/update/async", s.handleLocationUpdateAsync).Methods("POST")
	r.HandleFunc("/location/batch", s.handleLocationBatch).Methods("POST")

	// Trip lifecycle
	r.HandleFunc("/trip/{id}/manual-close", s.handleManualClose).Methods("POST")
	r.HandleFunc("/dashboard/start-trip/{id}", s.handleStartTrip).Methods("POST")
	r.HandleFunc("/dashboard/reset", s.handleReset).Methods("POST")
	r.HandleFunc("/dashboard/data", s.handleDashboardData).Methods("GET")

	// Audit trail
	r.HandleFunc("/audit/trip/{id}", s.handleAuditByTrip).Methods("GET")
	r.HandleFunc("/audit/vehicle/{id}", s.handleAuditByVehicle).Methods("GET")
	r.HandleFunc("/audit/events", s.handleAuditByRange).Methods("GET")

	// Geofence CRUD
	r.HandleFunc("/geofences", s.handleListGeofences).Methods("GET")
	r.HandleFunc("/geofences", s.handleCreateGeofence).Methods("POST")
	r.HandleFunc("/geofences/{id}", s.handleGetGeofence).Methods("GET")
	r.HandleFunc("/geofences/{id}", s.handleUpdateGeofence).Methods("PUT")
	r.HandleFunc("/geofences/{id}", s.handleDeleteGeofence).Methods("DELETE")

	// Live feed + operational endpoints
	r.HandleFunc("/ws/live", s.streamer.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")

	return r
}

// ============================================================================
// LOCATION INGRESS
// ============================================================================

func (s *Server) handleLocationUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePing(w, r)
	if !ok {
		return
	}
	if err := s.dispatcher.Sync(r.Context(), req.toPing()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Location processed"})
}

func (s *Server) handleLocationUpdateAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePing(w, r)
	if !ok {
		return
	}
	s.dispatcher.Async(req.toPing())
	s.writeJSON(w, http.StatusAccepted, ApiResponse{Success: true, Message: "Location accepted"})
}

func (s *Server) handleLocationBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []LocationUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", core.ErrValidation, err))
		return
	}
	pings := make([]core.Ping, 0, len(reqs))
	for _, req := range reqs {
		if err := req.Validate(); err != nil {
			s.writeError(w, err)
			return
		}
		pings = append(pings, req.toPing())
	}

	result, err := s.dispatcher.Batch(r.Context(), pings)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Batch processed", Data: result})
}

func (s *Server) decodePing(w http.ResponseWriter, r *http.Request) (LocationUpdateRequest, bool) {
	var req LocationUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", core.ErrValidation, err))
		return req, false
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, err)
		return req, false
	}
	return req, true
}

// ============================================================================
// TRIP LIFECYCLE
// ============================================================================

func (s *Server) handleManualClose(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req ManualCloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", core.ErrValidation, err))
		return
	}

	trip, err := s.admin.ManualClose(r.Context(), id, req.Latitude, req.Longitude, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Trip closed", Data: toTripResponse(*trip)})
}

func (s *Server) handleStartTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	trip, err := s.admin.StartTrip(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Trip started", Data: toTripResponse(*trip)})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.ResetAll(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "All trips reset"})
}

// ============================================================================
// AUDIT
// ============================================================================

func (s *Server) handleAuditByTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	events, err := s.audit.ByTrip(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toEventResponses(events))
}

func (s *Server) handleAuditByVehicle(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	events, err := s.audit.ByVehicle(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toEventResponses(events))
}

func (s *Server) handleAuditByRange(w http.ResponseWriter, r *http.Request) {
	from, err := parseLocalTime(r.URL.Query().Get("from"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	to, err := parseLocalTime(r.URL.Query().Get("to"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	events, err := s.audit.ByTimeRange(r.Context(), from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toEventResponses(events))
}

func parseLocalTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: from and to are required", core.ErrValidation)
	}
	t, err := time.ParseInLocation(localTimeLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	return t, nil
}

// ============================================================================
// GEOFENCE CRUD
// ============================================================================

func (s *Server) handleListGeofences(w http.ResponseWriter, r *http.Request) {
	geofences, err := s.static.Geofences(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, geofences)
}

func (s *Server) handleGetGeofence(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	gf, err := s.reader.GeofenceByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, gf)
}

func (s *Server) handleCreateGeofence(w http.ResponseWriter, r *http.Request) {
	var req OfficeGeofenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", core.ErrValidation, err))
		return
	}
	created, err := s.admin.CreateGeofence(r.Context(), req.toGeofence())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ApiResponse{Success: true, Message: "Geofence created", Data: created})
}

func (s *Server) handleUpdateGeofence(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req OfficeGeofenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", core.ErrValidation, err))
		return
	}
	gf := req.toGeofence()
	gf.ID = id
	if err := s.admin.UpdateGeofence(r.Context(), gf); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Geofence updated", Data: gf})
}

func (s *Server) handleDeleteGeofence(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.admin.DeleteGeofence(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Geofence deleted"})
}

// ============================================================================
// DASHBOARD
// ============================================================================

func (s *Server) handleDashboardData(w http.ResponseWriter, r *http.Request) {
	data, err := s.buildDashboard(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, data)
}

func (s *Server) buildDashboard(ctx context.Context) (*DashboardData, error) {
	vehicles, err := s.static.Vehicles(ctx)
	if err != nil {
		return nil, err
	}
	trips, err := s.reader.Trips(ctx)
	if err != nil {
		return nil, err
	}
	pickups, err := s.reader.Pickups(ctx)
	if err != nil {
		return nil, err
	}
	geofences, err := s.static.Geofences(ctx)
	if err != nil {
		return nil, err
	}
	locations, err := s.reader.LocationsChronological(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.reader.EventsNewestFirst(ctx)
	if err != nil {
		return nil, err
	}

	tripResponses := make([]TripResponse, 0, len(trips))
	for _, t := range trips {
		tripResponses = append(tripResponses, toTripResponse(t))
	}

	summaries := make([]VehicleSummary, 0, len(vehicles))
	for _, v := range vehicles {
		summaries = append(summaries, s.summarizeVehicle(ctx, v, trips, pickups, geofences))
	}

	return &DashboardData{
		Vehicles:  summaries,
		Trips:     tripResponses,
		Pickups:   pickups,
		Geofences: geofences,
		Locations: toLocationResponses(locations),
		Events:    toEventResponses(events),
	}, nil
}

func (s *Server) summarizeVehicle(ctx context.Context, v core.Vehicle, trips []core.Trip, pickups []core.PickupPoint, geofences []core.OfficeGeofence) VehicleSummary {
	summary := VehicleSummary{Vehicle: v}

	driver, err := s.static.DriverByVehicle(ctx, v.ID)
	if err == nil {
		summary.Driver = driver
	}

	// Most recent trip for the vehicle, preferring an active one.
	var trip *core.Trip
	for i := range trips {
		t := trips[i]
		if t.VehicleID != v.ID {
			continue
		}
		if trip == nil || t.Status == core.TripInProgress || t.ID > trip.ID {
			cp := t
			trip = &cp
		}
		if t.Status == core.TripInProgress {
			break
		}
	}
	if trip == nil {
		return summary
	}
	resp := toTripResponse(*trip)
	summary.Trip = &resp

	latest, err := s.reader.LatestLocation(ctx, trip.ID)
	if err != nil || latest == nil {
		return summary
	}
	summary.CurrentSpeedKmh = latest.Speed

	if trip.Status != core.TripInProgress {
		return summary
	}

	// Naive ETA: straight-line distance to the next pending pickup, else
	// the office. Speed floor keeps the estimate sane when the vehicle is
	// practically stationary.
	destLat, destLon, destination := 0.0, 0.0, ""
	for _, p := range pickups {
		if p.TripID == trip.ID && p.Status == core.PickupPending {
			destLat, destLon, destination = p.Latitude, p.Longitude, "Pickup"
			break
		}
	}
	if destination == "" && len(geofences) > 0 {
		destLat, destLon, destination = geofences[0].Latitude, geofences[0].Longitude, "Office"
	}
	if destination == "" {
		return summary
	}

	speed := latest.Speed
	if speed <= 2 {
		speed = 30
	}
	distanceKm := geo.DistanceMeters(latest.Latitude, latest.Longitude, destLat, destLon) / 1000.0
	eta := distanceKm / speed * 60
	summary.EtaMinutes = &eta
	summary.Destination = destination
	return summary
}

// ============================================================================
// SHARED HELPERS
// ============================================================================

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, fmt.Errorf("%w: id must be a positive integer", core.ErrValidation))
		return 0, false
	}
	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("⚠️  Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrBatchTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrAlreadyTerminal), errors.Is(err, core.ErrEmptyBatch):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Printf("❌ Internal error: %v", err)
	}
	s.writeJSON(w, status, ApiResponse{Success: false, Message: err.Error()})
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/fleetsight/backend/internal/core"
)

// Postgres is the production Store backed by database/sql + lib/pq.
type Postgres struct {
	db *sql.DB
}

// Open connects to Postgres, verifies connectivity and applies the schema.
func Open(ctx context.Context, url string) (*Postgres, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	slog.Info("Postgres connected", "max_open_conns", 25)
	return &Postgres{db: db}, nil
}

// Close shuts down the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// encodePolygon serializes vertices as a JSON array of [lat,lon] pairs,
// the same wire form the admin API accepts.
func encodePolygon(vertices []core.LatLon) (string, error) {
	if len(vertices) == 0 {
		return "", nil
	}
	pairs := make([][2]float64, len(vertices))
	for i, v := range vertices {
		pairs[i] = [2]float64{v.Lat, v.Lon}
	}
	raw, err := json.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodePolygon(raw string) ([]core.LatLon, error) {
	if raw == "" {
		return nil, nil
	}
	var pairs [][2]float64
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil, fmt.Errorf("decode polygon: %w", err)
	}
	vertices := make([]core.LatLon, len(pairs))
	for i, p := range pairs {
		vertices[i] = core.LatLon{Lat: p[0], Lon: p[1]}
	}
	return vertices, nil
}

// ============================================================================
// READS
// ============================================================================

const tripColumns = `id, vehicle_id, status, start_time, end_time, total_distance_km, duration_minutes, office_entry_time`

func scanTrip(row interface{ Scan(...any) error }) (*core.Trip, error) {
	var t core.Trip
	var duration sql.NullInt64
	var start, end, entry sql.NullTime
	err := row.Scan(&t.ID, &t.VehicleID, &t.Status, &start, &end, &t.TotalDistanceKm, &duration, &entry)
	if err != nil {
		return nil, err
	}
	if start.Valid {
		t.StartTime = &start.Time
	}
	if end.Valid {
		t.EndTime = &end.Time
	}
	if entry.Valid {
		t.OfficeEntryTime = &entry.Time
	}
	if duration.Valid {
		d := int(duration.Int64)
		t.DurationMinutes = &d
	}
	return &t, nil
}

func (p *Postgres) Trip(ctx context.Context, id int64) (*core.Trip, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	return t, err
}

func (p *Postgres) Trips(ctx context.Context) ([]core.Trip, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+tripColumns+` FROM trips ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []core.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

func (p *Postgres) Vehicles(ctx context.Context) ([]core.Vehicle, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, registration_number, status FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []core.Vehicle
	for rows.Next() {
		var v core.Vehicle
		if err := rows.Scan(&v.ID, &v.RegistrationNumber, &v.Status); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

func (p *Postgres) DriverByVehicle(ctx context.Context, vehicleID int64) (*core.Driver, error) {
	var d core.Driver
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, phone_number, license_number, vehicle_id
		   FROM drivers WHERE vehicle_id = $1`, vehicleID).
		Scan(&d.ID, &d.Name, &d.PhoneNumber, &d.LicenseNumber, &d.VehicleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

const geofenceColumns = `id, name, latitude, longitude, radius_meters, shape, polygon_coordinates`

func scanGeofence(row interface{ Scan(...any) error }) (*core.OfficeGeofence, error) {
	var gf core.OfficeGeofence
	var name, polygon sql.NullString
	if err := row.Scan(&gf.ID, &name, &gf.Latitude, &gf.Longitude, &gf.RadiusMeters, &gf.Shape, &polygon); err != nil {
		return nil, err
	}
	gf.Name = name.String
	vertices, err := decodePolygon(polygon.String)
	if err != nil {
		return nil, err
	}
	gf.Polygon = vertices
	return &gf, nil
}

func (p *Postgres) Geofences(ctx context.Context) ([]core.OfficeGeofence, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+geofenceColumns+` FROM office_geofences ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var geofences []core.OfficeGeofence
	for rows.Next() {
		gf, err := scanGeofence(rows)
		if err != nil {
			return nil, err
		}
		geofences = append(geofences, *gf)
	}
	return geofences, rows.Err()
}

func (p *Postgres) GeofenceByID(ctx context.Context, id int64) (*core.OfficeGeofence, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+geofenceColumns+` FROM office_geofences WHERE id = $1`, id)
	gf, err := scanGeofence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	return gf, err
}

func (p *Postgres) PickupsForTrip(ctx context.Context, tripID int64) ([]core.PickupPoint, error) {
	return p.queryPickups(ctx,
		`SELECT id, trip_id, latitude, longitude, radius_meters, status
		   FROM pickup_points WHERE trip_id = $1 ORDER BY id`, tripID)
}

func (p *Postgres) Pickups(ctx context.Context) ([]core.PickupPoint, error) {
	return p.queryPickups(ctx,
		`SELECT id, trip_id, latitude, longitude, radius_meters, status
		   FROM pickup_points ORDER BY id`)
}

func (p *Postgres) queryPickups(ctx context.Context, query string, args ...any) ([]core.PickupPoint, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pickups []core.PickupPoint
	for rows.Next() {
		var pp core.PickupPoint
		if err := rows.Scan(&pp.ID, &pp.TripID, &pp.Latitude, &pp.Longitude, &pp.RadiusMeters, &pp.Status); err != nil {
			return nil, err
		}
		pickups = append(pickups, pp)
	}
	return pickups, rows.Err()
}

func (p *Postgres) LatestLocation(ctx context.Context, tripID int64) (*core.LocationLog, error) {
	var l core.LocationLog
	err := p.db.QueryRowContext(ctx,
		`SELECT id, vehicle_id, trip_id, latitude, longitude, speed, ts
		   FROM location_logs WHERE trip_id = $1
		  ORDER BY ts DESC, id DESC LIMIT 1`, tripID).
		Scan(&l.ID, &l.VehicleID, &l.TripID, &l.Latitude, &l.Longitude, &l.Speed, &l.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (p *Postgres) LocationsChronological(ctx context.Context) ([]core.LocationLog, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, vehicle_id, trip_id, latitude, longitude, speed, ts
		   FROM location_logs ORDER BY ts, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []core.LocationLog
	for rows.Next() {
		var l core.LocationLog
		if err := rows.Scan(&l.ID, &l.VehicleID, &l.TripID, &l.Latitude, &l.Longitude, &l.Speed, &l.Timestamp); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

const eventColumns = `id, vehicle_id, trip_id, event_type, latitude, longitude, event_timestamp, created_at`

func (p *Postgres) queryEvents(ctx context.Context, query string, args ...any) ([]core.EventLog, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []core.EventLog
	for rows.Next() {
		var e core.EventLog
		if err := rows.Scan(&e.ID, &e.VehicleID, &e.TripID, &e.EventType, &e.Latitude, &e.Longitude, &e.EventTimestamp, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (p *Postgres) EventsByTrip(ctx context.Context, tripID int64) ([]core.EventLog, error) {
	return p.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM event_logs WHERE trip_id = $1 ORDER BY event_timestamp, id`, tripID)
}

func (p *Postgres) EventsByVehicle(ctx context.Context, vehicleID int64) ([]core.EventLog, error) {
	return p.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM event_logs WHERE vehicle_id = $1 ORDER BY event_timestamp DESC, id DESC`, vehicleID)
}

func (p *Postgres) EventsByTimeRange(ctx context.Context, from, to time.Time) ([]core.EventLog, error) {
	return p.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM event_logs
		  WHERE event_timestamp BETWEEN $1 AND $2 ORDER BY event_timestamp, id`, from, to)
}

func (p *Postgres) EventsNewestFirst(ctx context.Context) ([]core.EventLog, error) {
	return p.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM event_logs ORDER BY event_timestamp DESC, id DESC`)
}

func (p *Postgres) ExistsEvent(ctx context.Context, tripID int64, kind core.EventType) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM event_logs WHERE trip_id = $1 AND event_type = $2)`,
		tripID, kind).Scan(&exists)
	return exists, err
}

// ============================================================================
// WRITES
// ============================================================================

func (p *Postgres) CreateGeofence(ctx context.Context, gf core.OfficeGeofence) (core.OfficeGeofence, error) {
	polygon, err := encodePolygon(gf.Polygon)
	if err != nil {
		return core.OfficeGeofence{}, err
	}
	err = p.db.QueryRowContext(ctx,
		`INSERT INTO office_geofences (name, latitude, longitude, radius_meters, shape, polygon_coordinates)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		gf.Name, gf.Latitude, gf.Longitude, gf.RadiusMeters, gf.Shape, polygon).Scan(&gf.ID)
	return gf, err
}

func (p *Postgres) UpdateGeofence(ctx context.Context, gf core.OfficeGeofence) error {
	polygon, err := encodePolygon(gf.Polygon)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE office_geofences
		    SET name = $1, latitude = $2, longitude = $3, radius_meters = $4, shape = $5, polygon_coordinates = $6
		  WHERE id = $7`,
		gf.Name, gf.Latitude, gf.Longitude, gf.RadiusMeters, gf.Shape, polygon, gf.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (p *Postgres) DeleteGeofence(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM office_geofences WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateVehicle(ctx context.Context, v core.Vehicle) (core.Vehicle, error) {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO vehicles (registration_number, status) VALUES ($1, $2) RETURNING id`,
		v.RegistrationNumber, v.Status).Scan(&v.ID)
	return v, err
}

func (p *Postgres) CreateDriver(ctx context.Context, d core.Driver) (core.Driver, error) {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO drivers (name, phone_number, license_number, vehicle_id)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		d.Name, d.PhoneNumber, d.LicenseNumber, d.VehicleID).Scan(&d.ID)
	return d, err
}

func (p *Postgres) CreateTrip(ctx context.Context, t core.Trip) (core.Trip, error) {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO trips (vehicle_id, status, total_distance_km) VALUES ($1, $2, $3) RETURNING id`,
		t.VehicleID, t.Status, t.TotalDistanceKm).Scan(&t.ID)
	return t, err
}

func (p *Postgres) CreatePickup(ctx context.Context, pp core.PickupPoint) (core.PickupPoint, error) {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO pickup_points (trip_id, latitude, longitude, radius_meters, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		pp.TripID, pp.Latitude, pp.Longitude, pp.RadiusMeters, pp.Status).Scan(&pp.ID)
	return pp, err
}

func (p *Postgres) CountVehicles(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vehicles`).Scan(&n)
	return n, err
}

// ============================================================================
// TRANSACTIONS
// ============================================================================

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx *sql.Tx
}

// LoadTripForUpdate takes the row-level exclusive lock that serializes all
// mutation of this trip until the transaction ends.
func (t *pgTx) LoadTripForUpdate(ctx context.Context, tripID int64) (*core.Trip, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+tripColumns+` FROM trips WHERE id = $1 FOR UPDATE`, tripID)
	trip, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	return trip, err
}

func (t *pgTx) SaveTrip(ctx context.Context, trip *core.Trip) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE trips
		    SET status = $1, start_time = $2, end_time = $3,
		        total_distance_km = $4, duration_minutes = $5, office_entry_time = $6
		  WHERE id = $7`,
		trip.Status, trip.StartTime, trip.EndTime,
		trip.TotalDistanceKm, trip.DurationMinutes, trip.OfficeEntryTime, trip.ID)
	return err
}

func (t *pgTx) AppendLocation(ctx context.Context, l core.LocationLog) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO location_logs (vehicle_id, trip_id, latitude, longitude, speed, ts)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		l.VehicleID, l.TripID, l.Latitude, l.Longitude, l.Speed, l.Timestamp)
	return err
}

func (t *pgTx) SavePickup(ctx context.Context, pp core.PickupPoint) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE pickup_points SET status = $1 WHERE id = $2`, pp.Status, pp.ID)
	return err
}

// SaveEvent inserts an audit row inside a savepoint so a failed insert does
// not poison the enclosing transaction: the coordinator logs and swallows
// audit failures while the trip mutation still commits.
func (t *pgTx) SaveEvent(ctx context.Context, e core.EventLog) error {
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT audit_event`); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO event_logs (vehicle_id, trip_id, event_type, latitude, longitude, event_timestamp, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		e.VehicleID, e.TripID, e.EventType, e.Latitude, e.Longitude, e.EventTimestamp)
	if err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT audit_event`); rbErr != nil {
			return fmt.Errorf("rollback savepoint after %v: %w", err, rbErr)
		}
		return err
	}
	_, err = t.tx.ExecContext(ctx, `RELEASE SAVEPOINT audit_event`)
	return err
}

func (t *pgTx) ExistsEvent(ctx context.Context, tripID int64, kind core.EventType) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM event_logs WHERE trip_id = $1 AND event_type = $2)`,
		tripID, kind).Scan(&exists)
	return exists, err
}

func (t *pgTx) DeleteLocations(ctx context.Context, tripID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM location_logs WHERE trip_id = $1`, tripID)
	return err
}

func (t *pgTx) DeleteEvents(ctx context.Context, tripID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM event_logs WHERE trip_id = $1`, tripID)
	return err
}

func (t *pgTx) Commit() error   { return t.tx.Commit() }
func (t *pgTx) Rollback() error { return t.tx.Rollback() }

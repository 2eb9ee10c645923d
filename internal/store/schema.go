package store

// schema is applied on startup. Statements are idempotent so restarts are
// safe without a migration tool.
const schema = `
CREATE TABLE IF NOT EXISTS vehicles (
    id                  BIGSERIAL PRIMARY KEY,
    registration_number TEXT NOT NULL UNIQUE,
    status              TEXT NOT NULL DEFAULT 'ACTIVE'
);

CREATE TABLE IF NOT EXISTS drivers (
    id             BIGSERIAL PRIMARY KEY,
    name           TEXT NOT NULL,
    phone_number   TEXT NOT NULL,
    license_number TEXT NOT NULL,
    vehicle_id     BIGINT REFERENCES vehicles(id)
);

CREATE TABLE IF NOT EXISTS trips (
    id                BIGSERIAL PRIMARY KEY,
    vehicle_id        BIGINT NOT NULL REFERENCES vehicles(id),
    status            TEXT NOT NULL DEFAULT 'PENDING',
    start_time        TIMESTAMPTZ,
    end_time          TIMESTAMPTZ,
    total_distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
    duration_minutes  INTEGER,
    office_entry_time TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS pickup_points (
    id            BIGSERIAL PRIMARY KEY,
    trip_id       BIGINT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
    latitude      DOUBLE PRECISION NOT NULL,
    longitude     DOUBLE PRECISION NOT NULL,
    radius_meters DOUBLE PRECISION NOT NULL,
    status        TEXT NOT NULL DEFAULT 'PENDING'
);

CREATE TABLE IF NOT EXISTS office_geofences (
    id                  BIGSERIAL PRIMARY KEY,
    name                TEXT,
    latitude            DOUBLE PRECISION NOT NULL,
    longitude           DOUBLE PRECISION NOT NULL,
    radius_meters       DOUBLE PRECISION NOT NULL,
    shape               TEXT NOT NULL DEFAULT 'CIRCULAR',
    polygon_coordinates TEXT
);

CREATE TABLE IF NOT EXISTS location_logs (
    id         BIGSERIAL PRIMARY KEY,
    vehicle_id BIGINT NOT NULL,
    trip_id    BIGINT NOT NULL,
    latitude   DOUBLE PRECISION NOT NULL,
    longitude  DOUBLE PRECISION NOT NULL,
    speed      DOUBLE PRECISION NOT NULL,
    ts         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_location_logs_trip_ts ON location_logs (trip_id, ts);

CREATE TABLE IF NOT EXISTS event_logs (
    id              BIGSERIAL PRIMARY KEY,
    vehicle_id      BIGINT NOT NULL,
    trip_id         BIGINT,
    event_type      TEXT NOT NULL,
    latitude        DOUBLE PRECISION NOT NULL,
    longitude       DOUBLE PRECISION NOT NULL,
    event_timestamp TIMESTAMPTZ NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_event_logs_trip ON event_logs (trip_id);
CREATE INDEX IF NOT EXISTS idx_event_logs_vehicle ON event_logs (vehicle_id);
CREATE INDEX IF NOT EXISTS idx_event_logs_trip_type ON event_logs (trip_id, event_type);
`

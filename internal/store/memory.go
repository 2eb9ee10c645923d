package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fleetsight/backend/internal/core"
)

// Memory is an in-process Store used by tests and database-less local runs.
// A per-trip mutex stands in for the Postgres row lock: LoadTripForUpdate
// blocks until the previous transaction on the same trip commits, so the
// concurrency semantics match production.
//
// Tx writes are buffered and applied atomically on Commit; Rollback
// discards them. Tests that need failure injection use the hook fields
// below.
type Memory struct {
	mu sync.RWMutex

	vehicles  map[int64]core.Vehicle
	drivers   map[int64]core.Driver
	trips     map[int64]core.Trip
	pickups   map[int64]core.PickupPoint
	geofences map[int64]core.OfficeGeofence
	locations []core.LocationLog
	events    []core.EventLog

	nextID map[string]int64

	tripLocks sync.Map // tripID -> *sync.Mutex

	// FailSaveEvent makes every Tx.SaveEvent fail; exercises the
	// best-effort audit policy.
	FailSaveEvent error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		vehicles:  make(map[int64]core.Vehicle),
		drivers:   make(map[int64]core.Driver),
		trips:     make(map[int64]core.Trip),
		pickups:   make(map[int64]core.PickupPoint),
		geofences: make(map[int64]core.OfficeGeofence),
		nextID:    make(map[string]int64),
	}
}

func (m *Memory) id(kind string) int64 {
	m.nextID[kind]++
	return m.nextID[kind]
}

func (m *Memory) lockFor(tripID int64) *sync.Mutex {
	mu, _ := m.tripLocks.LoadOrStore(tripID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ============================================================================
// READS
// ============================================================================

func (m *Memory) Trip(ctx context.Context, id int64) (*core.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := t
	return &cp, nil
}

func (m *Memory) Trips(ctx context.Context) ([]core.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Trip, 0, len(m.trips))
	for _, t := range m.trips {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Vehicles(ctx context.Context) ([]core.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Vehicle, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DriverByVehicle(ctx context.Context, vehicleID int64) (*core.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.drivers {
		if d.VehicleID == vehicleID {
			cp := d
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *Memory) Geofences(ctx context.Context) ([]core.OfficeGeofence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.OfficeGeofence, 0, len(m.geofences))
	for _, gf := range m.geofences {
		out = append(out, gf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GeofenceByID(ctx context.Context, id int64) (*core.OfficeGeofence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gf, ok := m.geofences[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := gf
	return &cp, nil
}

func (m *Memory) PickupsForTrip(ctx context.Context, tripID int64) ([]core.PickupPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.PickupPoint
	for _, pp := range m.pickups {
		if pp.TripID == tripID {
			out = append(out, pp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Pickups(ctx context.Context) ([]core.PickupPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.PickupPoint, 0, len(m.pickups))
	for _, pp := range m.pickups {
		out = append(out, pp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) LatestLocation(ctx context.Context, tripID int64) (*core.LocationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *core.LocationLog
	for i := range m.locations {
		l := m.locations[i]
		if l.TripID != tripID {
			continue
		}
		if latest == nil || l.Timestamp.After(latest.Timestamp) ||
			(l.Timestamp.Equal(latest.Timestamp) && l.ID > latest.ID) {
			cp := l
			latest = &cp
		}
	}
	return latest, nil
}

func (m *Memory) LocationsChronological(ctx context.Context) ([]core.LocationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]core.LocationLog(nil), m.locations...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (m *Memory) eventsWhere(keep func(core.EventLog) bool, newestFirst bool) []core.EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.EventLog
	for _, e := range m.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if newestFirst {
			a, b = b, a
		}
		if a.EventTimestamp.Equal(b.EventTimestamp) {
			return a.ID < b.ID
		}
		return a.EventTimestamp.Before(b.EventTimestamp)
	})
	return out
}

func (m *Memory) EventsByTrip(ctx context.Context, tripID int64) ([]core.EventLog, error) {
	return m.eventsWhere(func(e core.EventLog) bool { return e.TripID == tripID }, false), nil
}

func (m *Memory) EventsByVehicle(ctx context.Context, vehicleID int64) ([]core.EventLog, error) {
	return m.eventsWhere(func(e core.EventLog) bool { return e.VehicleID == vehicleID }, true), nil
}

func (m *Memory) EventsByTimeRange(ctx context.Context, from, to time.Time) ([]core.EventLog, error) {
	return m.eventsWhere(func(e core.EventLog) bool {
		return !e.EventTimestamp.Before(from) && !e.EventTimestamp.After(to)
	}, false), nil
}

func (m *Memory) EventsNewestFirst(ctx context.Context) ([]core.EventLog, error) {
	return m.eventsWhere(func(core.EventLog) bool { return true }, true), nil
}

func (m *Memory) ExistsEvent(ctx context.Context, tripID int64, kind core.EventType) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.events {
		if e.TripID == tripID && e.EventType == kind {
			return true, nil
		}
	}
	return false, nil
}

// ============================================================================
// WRITES
// ============================================================================

func (m *Memory) CreateGeofence(ctx context.Context, gf core.OfficeGeofence) (core.OfficeGeofence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gf.ID = m.id("geofence")
	m.geofences[gf.ID] = gf
	return gf, nil
}

func (m *Memory) UpdateGeofence(ctx context.Context, gf core.OfficeGeofence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.geofences[gf.ID]; !ok {
		return core.ErrNotFound
	}
	m.geofences[gf.ID] = gf
	return nil
}

func (m *Memory) DeleteGeofence(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.geofences[id]; !ok {
		return core.ErrNotFound
	}
	delete(m.geofences, id)
	return nil
}

func (m *Memory) CreateVehicle(ctx context.Context, v core.Vehicle) (core.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = m.id("vehicle")
	m.vehicles[v.ID] = v
	return v, nil
}

func (m *Memory) CreateDriver(ctx context.Context, d core.Driver) (core.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = m.id("driver")
	m.drivers[d.ID] = d
	return d, nil
}

func (m *Memory) CreateTrip(ctx context.Context, t core.Trip) (core.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.id("trip")
	m.trips[t.ID] = t
	return t, nil
}

func (m *Memory) CreatePickup(ctx context.Context, pp core.PickupPoint) (core.PickupPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pp.ID = m.id("pickup")
	m.pickups[pp.ID] = pp
	return pp, nil
}

func (m *Memory) CountVehicles(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vehicles), nil
}

// ============================================================================
// TRANSACTIONS
// ============================================================================

func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	return &memTx{store: m}, nil
}

// memTx validates against committed state at call time and buffers the
// writes themselves; Commit applies them in order under one lock, Rollback
// discards them. Matches the SQL store: nothing is visible until Commit.
type memTx struct {
	store   *Memory
	locked  *sync.Mutex
	pending []func()
	done    bool
}

func (t *memTx) LoadTripForUpdate(ctx context.Context, tripID int64) (*core.Trip, error) {
	if t.locked == nil {
		mu := t.store.lockFor(tripID)
		mu.Lock()
		t.locked = mu
	}
	return t.store.Trip(ctx, tripID)
}

func (t *memTx) SaveTrip(ctx context.Context, trip *core.Trip) error {
	t.store.mu.RLock()
	_, ok := t.store.trips[trip.ID]
	t.store.mu.RUnlock()
	if !ok {
		return core.ErrNotFound
	}
	cp := *trip
	t.pending = append(t.pending, func() {
		t.store.trips[cp.ID] = cp
	})
	return nil
}

func (t *memTx) AppendLocation(ctx context.Context, l core.LocationLog) error {
	t.pending = append(t.pending, func() {
		l.ID = t.store.id("location")
		t.store.locations = append(t.store.locations, l)
	})
	return nil
}

func (t *memTx) SavePickup(ctx context.Context, pp core.PickupPoint) error {
	t.store.mu.RLock()
	_, ok := t.store.pickups[pp.ID]
	t.store.mu.RUnlock()
	if !ok {
		return core.ErrNotFound
	}
	t.pending = append(t.pending, func() {
		existing := t.store.pickups[pp.ID]
		existing.Status = pp.Status
		t.store.pickups[pp.ID] = existing
	})
	return nil
}

func (t *memTx) SaveEvent(ctx context.Context, e core.EventLog) error {
	if t.store.FailSaveEvent != nil {
		return t.store.FailSaveEvent
	}
	t.pending = append(t.pending, func() {
		e.ID = t.store.id("event")
		e.CreatedAt = time.Now()
		t.store.events = append(t.store.events, e)
	})
	return nil
}

func (t *memTx) ExistsEvent(ctx context.Context, tripID int64, kind core.EventType) (bool, error) {
	return t.store.ExistsEvent(ctx, tripID, kind)
}

func (t *memTx) DeleteLocations(ctx context.Context, tripID int64) error {
	t.pending = append(t.pending, func() {
		kept := t.store.locations[:0]
		for _, l := range t.store.locations {
			if l.TripID != tripID {
				kept = append(kept, l)
			}
		}
		t.store.locations = kept
	})
	return nil
}

func (t *memTx) DeleteEvents(ctx context.Context, tripID int64) error {
	t.pending = append(t.pending, func() {
		kept := t.store.events[:0]
		for _, e := range t.store.events {
			if e.TripID != tripID {
				kept = append(kept, e)
			}
		}
		t.store.events = kept
	})
	return nil
}

func (t *memTx) finish() {
	if t.done {
		return
	}
	t.done = true
	t.pending = nil
	if t.locked != nil {
		t.locked.Unlock()
		t.locked = nil
	}
}

func (t *memTx) Commit() error {
	if !t.done {
		t.store.mu.Lock()
		for _, apply := range t.pending {
			apply()
		}
		t.store.mu.Unlock()
	}
	t.finish()
	return nil
}

func (t *memTx) Rollback() error {
	t.finish()
	return nil
}

// Package staticdata is a read-through cache for the data that rarely
// changes at runtime: office geofences, the vehicle list, and per-vehicle
// drivers. The dashboard polls every couple of seconds; without this layer
// that is a steady stream of identical reads against the store.
package staticdata

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleetsight/backend/internal/core"
	"github.com/fleetsight/backend/internal/store"
)

const (
	geofencesKey = "office-geofences"
	vehiclesKey  = "vehicles"
)

// Provider serves geofences, vehicles and drivers from two bounded caches
// with a write TTL. Eviction: explicit (admin reset / geofence CRUD), TTL
// on read, and LRU when a cache hits its capacity.
type Provider struct {
	reader store.Reader

	geofences     *lruCache // single key: the geofence list
	vehicleDriver *lruCache // "vehicles" + "driver-<vehicleID>" keys
}

// New builds a Provider with the given capacities and TTL.
func New(reader store.Reader, geofenceEntries, vehicleDriverEntries int, ttl time.Duration) *Provider {
	return &Provider{
		reader:        reader,
		geofences:     newLRUCache(geofenceEntries, ttl),
		vehicleDriver: newLRUCache(vehicleDriverEntries, ttl),
	}
}

// Geofences returns all office geofences, cached.
func (p *Provider) Geofences(ctx context.Context) ([]core.OfficeGeofence, error) {
	if v, ok := p.geofences.get(geofencesKey); ok {
		return v.([]core.OfficeGeofence), nil
	}
	geofences, err := p.reader.Geofences(ctx)
	if err != nil {
		return nil, fmt.Errorf("load geofences: %w", err)
	}
	p.geofences.put(geofencesKey, geofences)
	return geofences, nil
}

// Vehicles returns the vehicle list, cached under a single key.
func (p *Provider) Vehicles(ctx context.Context) ([]core.Vehicle, error) {
	if v, ok := p.vehicleDriver.get(vehiclesKey); ok {
		return v.([]core.Vehicle), nil
	}
	vehicles, err := p.reader.Vehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vehicles: %w", err)
	}
	p.vehicleDriver.put(vehiclesKey, vehicles)
	return vehicles, nil
}

// DriverByVehicle returns the driver assigned to a vehicle, cached per
// vehicle id. A vehicle without a driver is cached as nil so repeated
// misses do not hit the store.
func (p *Provider) DriverByVehicle(ctx context.Context, vehicleID int64) (*core.Driver, error) {
	key := fmt.Sprintf("driver-%d", vehicleID)
	if v, ok := p.vehicleDriver.get(key); ok {
		if v == nil {
			return nil, nil
		}
		return v.(*core.Driver), nil
	}
	driver, err := p.reader.DriverByVehicle(ctx, vehicleID)
	if errors.Is(err, core.ErrNotFound) {
		p.vehicleDriver.put(key, nil)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load driver for vehicle %d: %w", vehicleID, err)
	}
	p.vehicleDriver.put(key, driver)
	return driver, nil
}

// EvictGeofences clears the geofence cache. Called after geofence CRUD.
func (p *Provider) EvictGeofences() {
	p.geofences.clear()
}

// EvictAll clears both caches. Called on admin reset so the next poll
// reloads fresh data from the store.
func (p *Provider) EvictAll() {
	p.geofences.clear()
	p.vehicleDriver.clear()
}

// ============================================================================
// BOUNDED TTL + LRU CACHE
// ============================================================================

type cacheEntry struct {
	key       string
	value     any
	writtenAt time.Time
}

// lruCache is a small mutex-guarded cache: map for lookup, list for
// recency order. Safe for concurrent readers with single-writer eviction.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recently used
	items    map[string]*list.Element
}

func newLRUCache(capacity int, ttl time.Duration) *lruCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &lruCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *lruCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.ttl > 0 && time.Since(entry.writtenAt) > c.ttl {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.value, true
}

func (c *lruCache) put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.writtenAt = time.Now()
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}

	el := c.order.PushFront(&cacheEntry{key: key, value: value, writtenAt: time.Now()})
	c.items[key] = el
}

func (c *lruCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

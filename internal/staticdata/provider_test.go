package staticdata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsight/backend/internal/core"
	"github.com/fleetsight/backend/internal/store"
)

// countingReader wraps the memory store and counts loads so tests can
// observe cache hits vs misses.
type countingReader struct {
	store.Reader
	mu    sync.Mutex
	loads map[string]int
}

func newCountingReader(r store.Reader) *countingReader {
	return &countingReader{Reader: r, loads: make(map[string]int)}
}

func (c *countingReader) count(key string) {
	c.mu.Lock()
	c.loads[key]++
	c.mu.Unlock()
}

func (c *countingReader) loadsFor(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads[key]
}

func (c *countingReader) Geofences(ctx context.Context) ([]core.OfficeGeofence, error) {
	c.count("geofences")
	return c.Reader.Geofences(ctx)
}

func (c *countingReader) Vehicles(ctx context.Context) ([]core.Vehicle, error) {
	c.count("vehicles")
	return c.Reader.Vehicles(ctx)
}

func (c *countingReader) DriverByVehicle(ctx context.Context, vehicleID int64) (*core.Driver, error) {
	c.count("driver")
	return c.Reader.DriverByVehicle(ctx, vehicleID)
}

func seedStore(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	v, err := mem.CreateVehicle(ctx, core.Vehicle{RegistrationNumber: "KA01AB1234", Status: core.VehicleActive})
	require.NoError(t, err)
	_, err = mem.CreateDriver(ctx, core.Driver{Name: "Vighnes Bajpai", PhoneNumber: "+91-9876543210", VehicleID: v.ID})
	require.NoError(t, err)
	_, err = mem.CreateGeofence(ctx, core.OfficeGeofence{
		Name: "Bangalore HQ", Latitude: 12.9716, Longitude: 77.5946,
		RadiusMeters: 100, Shape: core.ShapeCircular,
	})
	require.NoError(t, err)
	return mem
}

func TestReadThroughCaching(t *testing.T) {
	ctx := context.Background()
	reader := newCountingReader(seedStore(t))
	p := New(reader, 20, 50, time.Hour)

	for i := 0; i < 5; i++ {
		geofences, err := p.Geofences(ctx)
		require.NoError(t, err)
		assert.Len(t, geofences, 1)

		vehicles, err := p.Vehicles(ctx)
		require.NoError(t, err)
		assert.Len(t, vehicles, 1)

		driver, err := p.DriverByVehicle(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, driver)
		assert.Equal(t, "Vighnes Bajpai", driver.Name)
	}

	assert.Equal(t, 1, reader.loadsFor("geofences"))
	assert.Equal(t, 1, reader.loadsFor("vehicles"))
	assert.Equal(t, 1, reader.loadsFor("driver"))
}

func TestMissingDriverCachedAsNil(t *testing.T) {
	ctx := context.Background()
	reader := newCountingReader(seedStore(t))
	p := New(reader, 20, 50, time.Hour)

	for i := 0; i < 3; i++ {
		driver, err := p.DriverByVehicle(ctx, 999)
		require.NoError(t, err)
		assert.Nil(t, driver)
	}
	assert.Equal(t, 1, reader.loadsFor("driver"))
}

func TestEvictAllForcesReload(t *testing.T) {
	ctx := context.Background()
	reader := newCountingReader(seedStore(t))
	p := New(reader, 20, 50, time.Hour)

	_, err := p.Geofences(ctx)
	require.NoError(t, err)
	_, err = p.Vehicles(ctx)
	require.NoError(t, err)

	p.EvictAll()

	_, err = p.Geofences(ctx)
	require.NoError(t, err)
	_, err = p.Vehicles(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, reader.loadsFor("geofences"))
	assert.Equal(t, 2, reader.loadsFor("vehicles"))
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	reader := newCountingReader(seedStore(t))
	p := New(reader, 20, 50, 10*time.Millisecond)

	_, err := p.Geofences(ctx)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, err = p.Geofences(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.loadsFor("geofences"))
}

func TestLRUEviction(t *testing.T) {
	c := newLRUCache(2, time.Hour)
	c.put("a", 1)
	c.put("b", 2)

	// Touch "a" so "b" becomes least recently used.
	_, ok := c.get("a")
	require.True(t, ok)

	c.put("c", 3)

	_, ok = c.get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.get("a")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}

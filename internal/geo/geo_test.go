package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetsight/backend/internal/core"
)

func TestDistanceMeters(t *testing.T) {
	// Same point → zero.
	assert.Zero(t, DistanceMeters(12.9716, 77.5946, 12.9716, 77.5946))

	// Bangalore MG Road office to the seed pickup point is roughly 3 km.
	d := DistanceMeters(12.9716, 77.5946, 12.9520, 77.5750)
	assert.InDelta(t, 3050, d, 200)
}

func TestInsideCircle_BoundaryIsInside(t *testing.T) {
	center := core.LatLon{Lat: 12.9716, Lon: 77.5946}
	// A point ~100m north of the centre: 100m / 111320m per degree.
	lat := center.Lat + 100.0/111320.0

	d := DistanceMeters(lat, center.Lon, center.Lat, center.Lon)
	assert.True(t, InsideCircle(lat, center.Lon, center.Lat, center.Lon, d),
		"distance == radius must count as inside")
	assert.False(t, InsideCircle(lat, center.Lon, center.Lat, center.Lon, d-0.5))
}

func TestInsidePolygon(t *testing.T) {
	square := []core.LatLon{
		{Lat: 12.970, Lon: 77.593},
		{Lat: 12.972, Lon: 77.593},
		{Lat: 12.972, Lon: 77.596},
		{Lat: 12.970, Lon: 77.596},
	}

	assert.True(t, InsidePolygon(12.971, 77.5945, square))
	assert.False(t, InsidePolygon(12.980, 77.5945, square))
	assert.False(t, InsidePolygon(12.971, 77.600, square))
}

func TestInsidePolygon_DegenerateInput(t *testing.T) {
	assert.False(t, InsidePolygon(12.971, 77.5945, nil))
	assert.False(t, InsidePolygon(12.971, 77.5945, []core.LatLon{{Lat: 1, Lon: 1}}))
	assert.False(t, InsidePolygon(12.971, 77.5945, []core.LatLon{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}))
}

func TestInsideGeofence_ShapeDispatch(t *testing.T) {
	circular := core.OfficeGeofence{
		Latitude: 12.9716, Longitude: 77.5946, RadiusMeters: 100,
		Shape: core.ShapeCircular,
	}
	assert.True(t, InsideGeofence(12.9716, 77.5946, circular))
	assert.False(t, InsideGeofence(12.9800, 77.6050, circular))

	polygon := core.OfficeGeofence{
		Shape: core.ShapePolygon,
		Polygon: []core.LatLon{
			{Lat: 12.970, Lon: 77.593},
			{Lat: 12.972, Lon: 77.593},
			{Lat: 12.972, Lon: 77.596},
			{Lat: 12.970, Lon: 77.596},
		},
	}
	assert.True(t, InsideGeofence(12.971, 77.5945, polygon))

	// Empty shape falls back to circular containment.
	unspecified := core.OfficeGeofence{Latitude: 12.9716, Longitude: 77.5946, RadiusMeters: 100}
	assert.True(t, InsideGeofence(12.9716, 77.5946, unspecified))
}

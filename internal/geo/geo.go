// Package geo provides the geometry primitives used by the geofence engine:
// Haversine distance, point-in-circle, and point-in-polygon containment.
package geo

import (
	"math"

	"github.com/fleetsight/backend/internal/core"
)

// earthRadiusMeters is the mean Earth radius used by the Haversine formula.
const earthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two coordinates.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lon1Rad := lon1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lon2Rad := lon2 * math.Pi / 180

	deltaLat := lat2Rad - lat1Rad
	deltaLon := lon2Rad - lon1Rad

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// InsideCircle reports whether (lat, lon) lies within radiusMeters of the
// centre. A point exactly on the boundary counts as inside.
func InsideCircle(lat, lon, centerLat, centerLon, radiusMeters float64) bool {
	return DistanceMeters(lat, lon, centerLat, centerLon) <= radiusMeters
}

// InsidePolygon reports whether (lat, lon) lies inside the polygon using
// even-odd ray casting on the lat/lon plane. The vertex list is closed
// implicitly. Returns false for fewer than 3 vertices. The planar
// approximation is fine at sub-kilometre geofence scales.
func InsidePolygon(lat, lon float64, vertices []core.LatLon) bool {
	if len(vertices) < 3 {
		return false
	}

	inside := false
	j := len(vertices) - 1
	for i := 0; i < len(vertices); i++ {
		vi, vj := vertices[i], vertices[j]
		if (vi.Lon > lon) != (vj.Lon > lon) &&
			lat < (vj.Lat-vi.Lat)*(lon-vi.Lon)/(vj.Lon-vi.Lon)+vi.Lat {
			inside = !inside
		}
		j = i
	}
	return inside
}

// InsideGeofence applies the containment predicate matching the geofence
// shape. Unknown or empty shapes are treated as CIRCULAR.
func InsideGeofence(lat, lon float64, gf core.OfficeGeofence) bool {
	if gf.Shape == core.ShapePolygon {
		return InsidePolygon(lat, lon, gf.Polygon)
	}
	return InsideCircle(lat, lon, gf.Latitude, gf.Longitude, gf.RadiusMeters)
}

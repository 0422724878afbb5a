package geo

import (
	"math"

	"github.com/roadscan/roadscan/internal/models"
)

const earthRadiusM = 6371000.0

// DistanceM returns the great-circle distance between two fixes in meters,
// using the haversine formula.
func DistanceM(a, b models.GPS) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Contains reports whether p lies inside the polygon, by ray casting on the
// lat/lon plane. Polygons with fewer than three vertices contain nothing.
func Contains(polygon []models.GPS, p models.GPS) bool {
	if len(polygon) < 3 {
		return false
	}
	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		pi, pj := polygon[i], polygon[j]
		if (pi.Lon > p.Lon) != (pj.Lon > p.Lon) {
			cross := (pj.Lat-pi.Lat)*(p.Lon-pi.Lon)/(pj.Lon-pi.Lon) + pi.Lat
			if p.Lat < cross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Centroid returns the arithmetic mean of the polygon vertices. Good enough
// for nearest-segment assignment at road-segment scale.
func Centroid(polygon []models.GPS) models.GPS {
	if len(polygon) == 0 {
		return models.GPS{}
	}
	var lat, lon float64
	for _, v := range polygon {
		lat += v.Lat
		lon += v.Lon
	}
	n := float64(len(polygon))
	return models.GPS{Lat: lat / n, Lon: lon / n}
}

// Bounds computes the lat/lon envelope of a point set, nil when empty.
func Bounds(points []models.GPS) *models.GPSBounds {
	if len(points) == 0 {
		return nil
	}
	b := &models.GPSBounds{
		North: points[0].Lat,
		South: points[0].Lat,
		East:  points[0].Lon,
		West:  points[0].Lon,
	}
	for _, p := range points[1:] {
		b.North = math.Max(b.North, p.Lat)
		b.South = math.Min(b.South, p.Lat)
		b.East = math.Max(b.East, p.Lon)
		b.West = math.Min(b.West, p.Lon)
	}
	return b
}

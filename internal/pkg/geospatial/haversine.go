package geospatial

import (
	"math"

	"github.com/samirrijal/geoincidence/internal/core/domain"
)

const earthRadiusKm = 6371.0

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * 1000 // meters
}

// RoundTripError projects a geodetic point into crs and back, returning the
// displacement in meters.
func RoundTripError(t *Transformer, lon, lat float64, crs domain.CRS) (float64, error) {
	projected, err := t.Transform(domain.LonLat(lon, lat), crs)
	if err != nil {
		return 0, err
	}
	back, err := t.Transform(projected, domain.EPSG4326)
	if err != nil {
		return 0, err
	}
	return Haversine(lat, lon, back.Y, back.X), nil
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}

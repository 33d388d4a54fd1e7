package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// CRS is an EPSG coordinate reference system code.
type CRS int

const (
	// EPSG4326 is geodetic WGS84, axis order (longitude, latitude), degrees.
	EPSG4326 CRS = 4326
	// EPSG31983 is UTM zone 23 south on the WGS84 datum, meters.
	EPSG31983 CRS = 31983
)

// ToleranceMeters is the half-width of the square queried around a point.
const ToleranceMeters = 3.0

func (c CRS) String() string {
	return fmt.Sprintf("EPSG:%d", int(c))
}

// Geographic reports whether the CRS uses angular units.
func (c CRS) Geographic() bool {
	return c == EPSG4326
}

// MarshalText encodes the CRS as "EPSG:<code>".
func (c CRS) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText accepts "EPSG:<code>" or a bare code. Unlike ParseCRS it
// does not restrict the code to supported systems.
func (c *CRS) UnmarshalText(b []byte) error {
	s := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(string(b))), "EPSG:")
	code, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownCRS, s)
	}
	*c = CRS(code)
	return nil
}

// ParseCRS parses "EPSG:31983" or "31983". Only supported systems are accepted.
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.ToUpper(s), "EPSG:")
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCRS, s)
	}
	switch CRS(code) {
	case EPSG4326, EPSG31983:
		return CRS(code), nil
	}
	return 0, fmt.Errorf("%w: EPSG:%d", ErrUnknownCRS, code)
}

// Coordinate is an immutable planar or geodetic position in a named CRS.
// For EPSG:4326, X is longitude and Y is latitude.
type Coordinate struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	CRS CRS     `json:"crs"`
}

// LonLat builds a geodetic coordinate.
func LonLat(lon, lat float64) Coordinate {
	return Coordinate{X: lon, Y: lat, CRS: EPSG4326}
}

// Point returns the coordinate as an orb.Point.
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.X, c.Y}
}

// Envelope returns the square of half-width tol around the coordinate,
// expressed in the CRS's own linear unit.
func (c Coordinate) Envelope(tol float64) orb.Bound {
	return c.Point().Bound().Pad(tol)
}

// Finite reports whether both components are finite numbers.
func (c Coordinate) Finite() bool {
	return !math.IsNaN(c.X) && !math.IsInf(c.X, 0) &&
		!math.IsNaN(c.Y) && !math.IsInf(c.Y, 0)
}

// GeoPoint is a latitude/longitude pair as users type it.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Coordinate returns the point in EPSG:4326 axis order.
func (p GeoPoint) Coordinate() Coordinate {
	return LonLat(p.Lon, p.Lat)
}

// ParseGeoPoint parses raw latitude and longitude strings. A decimal comma is
// accepted. Any non-numeric or non-finite component is a ValidationError.
func ParseGeoPoint(rawLat, rawLon string) (GeoPoint, error) {
	lat, okLat := parseDecimal(rawLat)
	lon, okLon := parseDecimal(rawLon)
	if !okLat || !okLon {
		return GeoPoint{}, &ValidationError{Field: "coordinates", Message: "invalid coordinates"}
	}
	return GeoPoint{Lat: lat, Lon: lon}, nil
}

func parseDecimal(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseCoordinate parses raw x and y strings in crs, with the same rules as
// ParseGeoPoint.
func ParseCoordinate(rawX, rawY string, crs CRS) (Coordinate, error) {
	x, okX := parseDecimal(rawX)
	y, okY := parseDecimal(rawY)
	if !okX || !okY {
		return Coordinate{}, &ValidationError{Field: "coordinates", Message: "invalid coordinates"}
	}
	return Coordinate{X: x, Y: y, CRS: crs}, nil
}

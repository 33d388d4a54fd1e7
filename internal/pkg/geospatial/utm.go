package geospatial

import (
	"fmt"
	"math"

	"github.com/samirrijal/geoincidence/internal/core/domain"
)

// WGS84 ellipsoid.
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
)

// UTM constants.
const (
	utmK0            = 0.9996
	utmFalseEasting  = 500000.0
	utmFalseNorthing = 10000000.0 // southern hemisphere only

	// The Krüger series round-trips within 2 mm up to 70° from the central
	// meridian and degrades quickly beyond.
	maxMeridianOffset = 70 * math.Pi / 180
)

// Projection converts between a projected CRS and EPSG:4326.
type Projection interface {
	// FromWGS84 converts longitude/latitude in degrees to projected x/y.
	FromWGS84(lon, lat float64) (x, y float64, err error)
	// ToWGS84 converts projected x/y to longitude/latitude in degrees.
	ToWGS84(x, y float64) (lon, lat float64, err error)
	EPSG() domain.CRS
}

// ForEPSG returns the projection for code, or ErrUnknownCRS.
func ForEPSG(code domain.CRS) (Projection, error) {
	switch code {
	case domain.EPSG4326:
		return identity{}, nil
	case domain.EPSG31983:
		return utm23South, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCRS, code)
}

type identity struct{}

func (identity) FromWGS84(lon, lat float64) (float64, float64, error) { return lon, lat, nil }
func (identity) ToWGS84(x, y float64) (float64, float64, error)       { return x, y, nil }
func (identity) EPSG() domain.CRS                                     { return domain.EPSG4326 }

// TransverseMercator implements the ellipsoidal transverse Mercator projection
// with the 6th-order Krüger series, accurate to a few nanometres within
// several thousand kilometres of the central meridian.
type TransverseMercator struct {
	code          domain.CRS
	lon0          float64 // central meridian, radians
	k0            float64
	falseEasting  float64
	falseNorthing float64

	e     float64    // first eccentricity
	bigA  float64    // rectifying radius
	alpha [6]float64 // forward series
	beta  [6]float64 // inverse series
}

var utm23South = NewUTM(23, true, domain.EPSG31983)

// NewUTM builds the UTM projection for zone on the WGS84 ellipsoid.
func NewUTM(zone int, south bool, code domain.CRS) *TransverseMercator {
	tm := &TransverseMercator{
		code:         code,
		lon0:         toRad(float64(zone*6 - 183)),
		k0:           utmK0,
		falseEasting: utmFalseEasting,
	}
	if south {
		tm.falseNorthing = utmFalseNorthing
	}

	f := wgs84F
	tm.e = math.Sqrt(f * (2 - f))
	n := f / (2 - f)
	n2, n3 := n*n, n*n*n
	n4, n5, n6 := n3*n, n3*n2, n3*n3

	tm.bigA = wgs84A / (1 + n) * (1 + n2/4 + n4/64 + n6/256)

	tm.alpha = [6]float64{
		n/2 - 2*n2/3 + 5*n3/16 + 41*n4/180 - 127*n5/288 + 7891*n6/37800,
		13*n2/48 - 3*n3/5 + 557*n4/1440 + 281*n5/630 - 1983433*n6/1935360,
		61*n3/240 - 103*n4/140 + 15061*n5/26880 + 167603*n6/181440,
		49561*n4/161280 - 179*n5/168 + 6601661*n6/7257600,
		34729*n5/80640 - 3418889*n6/1995840,
		212378941 * n6 / 319334400,
	}
	tm.beta = [6]float64{
		n/2 - 2*n2/3 + 37*n3/96 - n4/360 - 81*n5/512 + 96199*n6/604800,
		n2/48 + n3/15 - 437*n4/1440 + 46*n5/105 - 1118711*n6/3870720,
		17*n3/480 - 37*n4/840 - 209*n5/4480 + 5569*n6/90720,
		4397*n4/161280 - 11*n5/504 - 830251*n6/7257600,
		4583*n5/161280 - 108847*n6/3991680,
		20648693 * n6 / 638668800,
	}
	return tm
}

func (tm *TransverseMercator) EPSG() domain.CRS { return tm.code }

func (tm *TransverseMercator) rangeReason() string {
	lon0 := tm.lon0 * 180 / math.Pi
	return fmt.Sprintf("longitude is more than 70° from the central meridian (%g°) of %s; supported longitudes are %g° to %g°",
		lon0, tm.code, lon0-70, lon0+70)
}

// FromWGS84 projects longitude/latitude in degrees to easting/northing in meters.
func (tm *TransverseMercator) FromWGS84(lon, lat float64) (float64, float64, error) {
	dLon := toRad(lon) - tm.lon0
	dLon = math.Remainder(dLon, 2*math.Pi)
	if math.Abs(dLon) > maxMeridianOffset {
		return 0, 0, &domain.InvalidCoordinateError{X: lon, Y: lat, CRS: domain.EPSG4326,
			Reason: tm.rangeReason()}
	}

	phi := toRad(lat)
	cosL, sinL := math.Cos(dLon), math.Sin(dLon)

	tau := math.Tan(phi)
	sigma := math.Sinh(tm.e * math.Atanh(tm.e*tau/math.Sqrt(1+tau*tau)))
	tauP := tau*math.Sqrt(1+sigma*sigma) - sigma*math.Sqrt(1+tau*tau)

	xiP := math.Atan2(tauP, cosL)
	etaP := math.Asinh(sinL / math.Sqrt(tauP*tauP+cosL*cosL))

	xi, eta := xiP, etaP
	for j, a := range tm.alpha {
		k := 2 * float64(j+1)
		xi += a * math.Sin(k*xiP) * math.Cosh(k*etaP)
		eta += a * math.Cos(k*xiP) * math.Sinh(k*etaP)
	}

	x := tm.k0*tm.bigA*eta + tm.falseEasting
	y := tm.k0*tm.bigA*xi + tm.falseNorthing
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return 0, 0, &domain.InvalidCoordinateError{X: lon, Y: lat, CRS: domain.EPSG4326, Reason: "projection is not finite"}
	}
	return x, y, nil
}

// ToWGS84 inverts FromWGS84.
func (tm *TransverseMercator) ToWGS84(x, y float64) (float64, float64, error) {
	eta := (x - tm.falseEasting) / (tm.k0 * tm.bigA)
	xi := (y - tm.falseNorthing) / (tm.k0 * tm.bigA)

	xiP, etaP := xi, eta
	for j, b := range tm.beta {
		k := 2 * float64(j+1)
		xiP -= b * math.Sin(k*xi) * math.Cosh(k*eta)
		etaP -= b * math.Cos(k*xi) * math.Sinh(k*eta)
	}

	sinhEtaP := math.Sinh(etaP)
	sinXiP, cosXiP := math.Sin(xiP), math.Cos(xiP)
	tauP := sinXiP / math.Sqrt(sinhEtaP*sinhEtaP+cosXiP*cosXiP)

	e2 := tm.e * tm.e
	tau := tauP
	for i := 0; i < 10; i++ {
		sigma := math.Sinh(tm.e * math.Atanh(tm.e*tau/math.Sqrt(1+tau*tau)))
		tauI := tau*math.Sqrt(1+sigma*sigma) - sigma*math.Sqrt(1+tau*tau)
		delta := (tauP - tauI) / math.Sqrt(1+tauI*tauI) *
			(1 + (1-e2)*tau*tau) / ((1 - e2) * math.Sqrt(1+tau*tau))
		tau += delta
		if math.Abs(delta) < 1e-12 {
			break
		}
	}

	lat := toDeg(math.Atan(tau))
	lon := toDeg(tm.lon0 + math.Atan2(sinhEtaP, cosXiP))
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return 0, 0, &domain.InvalidCoordinateError{X: x, Y: y, CRS: tm.code, Reason: "inverse projection is not finite"}
	}
	return lon, lat, nil
}

// Transformer converts coordinates between the supported reference systems
// by way of EPSG:4326.
type Transformer struct{}

// NewTransformer returns a Transformer.
func NewTransformer() *Transformer {
	return &Transformer{}
}

// Transform converts c into the target CRS. It fails with
// InvalidCoordinateError for non-finite or out-of-range input and with
// ErrUnknownCRS for unsupported systems.
func (t *Transformer) Transform(c domain.Coordinate, to domain.CRS) (domain.Coordinate, error) {
	if !c.Finite() {
		return domain.Coordinate{}, &domain.InvalidCoordinateError{X: c.X, Y: c.Y, CRS: c.CRS, Reason: "component is not a finite number"}
	}
	from, err := ForEPSG(c.CRS)
	if err != nil {
		return domain.Coordinate{}, err
	}
	target, err := ForEPSG(to)
	if err != nil {
		return domain.Coordinate{}, err
	}

	lon, lat, err := from.ToWGS84(c.X, c.Y)
	if err != nil {
		return domain.Coordinate{}, err
	}
	if lon < -180 || lon > 180 {
		return domain.Coordinate{}, &domain.InvalidCoordinateError{X: c.X, Y: c.Y, CRS: c.CRS, Reason: "longitude outside [-180, 180]"}
	}
	if lat < -90 || lat > 90 {
		return domain.Coordinate{}, &domain.InvalidCoordinateError{X: c.X, Y: c.Y, CRS: c.CRS, Reason: "latitude outside [-90, 90]"}
	}
	if c.CRS == to {
		return c, nil
	}

	x, y, err := target.FromWGS84(lon, lat)
	if err != nil {
		return domain.Coordinate{}, err
	}
	return domain.Coordinate{X: x, Y: y, CRS: to}, nil
}

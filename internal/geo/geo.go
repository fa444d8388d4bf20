// Package geo provides the spatial primitives behind shop search: geohash
// keys, query ranges over those keys and great-circle distances.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used for all distance math.
const EarthRadiusMeters = 6371000.0

var (
	// ErrInvalidCoordinate reports a latitude/longitude that is non-finite or out of range.
	ErrInvalidCoordinate = errors.New("geo: invalid coordinate")
	// ErrInvalidRadius reports a negative or non-finite search radius.
	ErrInvalidRadius = errors.New("geo: invalid radius")
)

// Point is a WGS84 position in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Validate checks that p is a finite coordinate inside [-90,90] x [-180,180].
func (p Point) Validate() error {
	return Validate(p.Lat, p.Lng)
}

// Validate checks a latitude/longitude pair.
func Validate(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, lat)
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, lng)
	}
	return nil
}

// ValidateRadius rejects negative and non-finite radii. Zero is allowed.
func ValidateRadius(meters float64) error {
	if math.IsNaN(meters) || math.IsInf(meters, 0) || meters < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRadius, meters)
	}
	return nil
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	sinLat := math.Sin(toRadians(b.Lat-a.Lat) / 2)
	sinLng := math.Sin(toRadians(b.Lng-a.Lng) / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// MovedBeyond reports whether to is more than thresholdMeters away from from.
// Clients use it to decide when a panned map needs a fresh search.
func MovedBeyond(from, to Point, thresholdMeters float64) bool {
	return Distance(from, to) > thresholdMeters
}

// Destination returns the point reached by travelling meters from p along the
// initial bearing (degrees clockwise from north) on a great circle.
func Destination(p Point, bearingDeg, meters float64) Point {
	delta := meters / EarthRadiusMeters
	theta := toRadians(bearingDeg)
	phi1 := toRadians(p.Lat)
	lambda1 := toRadians(p.Lng)

	sinPhi2 := math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta)
	phi2 := math.Asin(math.Max(-1, math.Min(1, sinPhi2)))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*sinPhi2,
	)

	return Point{Lat: toDegrees(phi2), Lng: wrapLongitude(toDegrees(lambda2))}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// wrapLongitude folds any longitude into [-180, 180].
func wrapLongitude(lng float64) float64 {
	if lng <= 180 && lng >= -180 {
		return lng
	}
	adjusted := lng + 180
	if adjusted > 0 {
		return math.Mod(adjusted, 360) - 180
	}
	return 180 - math.Mod(-adjusted, 360)
}

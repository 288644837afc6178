// Package geo provides coordinate validation, distance math and the device
// location lookup used when a report arrives without coordinates.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnavailable is returned by a Locator when no position can be produced.
// Callers fall back to the configured default coordinate and tag the record
// accordingly.
var ErrUnavailable = errors.New("geo: location unavailable")

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks that the coordinate is on the globe.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) {
		return fmt.Errorf("latitude is not a number")
	}
	if math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) {
		return fmt.Errorf("longitude is not a number")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]", c.Longitude)
	}
	return nil
}

// ValidLatitude reports whether v is a finite latitude in [-90, 90].
func ValidLatitude(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= -90 && v <= 90
}

// ValidLongitude reports whether v is a finite longitude in [-180, 180].
func ValidLongitude(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= -180 && v <= 180
}

const earthRadiusMeters = 6371000.0

// DistanceMeters returns the haversine great-circle distance between a and b.
func DistanceMeters(a, b Coordinate) float64 {
	dLat := degreesToRadians(b.Latitude - a.Latitude)
	dLon := degreesToRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(degreesToRadians(a.Latitude))*math.Cos(degreesToRadians(b.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// WithinRadius reports whether b lies within radiusMeters of a.
func WithinRadius(a, b Coordinate, radiusMeters float64) bool {
	return DistanceMeters(a, b) <= radiusMeters
}

// BoundingBox returns the min/max latitude and longitude of a box that
// contains the circle of radiusMeters around center. Used to prefilter
// spatial queries before the exact haversine check.
func BoundingBox(center Coordinate, radiusMeters float64) (minLat, maxLat, minLon, maxLon float64) {
	latDelta := radiusMeters / earthRadiusMeters * 180 / math.Pi
	minLat = center.Latitude - latDelta
	maxLat = center.Latitude + latDelta

	// Longitude degrees shrink with latitude. Near the poles the box
	// degenerates to the full circle.
	cosLat := math.Cos(degreesToRadians(center.Latitude))
	if cosLat < 1e-10 {
		return minLat, maxLat, -180, 180
	}
	lonDelta := latDelta / cosLat
	minLon = center.Longitude - lonDelta
	maxLon = center.Longitude + lonDelta
	return minLat, maxLat, minLon, maxLon
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

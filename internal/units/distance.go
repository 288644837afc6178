// Package units provides shared constants and validation for distance units
// and timezones used by query parameters and the daily rollups.
package units

// Distance unit constants. The database stores all distances in meters.
const (
	Meters     = "m"
	Kilometers = "km"
	Miles      = "mi"
	Feet       = "ft"
)

// ValidUnits contains all accepted distance unit values.
var ValidUnits = []string{Meters, Kilometers, Miles, Feet}

// IsValid reports whether unit is one of the accepted distance units.
func IsValid(unit string) bool {
	for _, valid := range ValidUnits {
		if unit == valid {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated list of accepted units for
// error messages.
func GetValidUnitsString() string {
	return "m, km, mi, ft"
}

// ToMeters converts a distance expressed in the given unit to meters.
// Unknown units are treated as meters.
func ToMeters(value float64, unit string) float64 {
	switch unit {
	case Kilometers:
		return value * 1000
	case Miles:
		return value * 1609.344
	case Feet:
		return value * 0.3048
	default:
		return value
	}
}

// FromMeters converts a distance in meters to the target unit.
// Unknown units are returned as meters.
func FromMeters(meters float64, targetUnit string) float64 {
	switch targetUnit {
	case Kilometers:
		return meters / 1000
	case Miles:
		return meters / 1609.344
	case Feet:
		return meters / 0.3048
	default:
		return meters
	}
}

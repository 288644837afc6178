package units

import (
	"fmt"
	"strings"
	"time"
)

// CommonTimezones is a curated list offered by the config endpoint for the
// daily-rollup timezone setting. Validation accepts anything the system tz
// database knows; this list only drives the picker.
var CommonTimezones = []string{
	"UTC",
	"America/Anchorage",
	"America/Los_Angeles",
	"America/Denver",
	"America/Phoenix",
	"America/Chicago",
	"America/New_York",
	"America/Sao_Paulo",
	"Europe/Dublin",
	"Europe/Berlin",
	"Europe/Athens",
	"Africa/Lagos",
	"Africa/Nairobi",
	"Asia/Kolkata",
	"Asia/Bangkok",
	"Asia/Singapore",
	"Asia/Seoul",
	"Australia/Sydney",
	"Pacific/Auckland",
}

// IsTimezoneValid reports whether tz loads from the system tz database.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// GetValidTimezonesString returns the curated list as a comma-separated
// string for error messages.
func GetValidTimezonesString() string {
	return strings.Join(CommonTimezones, ", ")
}

// ConvertTime converts a UTC time into the target timezone. All stored
// timestamps are UTC; conversion happens only at display and bucketing time.
func ConvertTime(utcTime time.Time, targetTimezone string) (time.Time, error) {
	if targetTimezone == "UTC" {
		return utcTime, nil
	}
	loc, err := time.LoadLocation(targetTimezone)
	if err != nil {
		return utcTime, fmt.Errorf("failed to load timezone %s: %w", targetTimezone, err)
	}
	return utcTime.In(loc), nil
}

// LocalDay returns the YYYY-MM-DD day bucket for t in loc. The rollup worker
// and the daily stats endpoint must agree on this bucketing, so both call
// through here.
func LocalDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// LocalDayBounds returns the UTC instants where the named day starts and ends
// in loc. The end bound is exclusive.
func LocalDayBounds(day string, loc *time.Location) (start, end time.Time, err error) {
	d, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return d.UTC(), d.AddDate(0, 0, 1).UTC(), nil
}

package units

import (
	"math"
	"testing"
	"time"
)

func TestIsTimezoneValid(t *testing.T) {
	tests := []struct {
		name     string
		timezone string
		expected bool
	}{
		{"valid UTC", "UTC", true},
		{"valid US Pacific", "America/Los_Angeles", true},
		{"invalid", "Invalid/Timezone", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := IsTimezoneValid(tt.timezone)
			if res != tt.expected {
				t.Errorf("IsTimezoneValid(%s) = %v, want %v", tt.timezone, res, tt.expected)
			}
		})
	}
}

func TestConvertTime(t *testing.T) {
	utcTime := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	t.Run("UTC to UTC", func(t *testing.T) {
		out, err := ConvertTime(utcTime, "UTC")
		if err != nil {
			t.Fatalf("ConvertTime error: %v", err)
		}
		if !out.Equal(utcTime) {
			t.Fatalf("ConvertTime returned %v, want %v", out, utcTime)
		}
	})

	t.Run("UTC to Pacific", func(t *testing.T) {
		out, err := ConvertTime(utcTime, "America/Los_Angeles")
		if err != nil {
			t.Fatalf("ConvertTime error: %v", err)
		}
		if !out.Equal(utcTime) {
			t.Fatal("converted time should be the same instant")
		}
		if out.Hour() == utcTime.Hour() {
			t.Fatal("converted time should display a different hour")
		}
	})

	t.Run("invalid timezone", func(t *testing.T) {
		if _, err := ConvertTime(utcTime, "Not/AZone"); err == nil {
			t.Fatal("expected error for unknown timezone")
		}
	})
}

func TestLocalDay(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	// 02:30 UTC on July 2 is still July 1 in Los Angeles.
	utc := time.Date(2026, 7, 2, 2, 30, 0, 0, time.UTC)
	if got := LocalDay(utc, loc); got != "2026-07-01" {
		t.Errorf("LocalDay = %s, want 2026-07-01", got)
	}
	if got := LocalDay(utc, time.UTC); got != "2026-07-02" {
		t.Errorf("LocalDay UTC = %s, want 2026-07-02", got)
	}
}

func TestLocalDayBounds(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	start, end, err := LocalDayBounds("2026-07-01", loc)
	if err != nil {
		t.Fatalf("LocalDayBounds: %v", err)
	}
	// July 1 in Los Angeles starts at 07:00 UTC (PDT, UTC-7).
	wantStart := time.Date(2026, 7, 1, 7, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", start, wantStart)
	}
	if got := end.Sub(start); got != 24*time.Hour {
		t.Errorf("day length = %v, want 24h", got)
	}

	if _, _, err := LocalDayBounds("not-a-day", loc); err == nil {
		t.Fatal("expected error for malformed day")
	}
}

func TestDistanceUnits(t *testing.T) {
	if !IsValid(Meters) || !IsValid(Kilometers) || !IsValid(Miles) || !IsValid(Feet) {
		t.Fatal("all declared units should validate")
	}
	if IsValid("furlong") {
		t.Fatal("unknown unit should not validate")
	}

	tests := []struct {
		name  string
		value float64
		unit  string
		want  float64
	}{
		{"km to meters", 1.5, Kilometers, 1500},
		{"miles to meters", 1, Miles, 1609.344},
		{"feet to meters", 100, Feet, 30.48},
		{"meters passthrough", 250, Meters, 250},
		{"unknown treated as meters", 250, "furlong", 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToMeters(tt.value, tt.unit)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ToMeters(%v, %s) = %v, want %v", tt.value, tt.unit, got, tt.want)
			}
			back := FromMeters(got, tt.unit)
			if math.Abs(back-tt.value) > 1e-9 {
				t.Errorf("FromMeters round trip = %v, want %v", back, tt.value)
			}
		})
	}
}

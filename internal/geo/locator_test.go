package geo

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/commons-data/shelter.report/internal/httputil"
)

func TestFixedLocator(t *testing.T) {
	want := Coordinate{Latitude: 45.5152, Longitude: -122.6784}
	loc := NewFixedLocator(want)

	got, err := loc.Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if got != want {
		t.Errorf("Locate = %+v, want %+v", got, want)
	}
}

func TestFixedLocatorHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loc := NewFixedLocator(Coordinate{})
	if _, err := loc.Locate(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Locate with canceled context = %v, want context.Canceled", err)
	}
}

func TestUnavailableLocator(t *testing.T) {
	var loc UnavailableLocator
	if _, err := loc.Locate(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Locate = %v, want ErrUnavailable", err)
	}
}

func TestHTTPLocatorParsesPosition(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"latitude": 47.6062, "longitude": -122.3321}`)

	loc := NewHTTPLocator("http://gps.local/position", mock)
	got, err := loc.Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	want := Coordinate{Latitude: 47.6062, Longitude: -122.3321}
	if got != want {
		t.Errorf("Locate = %+v, want %+v", got, want)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("RequestCount = %d, want 1", mock.RequestCount())
	}
}

func TestHTTPLocatorNoFix(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusNotFound, "")

	loc := NewHTTPLocator("http://gps.local/position", mock)
	if _, err := loc.Locate(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Locate = %v, want ErrUnavailable", err)
	}
}

func TestHTTPLocatorRejectsBadPosition(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"latitude": 91.0, "longitude": 0}`)

	loc := NewHTTPLocator("http://gps.local/position", mock)
	if _, err := loc.Locate(context.Background()); err == nil {
		t.Fatal("expected error for out-of-range position")
	}
}

func TestHTTPLocatorServesCachedOnTransportError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"latitude": 47.6062, "longitude": -122.3321}`)
	mock.AddErrorResponse(errors.New("connection refused"))

	loc := NewHTTPLocator("http://gps.local/position", mock)

	first, err := loc.Locate(context.Background())
	if err != nil {
		t.Fatalf("first Locate failed: %v", err)
	}

	second, err := loc.Locate(context.Background())
	if err != nil {
		t.Fatalf("second Locate should reuse cached fix, got error: %v", err)
	}
	if second != first {
		t.Errorf("cached position = %+v, want %+v", second, first)
	}
}

func TestHTTPLocatorErrorWithoutCache(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddErrorResponse(errors.New("connection refused"))

	loc := NewHTTPLocator("http://gps.local/position", mock)
	if _, err := loc.Locate(context.Background()); err == nil {
		t.Fatal("expected error when no cached fix exists")
	}
}

package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/commons-data/shelter.report/internal/httputil"
)

// Locator produces the device's current position. Implementations return
// ErrUnavailable when no fix exists; any other error means the lookup itself
// failed.
type Locator interface {
	Locate(ctx context.Context) (Coordinate, error)
}

// FixedLocator always reports the same coordinate. It backs the -dev mode
// and any deployment pinned to a known site.
type FixedLocator struct {
	Position Coordinate
}

// NewFixedLocator returns a locator pinned to pos.
func NewFixedLocator(pos Coordinate) *FixedLocator {
	return &FixedLocator{Position: pos}
}

func (f *FixedLocator) Locate(ctx context.Context) (Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return Coordinate{}, err
	}
	return f.Position, nil
}

// UnavailableLocator always reports ErrUnavailable. Useful in tests for the
// fallback path.
type UnavailableLocator struct{}

func (UnavailableLocator) Locate(ctx context.Context) (Coordinate, error) {
	return Coordinate{}, ErrUnavailable
}

// HTTPLocator queries a positioning service that answers GET requests with
// {"latitude": ..., "longitude": ...}. A 404 maps to ErrUnavailable.
type HTTPLocator struct {
	URL    string
	Client httputil.HTTPClient

	mu   sync.Mutex
	last *Coordinate
}

// NewHTTPLocator returns a locator backed by the service at url. A nil
// client falls back to a default StandardClient.
func NewHTTPLocator(url string, client httputil.HTTPClient) *HTTPLocator {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPLocator{URL: url, Client: client}
}

func (l *HTTPLocator) Locate(ctx context.Context) (Coordinate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return Coordinate{}, fmt.Errorf("build location request: %w", err)
	}

	resp, err := l.Client.Do(req)
	if err != nil {
		// A dead service still counts as "no fix" if we have seen one
		// before; the cached value keeps reports flowing.
		if cached := l.cached(); cached != nil {
			return *cached, nil
		}
		return Coordinate{}, fmt.Errorf("location request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Coordinate{}, ErrUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		return Coordinate{}, fmt.Errorf("location service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Coordinate{}, fmt.Errorf("read location response: %w", err)
	}

	var pos Coordinate
	if err := json.Unmarshal(body, &pos); err != nil {
		return Coordinate{}, fmt.Errorf("parse location response: %w", err)
	}
	if err := pos.Validate(); err != nil {
		return Coordinate{}, fmt.Errorf("location service returned invalid position: %w", err)
	}

	l.mu.Lock()
	l.last = &pos
	l.mu.Unlock()
	return pos, nil
}

func (l *HTTPLocator) cached() *Coordinate {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return nil
	}
	c := *l.last
	return &c
}

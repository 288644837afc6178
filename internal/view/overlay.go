package view

import (
	"sync"
	"time"

	"github.com/commons-data/shelter.report/internal/detect"
	"github.com/commons-data/shelter.report/internal/timeutil"
)

const (
	// DefaultOverlayCapacity bounds how many sightings show at once.
	DefaultOverlayCapacity = 5
	// DefaultOverlayTTL is how long a sighting stays on screen.
	DefaultOverlayTTL = 3000 * time.Millisecond
)

// OverlayRing holds the handful of most recently arrived sightings for
// transient display. It is independent of the durable view: entries expire
// on a timer and the oldest is evicted when the ring is full.
type OverlayRing struct {
	capacity int
	ttl      time.Duration
	clock    timeutil.Clock

	mu      sync.Mutex
	entries []overlayEntry
}

type overlayEntry struct {
	sighting  detect.Sighting
	expiresAt time.Time
}

// NewOverlayRing builds a ring. Zero capacity or TTL and a nil clock fall
// back to the defaults.
func NewOverlayRing(capacity int, ttl time.Duration, clock timeutil.Clock) *OverlayRing {
	if capacity <= 0 {
		capacity = DefaultOverlayCapacity
	}
	if ttl <= 0 {
		ttl = DefaultOverlayTTL
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &OverlayRing{capacity: capacity, ttl: ttl, clock: clock}
}

// Add pushes a sighting, evicting the oldest live entry if the ring is full.
func (r *OverlayRing) Add(s detect.Sighting) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.pruneLocked(now)
	if len(r.entries) >= r.capacity {
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, overlayEntry{sighting: s, expiresAt: now.Add(r.ttl)})
}

// Active returns the unexpired sightings in arrival order.
func (r *OverlayRing) Active() []detect.Sighting {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.clock.Now())
	out := make([]detect.Sighting, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.sighting
	}
	return out
}

func (r *OverlayRing) pruneLocked(now time.Time) {
	keep := r.entries[:0]
	for _, e := range r.entries {
		if now.Before(e.expiresAt) {
			keep = append(keep, e)
		}
	}
	r.entries = keep
}

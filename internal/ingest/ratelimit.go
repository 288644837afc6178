package ingest

import (
	"sync"
	"time"

	"github.com/commons-data/shelter.report/internal/timeutil"
)

// sweepThreshold is the tracked-client count above which Allow prunes
// expired windows before admitting new ones.
const sweepThreshold = 4096

// RateLimiter enforces a fixed-window per-client cap on public submissions.
// Anonymous reporting means there is no account to throttle, so the key is
// whatever the caller can attribute a request to, typically the client IP.
type RateLimiter struct {
	limit  int
	window time.Duration
	clock  timeutil.Clock

	mu     sync.Mutex
	states map[string]*windowState
}

type windowState struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter allows limit requests per key per window. A limit <= 0
// disables limiting. A nil clock uses the wall clock.
func NewRateLimiter(limit int, window time.Duration, clock timeutil.Clock) *RateLimiter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		states: make(map[string]*windowState),
	}
}

// Allow records one request for key and reports whether it fits the current
// window. When denied, the second return is how long until the window
// resets, suitable for a Retry-After header.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.states[key]
	if !ok || now.After(state.resetAt) {
		if len(l.states) >= sweepThreshold {
			l.sweepLocked(now)
		}
		state = &windowState{resetAt: now.Add(l.window)}
		l.states[key] = state
	}

	if state.count >= l.limit {
		retryAfter := state.resetAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = l.window
		}
		return false, retryAfter
	}

	state.count++
	return true, 0
}

func (l *RateLimiter) sweepLocked(now time.Time) {
	for key, state := range l.states {
		if now.After(state.resetAt) {
			delete(l.states, key)
		}
	}
}

// Tracked returns how many client windows are currently held.
func (l *RateLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

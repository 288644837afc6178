// Package view keeps a per-consumer synchronized copy of the observation
// log: seeded by a catch-up query, kept current by the live feed, reduced
// through named transitions so every state change is explicit. The copy is
// bounded to the catch-up window; it is a map client's working set, not a
// second database.
package view

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/commons-data/shelter.report/internal/config"
	"github.com/commons-data/shelter.report/internal/db"
	"github.com/commons-data/shelter.report/internal/detect"
	"github.com/commons-data/shelter.report/internal/metrics"
	"github.com/commons-data/shelter.report/internal/monitoring"
	"github.com/commons-data/shelter.report/internal/stats"
	"github.com/commons-data/shelter.report/internal/timeutil"
)

// DefaultCatchUpLimit is the catch-up window when none is configured.
const DefaultCatchUpLimit = 50

// Status is the connection state of a synchronizer.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusLive         Status = "live"
	StatusDisconnected Status = "disconnected"
)

// Feed is the slice of the broadcast channel a view consumes.
type Feed interface {
	Subscribe() (string, <-chan db.Observation)
	Unsubscribe(id string)
}

// CatchUpStore serves the most-recent window used to seed and reseed state.
type CatchUpStore interface {
	RecentObservations(ctx context.Context, limit int) ([]db.Observation, error)
}

// Synchronizer merges catch-up history and live deliveries into one ordered,
// bounded event set. Merging is idempotent by id: the same event arriving
// via both paths collapses to a single entry.
type Synchronizer struct {
	Feed    Feed
	Store   CatchUpStore
	Clock   timeutil.Clock
	Metrics *metrics.Metrics // optional

	// Limit bounds both the catch-up query and the retained event set.
	Limit int

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// Overlay receives every newly merged live event for transient display.
	Overlay *OverlayRing

	statsOpts stats.Options

	mu         sync.Mutex
	active     bool
	recording  bool
	status     Status
	byID       map[string]struct{}
	events     []db.Observation
	version    uint64
	duplicates uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

// Snapshot is the state handed to renderers and pollers.
type Snapshot struct {
	Recording  bool             `json:"recording"`
	Status     Status           `json:"connection_status"`
	Version    uint64           `json:"version"`
	Duplicates uint64           `json:"duplicates_merged"`
	Events     []db.Observation `json:"events"`
	Stats      stats.Summary    `json:"stats"`
}

// NewSynchronizer wires a synchronizer against the feed and store with the
// pipeline's window sizes.
func NewSynchronizer(f Feed, store CatchUpStore, cfg *config.PipelineConfig) *Synchronizer {
	if cfg == nil {
		cfg = config.EmptyPipelineConfig()
	}
	s := &Synchronizer{
		Feed:             f,
		Store:            store,
		Clock:            timeutil.RealClock{},
		Limit:            cfg.GetCatchUpLimit(),
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     10 * time.Second,
		statsOpts:        stats.Options{TopK: cfg.GetTopK(), RecentWindow: cfg.GetRecentWindow()},
		status:           StatusDisconnected,
		byID:             make(map[string]struct{}),
	}
	s.Overlay = NewOverlayRing(cfg.GetOverlayCapacity(), cfg.GetOverlayTTL(), s.Clock)
	return s
}

// Activate subscribes to the live feed, seeds state with one catch-up query
// and starts the merge loop. Subscribing happens before the query so events
// committed during catch-up wait in the queue and collapse in the merge
// instead of falling into a gap.
func (s *Synchronizer) Activate(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return errors.New("view: already active")
	}
	s.active = true
	s.status = StatusConnecting
	s.version++
	s.mu.Unlock()

	subID, ch := s.Feed.Subscribe()
	if err := s.catchUp(ctx); err != nil {
		s.Feed.Unsubscribe(subID)
		s.mu.Lock()
		s.active = false
		s.status = StatusDisconnected
		s.version++
		s.mu.Unlock()
		return fmt.Errorf("initial catch-up: %w", err)
	}
	s.setStatus(StatusLive)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	go s.run(runCtx, subID, ch, done)
	return nil
}

// Deactivate tears down the subscription and stops the merge loop, blocking
// until the loop has exited. Safe to call when not active.
func (s *Synchronizer) Deactivate() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.active = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.setStatus(StatusDisconnected)
}

// ToggleRecording flips the capture toggle and returns the new state.
func (s *Synchronizer) ToggleRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recording = !s.recording
	s.version++
	return s.recording
}

// Snapshot copies the current view. The stats summary is recomputed over
// the bounded event set on every call so it always agrees with Events.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	events := make([]db.Observation, len(s.events))
	copy(events, s.events)
	snap := Snapshot{
		Recording:  s.recording,
		Status:     s.status,
		Version:    s.version,
		Duplicates: s.duplicates,
		Events:     events,
	}
	s.mu.Unlock()
	snap.Stats = stats.Compute(events, s.statsOpts)
	return snap
}

// Status returns the current connection state.
func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Version returns the change counter. It bumps on every applied merge,
// status transition and recording toggle.
func (s *Synchronizer) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Synchronizer) run(ctx context.Context, subID string, ch <-chan db.Observation, done chan struct{}) {
	defer close(done)
	for {
		open := true
		for open {
			select {
			case <-ctx.Done():
				s.Feed.Unsubscribe(subID)
				return
			case obs, ok := <-ch:
				if !ok {
					open = false
					break
				}
				s.eventReceived(obs)
			}
		}

		// The live channel closed underneath us. Reconnect with a fresh
		// catch-up; never assume continuity across the gap.
		s.setStatus(StatusDisconnected)
		if s.Metrics != nil {
			s.Metrics.SyncReconnects.Inc()
		}
		var err error
		subID, ch, err = s.reconnect(ctx)
		if err != nil {
			return
		}
		s.setStatus(StatusLive)
	}
}

// reconnect keeps trying with exponential backoff, bounded at ReconnectMax,
// until a subscribe plus catch-up succeeds or ctx ends.
func (s *Synchronizer) reconnect(ctx context.Context) (string, <-chan db.Observation, error) {
	clock := s.clock()
	d := s.ReconnectInitial
	for {
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-clock.After(d):
		}

		subID, ch := s.Feed.Subscribe()
		err := s.catchUp(ctx)
		if err == nil {
			return subID, ch, nil
		}
		s.Feed.Unsubscribe(subID)
		monitoring.Logf("view: catch-up failed during reconnect, backing off: %v", err)

		d *= 2
		if d > s.ReconnectMax {
			d = s.ReconnectMax
		}
	}
}

func (s *Synchronizer) catchUp(ctx context.Context) error {
	events, err := s.Store.RecentObservations(ctx, s.limit())
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, obs := range events {
		s.mergeLocked(obs)
	}
	s.mu.Unlock()
	if s.Metrics != nil {
		s.Metrics.SyncCatchUps.Inc()
	}
	return nil
}

func (s *Synchronizer) eventReceived(obs db.Observation) {
	s.mu.Lock()
	merged := s.mergeLocked(obs)
	s.mu.Unlock()
	if merged && s.Overlay != nil {
		s.Overlay.Add(detect.Sighting{Observation: obs})
	}
}

// mergeLocked inserts obs keeping recorded_at-descending, id-ascending
// order. Duplicates and events older than a full window are no-ops.
func (s *Synchronizer) mergeLocked(obs db.Observation) bool {
	if _, ok := s.byID[obs.ID]; ok {
		s.duplicates++
		if s.Metrics != nil {
			s.Metrics.SyncDuplicates.Inc()
		}
		return false
	}
	limit := s.limit()
	i := sort.Search(len(s.events), func(i int) bool {
		return observationBefore(obs, s.events[i])
	})
	if i >= limit && len(s.events) >= limit {
		return false
	}
	s.events = append(s.events, db.Observation{})
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = obs
	s.byID[obs.ID] = struct{}{}
	for len(s.events) > limit {
		last := s.events[len(s.events)-1]
		delete(s.byID, last.ID)
		s.events = s.events[:len(s.events)-1]
	}
	s.version++
	return true
}

// observationBefore orders newest first, id ascending on equal timestamps.
func observationBefore(a, b db.Observation) bool {
	if a.RecordedAt != b.RecordedAt {
		return a.RecordedAt > b.RecordedAt
	}
	return a.ID < b.ID
}

func (s *Synchronizer) setStatus(st Status) {
	s.mu.Lock()
	if s.status != st {
		s.status = st
		s.version++
	}
	s.mu.Unlock()
}

func (s *Synchronizer) limit() int {
	if s.Limit > 0 {
		return s.Limit
	}
	return DefaultCatchUpLimit
}

func (s *Synchronizer) clock() timeutil.Clock {
	if s.Clock != nil {
		return s.Clock
	}
	return timeutil.RealClock{}
}

package detect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/commons-data/shelter.report/internal/db"
	"github.com/commons-data/shelter.report/internal/geo"
	"github.com/commons-data/shelter.report/internal/metrics"
	"github.com/commons-data/shelter.report/internal/monitoring"
	"github.com/commons-data/shelter.report/internal/timeutil"
)

// DefaultScanInterval is how often the scanner captures when not configured.
const DefaultScanInterval = 2 * time.Second

// Submitter accepts an observation for validation and storage. The ingestion
// gateway implements it.
type Submitter interface {
	Submit(ctx context.Context, obs db.Observation) (*db.Observation, error)
}

// Scanner is the capture producer: every tick it takes a frame, runs the
// detector, normalizes the candidates and submits them. Each tick runs in
// its own goroutine so a slow detector or submit never delays the next
// capture.
type Scanner struct {
	Detector  Detector
	Locator   geo.Locator
	Submitter Submitter

	// Fallback is used whenever the locator has no fix; records carry
	// the fallback location source so consumers can tell.
	Fallback geo.Coordinate

	// Overlay, when set, receives every sighting for transient display.
	Overlay func(Sighting)

	// MinConfidence discards candidates below the threshold before they
	// reach the gateway. Zero keeps everything.
	MinConfidence float64

	Interval time.Duration
	Clock    timeutil.Clock
	Metrics  *metrics.Metrics // optional
}

// NewScanner wires the capture loop with defaults for interval and clock.
func NewScanner(detector Detector, locator geo.Locator, submitter Submitter, fallback geo.Coordinate) *Scanner {
	return &Scanner{
		Detector:  detector,
		Locator:   locator,
		Submitter: submitter,
		Fallback:  fallback,
		Interval:  DefaultScanInterval,
		Clock:     timeutil.RealClock{},
	}
}

// Run ticks until ctx is cancelled, then waits for in-flight scans to finish
// before returning. Always returns ctx.Err().
func (s *Scanner) Run(ctx context.Context) error {
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultScanInterval
	}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			seq++
			if s.Metrics != nil {
				s.Metrics.CaptureTicks.Inc()
			}
			wg.Add(1)
			go func(seq uint64) {
				defer wg.Done()
				s.scanOnce(ctx, clock, seq)
			}(seq)
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context, clock timeutil.Clock, seq uint64) {
	started := clock.Now()
	defer func() {
		if s.Metrics != nil {
			s.Metrics.ScanDuration.Observe(clock.Since(started).Seconds())
		}
	}()

	frame := Frame{Seq: seq, CapturedAt: started}
	candidates, err := s.Detector.Detect(ctx, frame)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			monitoring.Logf("scanner: detect failed on frame %d: %v", seq, err)
		}
		return
	}
	if len(candidates) == 0 {
		return
	}

	coord, source := s.locate(ctx)
	for _, cand := range candidates {
		if cand.Confidence < s.MinConfidence {
			continue
		}
		sighting := Normalize(cand, coord, source, clock)
		if s.Overlay != nil {
			s.Overlay(sighting)
		}
		if _, err := s.Submitter.Submit(ctx, sighting.Observation); err != nil {
			monitoring.Logf("scanner: submit failed on frame %d: %v", seq, err)
		}
	}
}

// locate resolves the current coordinate, falling back to the configured
// default when the locator signals unavailability.
func (s *Scanner) locate(ctx context.Context) (geo.Coordinate, string) {
	if s.Locator == nil {
		return s.Fallback, db.LocationFallback
	}
	coord, err := s.Locator.Locate(ctx)
	if err != nil {
		if !errors.Is(err, geo.ErrUnavailable) {
			monitoring.Logf("scanner: locator failed: %v", err)
		}
		return s.Fallback, db.LocationFallback
	}
	return coord, db.LocationDevice
}

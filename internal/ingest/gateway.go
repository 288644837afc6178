// Package ingest is the validation boundary in front of the observation
// store. Every submission, whether from the capture loop or the public API,
// goes through Gateway.Submit: validate, then commit with bounded retry.
package ingest

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/commons-data/shelter.report/internal/config"
	"github.com/commons-data/shelter.report/internal/db"
	"github.com/commons-data/shelter.report/internal/geo"
	"github.com/commons-data/shelter.report/internal/metrics"
	"github.com/commons-data/shelter.report/internal/monitoring"
	"github.com/commons-data/shelter.report/internal/retryutil"
	"github.com/commons-data/shelter.report/internal/timeutil"
)

// ValidationError names the first field that failed validation. Nothing is
// committed when one is returned.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Store is the slice of the database layer the gateway writes through.
type Store interface {
	InsertObservation(ctx context.Context, obs *db.Observation) error
}

// Gateway validates candidates and appends them to the store. A write that
// still fails after every retry flips the gateway into degraded mode, which
// stays visible until the next successful commit.
type Gateway struct {
	Store   Store
	Clock   timeutil.Clock
	Metrics *metrics.Metrics // optional

	attempts int
	initial  time.Duration
	maxWait  time.Duration

	degraded atomic.Bool
}

// NewGateway wires a gateway with the pipeline's retry policy.
func NewGateway(store Store, cfg *config.PipelineConfig) *Gateway {
	if cfg == nil {
		cfg = config.EmptyPipelineConfig()
	}
	return &Gateway{
		Store:    store,
		Clock:    timeutil.RealClock{},
		attempts: cfg.GetRetryAttempts(),
		initial:  cfg.GetRetryInitialBackoff(),
		maxWait:  cfg.GetRetryMaxBackoff(),
	}
}

// Validate checks the payload in a fixed order and returns the first
// failure: object_type, context, confidence, then coordinates.
func Validate(obs db.Observation) *ValidationError {
	if !obs.ObjectType.Valid() {
		return &ValidationError{Field: "object_type", Reason: fmt.Sprintf("unknown object type %q", obs.ObjectType)}
	}
	if !obs.Context.Valid() {
		return &ValidationError{Field: "context", Reason: fmt.Sprintf("unknown context %q", obs.Context)}
	}
	if math.IsNaN(obs.Confidence) || obs.Confidence < 0 || obs.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%v outside [0, 1]", obs.Confidence)}
	}
	if !geo.ValidLatitude(obs.Latitude) {
		return &ValidationError{Field: "lat", Reason: fmt.Sprintf("%v outside [-90, 90]", obs.Latitude)}
	}
	if !geo.ValidLongitude(obs.Longitude) {
		return &ValidationError{Field: "lon", Reason: fmt.Sprintf("%v outside [-180, 180]", obs.Longitude)}
	}
	return nil
}

// Submit validates obs and commits it, returning the stored record with id
// and recorded_at assigned. Identity is store-assigned: any caller-supplied
// id or recorded_at is discarded. A zero observed_at is stamped with the
// current time so hand-built API payloads need not carry one.
func (g *Gateway) Submit(ctx context.Context, obs db.Observation) (*db.Observation, error) {
	if verr := Validate(obs); verr != nil {
		if g.Metrics != nil {
			g.Metrics.IngestRejected.WithLabelValues(verr.Field).Inc()
		}
		return nil, verr
	}

	obs.ID = ""
	obs.RecordedAt = 0
	if obs.ObservedAt == 0 {
		obs.ObservedAt = float64(g.now().UnixNano()) / 1e9
	}
	// Only the capture loop may claim the fallback source; anything else
	// normalizes to "device".
	if obs.LocationSource != db.LocationFallback {
		obs.LocationSource = db.LocationDevice
	}

	attempt := 0
	err := retryutil.Retry(ctx, g.attempts, g.initial, g.maxWait, func() error {
		attempt++
		if attempt > 1 && g.Metrics != nil {
			g.Metrics.IngestRetries.Inc()
		}
		return g.Store.InsertObservation(ctx, &obs)
	})
	if err != nil {
		// A cancelled caller is not a storage failure.
		if ctx.Err() == nil {
			g.markDegraded(err)
		}
		return nil, fmt.Errorf("store observation: %w", err)
	}

	g.markHealthy()
	if g.Metrics != nil {
		g.Metrics.ObservationsIngested.WithLabelValues(string(obs.ObjectType)).Inc()
	}
	return &obs, nil
}

// Degraded reports whether the most recent commit attempt exhausted its
// retries. The health endpoint surfaces this.
func (g *Gateway) Degraded() bool { return g.degraded.Load() }

func (g *Gateway) now() time.Time {
	if g.Clock != nil {
		return g.Clock.Now()
	}
	return time.Now()
}

func (g *Gateway) markDegraded(err error) {
	if g.Metrics != nil {
		g.Metrics.DegradedWrites.Inc()
		g.Metrics.IngestDegraded.Set(1)
	}
	if !g.degraded.Swap(true) {
		monitoring.Logf("ingest: storage writes failing, entering degraded mode: %v", err)
	}
}

func (g *Gateway) markHealthy() {
	if g.Metrics != nil {
		g.Metrics.IngestDegraded.Set(0)
	}
	if g.degraded.Swap(false) {
		monitoring.Logf("ingest: storage writes recovered")
	}
}

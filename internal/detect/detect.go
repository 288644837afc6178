// Package detect defines the detector seam and the capture producer that
// feeds it. A Detector turns a visual frame into zero or more candidates;
// the Scanner ticks, detects, normalizes and submits. Frames are handed to
// the detector and never retained.
package detect

import (
	"context"
	"time"

	"github.com/commons-data/shelter.report/internal/db"
	"github.com/commons-data/shelter.report/internal/geo"
	"github.com/commons-data/shelter.report/internal/timeutil"
)

// Frame is one captured visual frame. Data is opaque to this package: it is
// passed through to the detector and discarded afterwards.
type Frame struct {
	Seq        uint64
	CapturedAt time.Time
	Data       []byte
}

// BoundingBox locates a candidate within its frame, in normalized [0,1]
// coordinates. It drives the transient overlay only and is never persisted.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Candidate is a detector guess: what was seen, where it was seen and how
// sure the detector is. Values are unvalidated; the ingestion gateway is the
// arbiter of what gets stored.
type Candidate struct {
	ObjectType db.ObjectType `json:"object_type"`
	Setting    db.Setting    `json:"context"`
	Confidence float64       `json:"confidence"`
	Box        BoundingBox   `json:"box"`
}

// Detector yields candidates from a frame. Implementations may be a local
// mock, a scripted test double, or a remote vision service.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]Candidate, error)
}

// Sighting pairs an uncommitted observation with the bounding box that
// produced it. The box exists only for overlay presentation.
type Sighting struct {
	Observation db.Observation
	Box         BoundingBox
}

// Normalize turns a candidate plus a resolved coordinate into a storable
// observation. observed_at is stamped from the clock; id and recorded_at
// stay empty for the store to assign. Pure transform, no validation.
func Normalize(cand Candidate, coord geo.Coordinate, source string, clock timeutil.Clock) Sighting {
	return Sighting{
		Observation: db.Observation{
			Latitude:       coord.Latitude,
			Longitude:      coord.Longitude,
			ObjectType:     cand.ObjectType,
			Context:        cand.Setting,
			Confidence:     cand.Confidence,
			ObservedAt:     float64(clock.Now().UnixNano()) / 1e9,
			LocationSource: source,
		},
		Box: cand.Box,
	}
}

package detect

import (
	"context"
	"math/rand"
	"sync"

	"github.com/commons-data/shelter.report/internal/db"
)

// MockDetector emits a seeded pseudo-random stream of plausible candidates.
// It stands in for a real vision service in dev mode: roughly a third of
// frames come back empty, the rest carry one or two candidates.
type MockDetector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockDetector seeds the generator. The same seed replays the same
// candidate stream.
func NewMockDetector(seed int64) *MockDetector {
	return &MockDetector{rng: rand.New(rand.NewSource(seed))}
}

func (m *MockDetector) Detect(ctx context.Context, frame Frame) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.rng.Intn(3) {
	case 0:
		return nil, nil
	case 1:
		return []Candidate{m.randomCandidate()}, nil
	default:
		return []Candidate{m.randomCandidate(), m.randomCandidate()}, nil
	}
}

func (m *MockDetector) randomCandidate() Candidate {
	x := m.rng.Float64() * 0.8
	y := m.rng.Float64() * 0.8
	return Candidate{
		ObjectType: db.ObjectTypes[m.rng.Intn(len(db.ObjectTypes))],
		Setting:    db.Settings[m.rng.Intn(len(db.Settings))],
		Confidence: 0.05 + m.rng.Float64()*0.94,
		Box: BoundingBox{
			X:      x,
			Y:      y,
			Width:  0.05 + m.rng.Float64()*(1-x-0.05),
			Height: 0.05 + m.rng.Float64()*(1-y-0.05),
		},
	}
}

type scriptedResult struct {
	candidates []Candidate
	err        error
}

// ScriptedDetector replays queued results in order. Tests enqueue the exact
// candidates and failures they want the scanner to see; an exhausted queue
// detects nothing.
type ScriptedDetector struct {
	mu      sync.Mutex
	queue   []scriptedResult
	calls   int
	lastSeq uint64
}

func NewScriptedDetector() *ScriptedDetector {
	return &ScriptedDetector{}
}

// Enqueue appends one detection result to the script.
func (s *ScriptedDetector) Enqueue(candidates ...Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scriptedResult{candidates: candidates})
}

// EnqueueError appends a failing detection to the script.
func (s *ScriptedDetector) EnqueueError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scriptedResult{err: err})
}

func (s *ScriptedDetector) Detect(ctx context.Context, frame Frame) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastSeq = frame.Seq

	if len(s.queue) == 0 {
		return nil, nil
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	return next.candidates, next.err
}

// Calls reports how many times Detect has run.
func (s *ScriptedDetector) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LastSeq reports the frame sequence of the most recent Detect call.
func (s *ScriptedDetector) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

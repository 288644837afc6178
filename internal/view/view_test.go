package view

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commons-data/shelter.report/internal/db"
	"github.com/commons-data/shelter.report/internal/feed"
	"github.com/commons-data/shelter.report/internal/metrics"
	"github.com/commons-data/shelter.report/internal/timeutil"
)

func event(id string, recordedAt float64) db.Observation {
	return db.Observation{
		ID:         id,
		Latitude:   45.5,
		Longitude:  -122.6,
		ObjectType: db.ObjectTent,
		Context:    db.SettingPark,
		Confidence: 0.8,
		ObservedAt: recordedAt,
		RecordedAt: recordedAt,
	}
}

// fakeCatchUpStore serves a newest-first window like the real store.
type fakeCatchUpStore struct {
	mu     sync.Mutex
	events []db.Observation
	err    error
	calls  int
}

func (f *fakeCatchUpStore) RecentObservations(ctx context.Context, limit int) ([]db.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	n := len(f.events)
	if n > limit {
		n = limit
	}
	out := make([]db.Observation, n)
	copy(out, f.events[:n])
	return out, nil
}

func (f *fakeCatchUpStore) setEvents(events ...db.Observation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = events
}

func (f *fakeCatchUpStore) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeCatchUpStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// scriptedFeed is a Feed whose disconnects the test controls.
type scriptedFeed struct {
	mu         sync.Mutex
	subs       map[string]chan db.Observation
	seq        int
	subscribed int
}

func newScriptedFeed() *scriptedFeed {
	return &scriptedFeed{subs: make(map[string]chan db.Observation)}
}

func (f *scriptedFeed) Subscribe() (string, <-chan db.Observation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.subscribed++
	id := fmt.Sprintf("sub-%d", f.seq)
	ch := make(chan db.Observation, 16)
	f.subs[id] = ch
	return id, ch
}

func (f *scriptedFeed) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
}

// dropAll closes every subscriber channel, simulating a feed-side disconnect.
func (f *scriptedFeed) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
}

func (f *scriptedFeed) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed
}

func (f *scriptedFeed) liveSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func TestActivateSeedsFromCatchUp(t *testing.T) {
	t.Parallel()

	f := feed.NewFeed(0)
	defer f.Close()
	store := &fakeCatchUpStore{}
	store.setEvents(event("c", 3), event("b", 2), event("a", 1))

	s := NewSynchronizer(f, store, nil)
	s.Metrics = metrics.New()
	require.NoError(t, s.Activate(context.Background()))
	defer s.Deactivate()

	assert.Equal(t, StatusLive, s.Status())
	assert.Equal(t, 1, store.callCount())

	snap := s.Snapshot()
	require.Len(t, snap.Events, 3)
	assert.Equal(t, "c", snap.Events[0].ID)
	assert.Equal(t, "b", snap.Events[1].ID)
	assert.Equal(t, "a", snap.Events[2].ID)
	assert.Equal(t, 3, snap.Stats.Total)
	assert.NotZero(t, snap.Version)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.SyncCatchUps))
}

func TestActivateTwiceFails(t *testing.T) {
	t.Parallel()

	f := feed.NewFeed(0)
	defer f.Close()
	s := NewSynchronizer(f, &fakeCatchUpStore{}, nil)
	require.NoError(t, s.Activate(context.Background()))
	defer s.Deactivate()

	assert.Error(t, s.Activate(context.Background()))
}

func TestActivateCatchUpFailureRollsBack(t *testing.T) {
	t.Parallel()

	f := feed.NewFeed(0)
	defer f.Close()
	store := &fakeCatchUpStore{}
	store.setErr(assert.AnError)

	s := NewSynchronizer(f, store, nil)
	err := s.Activate(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusDisconnected, s.Status())
	assert.Zero(t, f.Stats().Subscribers, "failed activation must not leak a subscription")

	// A later attempt works once the store recovers.
	store.setErr(nil)
	require.NoError(t, s.Activate(context.Background()))
	s.Deactivate()
}

func TestLiveEventsMergeInOrder(t *testing.T) {
	t.Parallel()

	f := feed.NewFeed(0)
	defer f.Close()
	s := NewSynchronizer(f, &fakeCatchUpStore{}, nil)
	require.NoError(t, s.Activate(context.Background()))
	defer s.Deactivate()

	f.Publish(event("old", 10))
	f.Publish(event("new", 20))

	require.Eventually(t, func() bool {
		return len(s.Snapshot().Events) == 2
	}, 2*time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, "new", snap.Events[0].ID)
	assert.Equal(t, "old", snap.Events[1].ID)
}

func TestMergeIsIdempotentByID(t *testing.T) {
	t.Parallel()

	f := feed.NewFeed(0)
	defer f.Close()
	store := &fakeCatchUpStore{}
	store.setEvents(event("x", 5))

	s := NewSynchronizer(f, store, nil)
	s.Metrics = metrics.New()
	require.NoError(t, s.Activate(context.Background()))
	defer s.Deactivate()

	// The same record arrives again over the live path, as happens when a
	// commit races the catch-up query.
	f.Publish(event("x", 5))

	require.Eventually(t, func() bool {
		return s.Snapshot().Duplicates == 1
	}, 2*time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "x", snap.Events[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.SyncDuplicates))
}

func TestViewStaysBoundedToWindow(t *testing.T) {
	t.Parallel()

	f := feed.NewFeed(0)
	defer f.Close()
	s := NewSynchronizer(f, &fakeCatchUpStore{}, nil)
	s.Limit = 3
	require.NoError(t, s.Activate(context.Background()))
	defer s.Deactivate()

	for i := 1; i <= 5; i++ {
		f.Publish(event(fmt.Sprintf("e%d", i), float64(i)))
	}

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return len(snap.Events) == 3 && snap.Events[0].ID == "e5"
	}, 2*time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, "e5", snap.Events[0].ID)
	assert.Equal(t, "e4", snap.Events[1].ID)
	assert.Equal(t, "e3", snap.Events[2].ID)

	// An event older than everything in a full window never enters.
	f.Publish(event("stale", 0.5))
	f.Publish(event("e6", 6))
	require.Eventually(t, func() bool {
		return s.Snapshot().Events[0].ID == "e6"
	}, 2*time.Second, 5*time.Millisecond)
	for _, ev := range s.Snapshot().Events {
		assert.NotEqual(t, "stale", ev.ID)
	}
}

func TestLiveMergePushesOverlay(t *testing.T) {
	t.Parallel()

	f := feed.NewFeed(0)
	defer f.Close()
	s := NewSynchronizer(f, &fakeCatchUpStore{}, nil)
	require.NoError(t, s.Activate(context.Background()))
	defer s.Deactivate()

	f.Publish(event("seen", 1))

	require.Eventually(t, func() bool {
		active := s.Overlay.Active()
		return len(active) == 1 && active[0].Observation.ID == "seen"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconnectRunsFreshCatchUp(t *testing.T) {
	t.Parallel()

	f := newScriptedFeed()
	store := &fakeCatchUpStore{}
	store.setEvents(event("a", 1))
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))

	s := NewSynchronizer(f, store, nil)
	s.Clock = clock
	s.Metrics = metrics.New()
	require.NoError(t, s.Activate(context.Background()))
	defer s.Deactivate()
	require.Equal(t, 1, store.callCount())

	// An event commits while the live channel is down; only the fresh
	// catch-up can surface it.
	store.setEvents(event("b", 2), event("a", 1))
	f.dropAll()

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return s.Status() == StatusLive && store.callCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	require.Len(t, snap.Events, 2)
	assert.Equal(t, "b", snap.Events[0].ID)
	assert.Equal(t, 2, f.subscribeCount())
	assert.Equal(t, 1, f.liveSubs())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.SyncReconnects))
}

func TestReconnectBacksOffWhileCatchUpFails(t *testing.T) {
	t.Parallel()

	f := newScriptedFeed()
	store := &fakeCatchUpStore{}
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))

	s := NewSynchronizer(f, store, nil)
	s.Clock = clock
	require.NoError(t, s.Activate(context.Background()))
	defer s.Deactivate()

	store.setErr(assert.AnError)
	f.dropAll()

	// Each failed attempt subscribes, fails catch-up and unsubscribes.
	require.Eventually(t, func() bool {
		clock.Advance(15 * time.Second)
		return store.callCount() >= 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusDisconnected, s.Status())
	assert.Zero(t, f.liveSubs(), "failed attempts must not leak subscriptions")

	store.setErr(nil)
	require.Eventually(t, func() bool {
		clock.Advance(15 * time.Second)
		return s.Status() == StatusLive
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.liveSubs())
}

func TestDeactivateStopsLoopAndUnsubscribes(t *testing.T) {
	t.Parallel()

	f := feed.NewFeed(0)
	defer f.Close()
	s := NewSynchronizer(f, &fakeCatchUpStore{}, nil)
	require.NoError(t, s.Activate(context.Background()))
	require.Equal(t, 1, f.Stats().Subscribers)

	s.Deactivate()
	assert.Equal(t, StatusDisconnected, s.Status())
	assert.Zero(t, f.Stats().Subscribers)

	// Idempotent.
	s.Deactivate()

	// Events published after deactivation never arrive.
	before := s.Snapshot().Version
	f.Publish(event("late", 99))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, s.Snapshot().Version)
	assert.Empty(t, s.Snapshot().Events)
}

func TestToggleRecording(t *testing.T) {
	t.Parallel()

	s := NewSynchronizer(newScriptedFeed(), &fakeCatchUpStore{}, nil)

	v0 := s.Snapshot().Version
	assert.True(t, s.ToggleRecording())
	assert.True(t, s.Snapshot().Recording)
	assert.Greater(t, s.Snapshot().Version, v0)

	assert.False(t, s.ToggleRecording())
	assert.False(t, s.Snapshot().Recording)
}

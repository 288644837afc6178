package feed

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/commons-data/shelter.report/internal/db"
)

func makeObs(id string) db.Observation {
	return db.Observation{
		ID:         id,
		Latitude:   45.5,
		Longitude:  -122.6,
		ObjectType: db.ObjectTent,
		Context:    db.SettingStreet,
		Confidence: 0.8,
	}
}

func TestSubscribeReceivesInOrder(t *testing.T) {
	f := NewFeed(8)
	defer f.Close()

	id, ch := f.Subscribe()
	defer f.Unsubscribe(id)

	for i := 0; i < 5; i++ {
		f.Publish(makeObs(fmt.Sprintf("obs-%d", i)))
	}

	for i := 0; i < 5; i++ {
		select {
		case obs := <-ch:
			want := fmt.Sprintf("obs-%d", i)
			if obs.ID != want {
				t.Errorf("position %d: got %s, want %s", i, obs.ID, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for observation %d", i)
		}
	}
}

// A saturated queue evicts its oldest entries: after publishing past
// capacity, the queue holds the newest observations, not the earliest.
func TestSaturatedQueueDropsOldest(t *testing.T) {
	f := NewFeed(2)
	defer f.Close()

	id, ch := f.Subscribe()
	defer f.Unsubscribe(id)

	f.Publish(makeObs("first"))
	f.Publish(makeObs("second"))
	f.Publish(makeObs("third")) // evicts "first"

	got := []string{(<-ch).ID, (<-ch).ID}
	if got[0] != "second" || got[1] != "third" {
		t.Errorf("queue contents after eviction: %v, want [second third]", got)
	}

	stats := f.Stats()
	if stats.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", stats.Dropped)
	}
	if stats.DroppedBy[id] != 1 {
		t.Errorf("dropped for %s = %d, want 1", id, stats.DroppedBy[id])
	}
	if f.Drops(id) != 1 {
		t.Errorf("Drops(%s) = %d, want 1", id, f.Drops(id))
	}
	if f.Drops("unknown") != 0 {
		t.Error("Drops for unknown id should be 0")
	}
}

// One slow subscriber must not cost a fast subscriber anything.
func TestSlowSubscriberIsolated(t *testing.T) {
	f := NewFeed(2)
	defer f.Close()

	slowID, slowCh := f.Subscribe()
	fastID, fastCh := f.Subscribe()
	defer f.Unsubscribe(slowID)
	defer f.Unsubscribe(fastID)

	const n = 10
	var received []string
	acks := make(chan struct{})
	go func() {
		for obs := range fastCh {
			received = append(received, obs.ID)
			acks <- struct{}{}
		}
	}()

	// Wait for the fast reader to drain each publish, so it can never be
	// the one that saturates.
	for i := 0; i < n; i++ {
		f.Publish(makeObs(fmt.Sprintf("obs-%d", i)))
		select {
		case <-acks:
		case <-time.After(time.Second):
			t.Fatalf("fast subscriber never saw observation %d", i)
		}
	}

	if len(received) != n {
		t.Errorf("fast subscriber received %d of %d", len(received), n)
	}

	stats := f.Stats()
	if stats.DroppedBy[slowID] == 0 {
		t.Error("expected drops for the slow subscriber")
	}
	if stats.DroppedBy[fastID] != 0 {
		t.Errorf("fast subscriber dropped %d, want 0", stats.DroppedBy[fastID])
	}

	// The slow queue still holds the newest two observations.
	last := []string{(<-slowCh).ID, (<-slowCh).ID}
	if last[0] != "obs-8" || last[1] != "obs-9" {
		t.Errorf("slow queue contents: %v, want [obs-8 obs-9]", last)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	f := NewFeed(4)
	defer f.Close()

	id, ch := f.Subscribe()
	f.Unsubscribe(id)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Double unsubscribe is a no-op.
	f.Unsubscribe(id)

	if stats := f.Stats(); stats.Subscribers != 0 {
		t.Errorf("subscribers = %d, want 0", stats.Subscribers)
	}
}

func TestCloseShutsDownSubscribers(t *testing.T) {
	f := NewFeed(4)

	_, ch1 := f.Subscribe()
	_, ch2 := f.Subscribe()

	f.Close()

	for i, ch := range []<-chan db.Observation{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Errorf("channel %d still open after Close", i)
		}
	}

	// Publishing and closing again are safe no-ops.
	f.Publish(makeObs("late"))
	f.Close()

	// Subscribing after close yields a closed channel.
	_, ch3 := f.Subscribe()
	if _, ok := <-ch3; ok {
		t.Error("subscription after Close returned an open channel")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	f := NewFeed(1)
	defer f.Close()

	// Nobody drains this subscriber.
	id, _ := f.Subscribe()
	defer f.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			f.Publish(makeObs(fmt.Sprintf("obs-%d", i)))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a saturated subscriber")
	}

	stats := f.Stats()
	if stats.Published != 1000 {
		t.Errorf("published = %d, want 1000", stats.Published)
	}
	if stats.Dropped != 999 {
		t.Errorf("dropped = %d, want 999", stats.Dropped)
	}
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	f := NewFeed(8)
	defer f.Close()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, _ := f.Subscribe()
				f.Publish(makeObs(fmt.Sprintf("g%d-%d", g, i)))
				f.Unsubscribe(id)
			}
		}(g)
	}
	wg.Wait()

	stats := f.Stats()
	if stats.Subscribers != 0 {
		t.Errorf("subscribers = %d, want 0 after churn", stats.Subscribers)
	}
	if stats.Published != 200 {
		t.Errorf("published = %d, want 200", stats.Published)
	}
}

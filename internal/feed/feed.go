// Package feed fans committed observations out to live subscribers over
// bounded queues. The store's insert hook publishes into it, so delivery
// order matches commit order for every subscriber.
package feed

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"github.com/commons-data/shelter.report/internal/db"
	"github.com/commons-data/shelter.report/internal/metrics"
	"github.com/commons-data/shelter.report/internal/monitoring"
)

// DefaultSubscriberBuffer is the per-subscriber queue capacity used when the
// caller passes a non-positive buffer size.
const DefaultSubscriberBuffer = 16

// Feed is the fan-out hub between the store and everything that watches it
// live. Publish never blocks: a subscriber that stops draining loses its
// oldest queued observations first, so whatever it eventually reads is the
// newest available, with the gap counted rather than hidden.
type Feed struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	buffer      int
	closed      bool

	published atomic.Uint64
	dropped   atomic.Uint64

	Metrics *metrics.Metrics // optional
}

type subscriber struct {
	id      string
	ch      chan db.Observation
	dropped atomic.Uint64
}

// NewFeed creates a feed whose subscriber queues hold buffer observations.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Feed{
		subscribers: make(map[string]*subscriber),
		buffer:      buffer,
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a new queue for receiving committed observations. The
// returned ID identifies the queue when unsubscribing. Subscribing to a
// closed feed returns an already-closed channel.
func (f *Feed) Subscribe() (string, <-chan db.Observation) {
	id := randomID()
	ch := make(chan db.Observation, f.buffer)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return id, ch
	}
	f.subscribers[id] = &subscriber{id: id, ch: ch}
	if f.Metrics != nil {
		f.Metrics.FeedSubscribers.Inc()
	}
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (f *Feed) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subscribers[id]; ok {
		close(sub.ch)
		delete(f.subscribers, id)
		if f.Metrics != nil {
			f.Metrics.FeedSubscribers.Dec()
		}
	}
}

// Publish enqueues obs for every subscriber. When a queue is full the oldest
// queued observation is evicted to make room, so the publisher (the store's
// insert hook) never blocks and never skips the newest data.
func (f *Feed) Publish(obs db.Observation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	for _, sub := range f.subscribers {
		select {
		case sub.ch <- obs:
			continue
		default:
		}

		// Queue full. All sends run under f.mu, so nobody else can fill
		// the slot we free; the receiver draining concurrently only makes
		// room, never takes it away.
		select {
		case <-sub.ch:
			dropped := sub.dropped.Add(1)
			f.dropped.Add(1)
			if f.Metrics != nil {
				f.Metrics.FeedDropped.Inc()
			}
			if dropped == 1 || dropped%100 == 0 {
				monitoring.Logf("feed: subscriber %s saturated, dropped %d so far", sub.id, dropped)
			}
		default:
		}
		select {
		case sub.ch <- obs:
		default:
		}
	}

	f.published.Add(1)
	if f.Metrics != nil {
		f.Metrics.FeedPublished.Inc()
	}
}

// Close closes every subscriber channel and stops accepting publishes.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, sub := range f.subscribers {
		close(sub.ch)
		delete(f.subscribers, id)
		if f.Metrics != nil {
			f.Metrics.FeedSubscribers.Dec()
		}
	}
}

// Drops returns how many observations have been evicted from the named
// subscriber's queue. Zero for unknown ids.
func (f *Feed) Drops(id string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subscribers[id]; ok {
		return sub.dropped.Load()
	}
	return 0
}

// FeedStats is a point-in-time snapshot of fan-out activity.
type FeedStats struct {
	Subscribers int               `json:"subscribers"`
	Published   uint64            `json:"published"`
	Dropped     uint64            `json:"dropped"`
	DroppedBy   map[string]uint64 `json:"dropped_by,omitempty"`
}

// Stats reports the subscriber count, total publishes, and drop counts both
// overall and per subscriber.
func (f *Feed) Stats() FeedStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := FeedStats{
		Subscribers: len(f.subscribers),
		Published:   f.published.Load(),
		Dropped:     f.dropped.Load(),
	}
	if len(f.subscribers) > 0 {
		stats.DroppedBy = make(map[string]uint64, len(f.subscribers))
		for id, sub := range f.subscribers {
			stats.DroppedBy[id] = sub.dropped.Load()
		}
	}
	return stats
}

// Package framebus fans the latest encoded frame out to any number of
// subscribers without ever blocking the publisher.
//
// Every subscriber owns a single-slot mailbox. Publishing overwrites the slot,
// so a slow subscriber only ever sees the most recent frame and the frames it
// missed are counted as drops.
package framebus

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/logging"

	ilogging "github.com/webdro/pocketcam/internal/logging"
)

// ErrClosed is returned by Subscriber.Next once the subscriber is removed from
// the bus or the bus is closed.
var ErrClosed = errors.New("framebus: subscriber closed")

// Bus holds the current frame and the registry of subscribers. Registry changes
// and frame publication share one mutex, so a removed subscriber is never
// offered another frame.
type Bus struct {
	mu        sync.Mutex
	current   []byte
	published uint64
	subs      map[*Subscriber]struct{}
	closed    bool

	log logging.LeveledLogger
}

// Stats is a snapshot of the bus.
type Stats struct {
	Published   uint64            `json:"published"`
	HasFrame    bool              `json:"hasFrame"`
	Subscribers []SubscriberStats `json:"subscribers"`
}

// SubscriberStats is a snapshot of one subscriber.
type SubscriberStats struct {
	ID        string    `json:"id"`
	Since     time.Time `json:"since"`
	Delivered uint64    `json:"delivered"`
	Dropped   uint64    `json:"dropped"`
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[*Subscriber]struct{}),
		log:  ilogging.NewLogger("framebus"),
	}
}

// Publish makes frame the current frame and offers it to every subscriber.
// frame must not be modified afterwards.
func (b *Bus) Publish(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.current = frame
	b.published++
	for s := range b.subs {
		s.offer(frame)
	}
}

// Subscribe registers a new subscriber. If a frame was already published, the
// subscriber's first Next returns it without waiting for the next publish.
func (b *Bus) Subscribe() *Subscriber {
	s := newSubscriber(b)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.close()
		return s
	}

	if b.current != nil {
		s.offer(b.current)
	}
	b.subs[s] = struct{}{}
	b.log.Debugf("subscriber %s added, %d active", s.id, len(b.subs))
	return s
}

// Unsubscribe removes s and wakes its reader. Calling it more than once is a no-op.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	s.close()
	b.log.Debugf("subscriber %s removed, %d active", s.id, len(b.subs))
}

// HasFrame reports whether any frame has ever been published.
func (b *Bus) HasFrame() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil
}

// Current returns the most recently published frame, or nil.
func (b *Bus) Current() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Stats returns a snapshot of the bus and its subscribers.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{
		Published:   b.published,
		HasFrame:    b.current != nil,
		Subscribers: make([]SubscriberStats, 0, len(b.subs)),
	}
	for s := range b.subs {
		stats.Subscribers = append(stats.Subscribers, s.stats())
	}
	return stats
}

// Close removes every subscriber. Later publishes are ignored and later
// subscribers are returned already closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.close()
	}
	b.subs = make(map[*Subscriber]struct{})
}

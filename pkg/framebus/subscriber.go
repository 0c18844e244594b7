package framebus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscriber is a single-slot mailbox fed by a Bus. Next must be called from
// one goroutine at a time.
type Subscriber struct {
	id      string
	bus     *Bus
	created time.Time

	mu      sync.Mutex
	cond    *sync.Cond
	frame   []byte
	pending bool
	closed  bool

	delivered uint64
	dropped   uint64
}

func newSubscriber(b *Bus) *Subscriber {
	s := &Subscriber{
		id:      uuid.NewString(),
		bus:     b,
		created: time.Now(),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns a unique identifier, useful for logs.
func (s *Subscriber) ID() string {
	return s.id
}

// offer overwrites the slot and wakes the reader. It never blocks on the reader.
func (s *Subscriber) offer(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.pending {
		s.dropped++
	}
	s.frame = frame
	s.pending = true
	s.cond.Signal()
}

// Next blocks until a frame is available and consumes it. It returns ErrClosed
// after the subscriber has been removed, or ctx.Err() when ctx is done first.
func (s *Subscriber) Next(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.pending && !s.closed && ctx.Err() == nil {
		s.cond.Wait()
	}

	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame := s.frame
	s.frame = nil
	s.pending = false
	s.delivered++
	return frame, nil
}

// Close removes the subscriber from its bus.
func (s *Subscriber) Close() {
	s.bus.Unsubscribe(s)
}

// Closed reports whether the subscriber has been removed.
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.frame = nil
	s.pending = false
	s.cond.Broadcast()
}

func (s *Subscriber) stats() SubscriberStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SubscriberStats{
		ID:        s.id,
		Since:     s.created,
		Delivered: s.delivered,
		Dropped:   s.dropped,
	}
}

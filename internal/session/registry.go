// internal/session/registry.go
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"serial-debugger/internal/model"
)

// DefaultQueueSize is the per-subscriber queue capacity when none is configured
const DefaultQueueSize = 256

// Subscriber receives events through its own bounded queue. When the queue
// is full the oldest queued event is evicted and Dropped increments.
type Subscriber struct {
	ID        string
	Name      string
	CreatedAt time.Time

	ch      chan *Event
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// Events returns the receive side of the queue; it is closed after the final event
func (s *Subscriber) Events() <-chan *Event {
	return s.ch
}

// Dropped returns how many events were evicted from this queue
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Queued returns the number of events waiting to be consumed
func (s *Subscriber) Queued() int {
	return len(s.ch)
}

// Status returns a snapshot for session status reporting
func (s *Subscriber) Status() model.SubscriberStatus {
	return model.SubscriberStatus{
		ID:      s.ID,
		Name:    s.Name,
		Queued:  s.Queued(),
		Dropped: s.Dropped(),
	}
}

// offer enqueues ev without blocking, evicting the oldest event if needed
func (s *Subscriber) offer(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Inc()
		default:
		}
	}
}

// close enqueues final, if any, and closes the queue
func (s *Subscriber) close(final *Event) {
	if final != nil {
		s.offer(final)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Registry is the set of subscribers of one session
type Registry struct {
	queueSize int

	mutex       sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool

	// publishMu serializes Publish so every subscriber sees one global order
	publishMu sync.Mutex
	seq       uint64
}

// NewRegistry creates a registry whose subscribers hold up to queueSize events
func NewRegistry(queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Registry{
		queueSize:   queueSize,
		subscribers: make(map[string]*Subscriber),
	}
}

// Register adds a subscriber; it fails once the registry has been closed
func (r *Registry) Register(name string) (*Subscriber, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return nil, ErrSessionClosed
	}

	sub := &Subscriber{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
		ch:        make(chan *Event, r.queueSize),
	}
	r.subscribers[sub.ID] = sub
	return sub, nil
}

// Unregister removes a subscriber and closes its queue
func (r *Registry) Unregister(id string) bool {
	r.mutex.Lock()
	sub, ok := r.subscribers[id]
	delete(r.subscribers, id)
	r.mutex.Unlock()

	if ok {
		sub.close(nil)
	}
	return ok
}

// Publish assigns the next sequence number to ev and offers it to every
// subscriber. It never blocks on a slow consumer.
func (r *Registry) Publish(ev *Event) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.seq++
	ev.Seq = r.seq

	for _, sub := range r.snapshot() {
		sub.offer(ev)
	}
}

// CloseAll delivers final to every subscriber, closes their queues and
// rejects further registrations
func (r *Registry) CloseAll(final *Event) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mutex.Lock()
	r.closed = true
	subs := make([]*Subscriber, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		subs = append(subs, sub)
	}
	r.subscribers = make(map[string]*Subscriber)
	r.mutex.Unlock()

	if final != nil {
		r.seq++
		final.Seq = r.seq
	}
	for _, sub := range subs {
		sub.close(final)
	}
}

// Len returns the number of registered subscribers
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.subscribers)
}

// Status returns subscriber snapshots ordered by registration time
func (r *Registry) Status() []model.SubscriberStatus {
	subs := r.snapshot()
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })

	out := make([]model.SubscriberStatus, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.Status())
	}
	return out
}

func (r *Registry) snapshot() []*Subscriber {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	subs := make([]*Subscriber, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

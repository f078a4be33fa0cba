package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber is one consumer of cluster lifecycle events, typically a
// wire connection watching a job or the whole fleet. Delivery is
// credit-based: each delivered event spends one credit, and a consumer
// that stops granting credits stops receiving instead of backing up
// the broker. The engine never blocks on a slow watcher.
type Subscriber struct {
	id string

	// ch buffers deliveries between the broker and the consumer.
	ch chan *Event

	// credits is the remaining delivery allowance. At zero the broker
	// skips this subscriber until more are granted.
	credits atomic.Int64

	// topics this subscriber is attached to, maintained by the broker.
	topics map[string]struct{}
	mu     sync.RWMutex

	// filter, when set, drops events the consumer does not want
	// before any credit is spent.
	filter func(*Event) bool

	closed atomic.Bool
}

// NewSubscriber creates a subscriber with the given buffer size and
// initial credit grant.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits grants additional delivery allowance.
func (s *Subscriber) AddCredits(n int64) {
	s.credits.Add(n)
}

// Credits returns the remaining delivery allowance.
func (s *Subscriber) Credits() int64 {
	return s.credits.Load()
}

// SetFilter installs a predicate; events it rejects are dropped
// without spending credit.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.filter = fn
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns a copy of the subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send attempts delivery. False means the event was dropped: filtered
// out, no credit left, or the buffer was full. A drop on a full buffer
// refunds the credit it spent.
func (s *Subscriber) send(evt *Event) bool {
	if s.closed.Load() {
		return false
	}

	if s.filter != nil && !s.filter(evt) {
		return false
	}

	for {
		current := s.credits.Load()
		if current <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(current, current-1) {
			break
		}
	}

	select {
	case s.ch <- evt:
		return true
	default:
		s.credits.Add(1)
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

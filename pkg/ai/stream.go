package ai

import "sync"

// EventStream is a push-buffered, single-consumer sequence of values. The
// producer calls Push and finally End; the consumer drains it with Next.
// The stream is the only synchronization point between the two sides.
//
// Pushes are unbounded: Push never blocks. After End, further pushes are
// ignored. After Cancel (consumer gave up), pushes silently drop and the
// producer can observe the cancellation via Cancelled. Next returns each
// buffered value in push order and reports end-of-stream exactly once.
//
// No ordering is guaranteed across different streams.
type EventStream[T any] struct {
	mu        sync.Mutex
	cond      *sync.Cond
	buf       []T
	ended     bool
	cancelled bool
}

// NewEventStream returns an empty, open stream.
func NewEventStream[T any]() *EventStream[T] {
	s := &EventStream[T]{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Push appends ev to the buffer and wakes the consumer if it is parked.
// Pushes after End or Cancel are dropped.
func (s *EventStream[T]) Push(ev T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.cancelled {
		return
	}
	s.buf = append(s.buf, ev)
	s.cond.Signal()
}

// End marks the stream terminal. Idempotent.
func (s *EventStream[T]) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.cond.Signal()
}

// Cancel signals that the consumer has abandoned iteration. Buffered values
// are discarded and Next returns immediately. Idempotent.
func (s *EventStream[T]) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.cancelled = true
	s.buf = nil
	s.cond.Signal()
}

// Cancelled reports whether the consumer cancelled the stream. Producers
// should stop pushing once this returns true.
func (s *EventStream[T]) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Next blocks until a value is available and returns it. The second result
// is false exactly once: after the buffer drains past End, or immediately
// after Cancel.
func (s *EventStream[T]) Next() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.cancelled {
			var zero T
			return zero, false
		}
		if len(s.buf) > 0 {
			ev := s.buf[0]
			s.buf = s.buf[1:]
			return ev, true
		}
		if s.ended {
			var zero T
			return zero, false
		}
		s.cond.Wait()
	}
}

// Drain consumes the remainder of the stream and returns it as a slice.
func (s *EventStream[T]) Drain() []T {
	var out []T
	for {
		ev, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

package ai

import (
	"sync"
	"testing"
	"time"
)

func TestEventStream_OrderPreserved(t *testing.T) {
	s := NewEventStream[int]()
	for i := 0; i < 100; i++ {
		s.Push(i)
	}
	s.End()

	got := s.Drain()
	if len(got) != 100 {
		t.Fatalf("drained %d values, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestEventStream_NextBlocksUntilPush(t *testing.T) {
	s := NewEventStream[string]()

	done := make(chan string)
	go func() {
		v, ok := s.Next()
		if !ok {
			done <- "<ended>"
			return
		}
		done <- v
	}()

	// Give the consumer a chance to park before pushing.
	time.Sleep(10 * time.Millisecond)
	s.Push("hello")

	select {
	case v := <-done:
		if v != "hello" {
			t.Fatalf("got %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake after Push")
	}
}

func TestEventStream_EndIsIdempotentAndFinal(t *testing.T) {
	s := NewEventStream[int]()
	s.Push(1)
	s.End()
	s.End()
	s.Push(2) // dropped

	if v, ok := s.Next(); !ok || v != 1 {
		t.Fatalf("Next = (%d, %v), want (1, true)", v, ok)
	}
	if _, ok := s.Next(); ok {
		t.Fatal("Next reported a value after End drained")
	}
}

func TestEventStream_CancelDiscardsBuffer(t *testing.T) {
	s := NewEventStream[int]()
	s.Push(1)
	s.Push(2)
	s.Cancel()

	if _, ok := s.Next(); ok {
		t.Fatal("Next returned a value after Cancel")
	}
	if !s.Cancelled() {
		t.Fatal("Cancelled() = false after Cancel")
	}
	s.Push(3) // dropped, no panic
}

func TestEventStream_ConcurrentProducerConsumer(t *testing.T) {
	s := NewEventStream[int]()
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			s.Push(i)
		}
		s.End()
	}()

	got := s.Drain()
	wg.Wait()

	if len(got) != n {
		t.Fatalf("drained %d values, want %d", len(got), n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

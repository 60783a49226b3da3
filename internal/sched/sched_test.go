package sched

import (
	"testing"

	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/object"
)

func newTCB(priority uint8) *object.TCB {
	t := object.NewTCB(0, 0, addr.VirtAddr(0))
	t.Priority = priority
	return t
}

func TestSelectNextPicksHighestPriority(t *testing.T) {
	s := New()
	low := newTCB(10)
	high := newTCB(200)
	mid := newTCB(100)

	s.Enqueue(low)
	s.Enqueue(high)
	s.Enqueue(mid)

	got := s.SelectNext()
	if got != high {
		t.Fatalf("expected highest-priority TCB selected first")
	}
	got = s.SelectNext()
	if got != mid {
		t.Fatalf("expected mid-priority TCB selected second")
	}
	got = s.SelectNext()
	if got != low {
		t.Fatalf("expected low-priority TCB selected third")
	}
	if s.SelectNext() != nil {
		t.Fatal("expected nil once every queue is empty")
	}
}

func TestFIFOOrderWithinPriority(t *testing.T) {
	s := New()
	a := newTCB(50)
	b := newTCB(50)
	c := newTCB(50)

	s.Enqueue(a)
	s.Enqueue(b)
	s.Enqueue(c)

	if s.SelectNext() != a || s.SelectNext() != b || s.SelectNext() != c {
		t.Fatal("expected FIFO order within a single priority")
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	s := New()
	a := newTCB(50)
	b := newTCB(50)

	s.Enqueue(a)
	s.Enqueue(a) // duplicate enqueue must be a no-op
	s.Enqueue(b)

	first := s.SelectNext()
	second := s.SelectNext()
	third := s.SelectNext()

	if first != a || second != b {
		t.Fatalf("expected order a, b, got %p, %p", first, second)
	}
	if third != nil {
		t.Fatal("expected a's duplicate enqueue to not have inserted a second entry")
	}
}

func TestSummaryBitClearedWhenQueueEmpties(t *testing.T) {
	s := New()
	a := newTCB(77)
	s.Enqueue(a)
	if s.Empty() {
		t.Fatal("expected scheduler non-empty after enqueue")
	}
	s.SelectNext()
	if !s.Empty() {
		t.Fatal("expected scheduler empty after dequeuing the only TCB")
	}
}

func TestYieldRequeuesAtTail(t *testing.T) {
	s := New()
	a := newTCB(5)
	b := newTCB(5)
	s.Enqueue(a)
	s.Enqueue(b)

	// a is "running" and yields: it goes to the tail of its priority, so
	// the next selected thread should be b (already ahead in the queue),
	// then a again.
	s.SelectNext() // a, simulating it having been picked to run already
	got := s.Yield(a)
	if got != b {
		t.Fatalf("expected b selected after a yields, got %p want %p", got, b)
	}
	if s.SelectNext() != a {
		t.Fatal("expected a to be selected after re-enqueueing via Yield")
	}
}

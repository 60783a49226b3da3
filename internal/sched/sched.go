// Package sched implements the 256-priority FIFO run-queue and its O(1)
// select_next (spec §4.5). Grounded in mazboot/golang/scheduler_bootstrap.go's
// priority-ordered readying of the first kernel goroutines, generalized
// from that fixed bring-up sequence into a general-purpose run-queue the
// trap dispatcher calls on every timer tick and every blocking syscall.
package sched

import (
	"math/bits"

	"github.com/coreos-arm64/capkernel/internal/object"
)

const numPriorities = 256

// queue is one priority's FIFO list of *object.TCB, linked through each
// TCB's own NextInQueue field — no separate queue-node allocation.
type queue struct {
	head, tail *object.TCB
}

func (q *queue) empty() bool { return q.head == nil }

func (q *queue) pushBack(t *object.TCB) {
	t.SetNextInQueue(nil)
	if q.tail == nil {
		q.head, q.tail = t, t
		return
	}
	q.tail.SetNextInQueue(t)
	q.tail = t
}

func (q *queue) popFront() *object.TCB {
	t := q.head
	if t == nil {
		return nil
	}
	q.head = t.NextInQueue()
	if q.head == nil {
		q.tail = nil
	}
	t.SetNextInQueue(nil)
	return t
}

// Scheduler is the kernel's single run-queue set: 256 FIFO queues plus a
// 256-bit (4×u64) bitmap summary indexed by priority, so select_next never
// needs to scan empty queues (spec §4.5: "clz-based, O(1)").
type Scheduler struct {
	queues  [numPriorities]queue
	summary [4]uint64
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

func summaryWord(priority uint8) (word int, bit uint) {
	return int(priority) / 64, uint(priority) % 64
}

func (s *Scheduler) setSummaryBit(priority uint8) {
	w, b := summaryWord(priority)
	s.summary[w] |= 1 << b
}

func (s *Scheduler) clearSummaryBit(priority uint8) {
	w, b := summaryWord(priority)
	s.summary[w] &^= 1 << b
}

// Enqueue appends t to its priority's queue and sets the summary bit.
// Idempotent: a TCB already queued is left untouched (spec §4.5:
// "idempotent insertion is required").
func (s *Scheduler) Enqueue(t *object.TCB) {
	if t.Queued() {
		return
	}
	s.queues[t.Priority].pushBack(t)
	s.setSummaryBit(t.Priority)
	t.SetQueued(true)
}

// SelectNext finds the highest-priority non-empty queue via the summary
// bitmap and dequeues its head. Returns nil if every queue is empty.
//
// The bitmap is stored as 4 ascending uint64 words (word 0 covers
// priorities 0-63); "highest priority" is found by scanning from the
// highest-indexed set word down, then taking its most-significant set bit
// — the Go equivalent of the clz-based scan the spec describes, since Go
// has no intrinsic leading-zero-count over a 256-bit value and bits.Len64
// gives us the same answer one word at a time.
func (s *Scheduler) SelectNext() *object.TCB {
	for w := 3; w >= 0; w-- {
		word := s.summary[w]
		if word == 0 {
			continue
		}
		bit := bits.Len64(word) - 1 // index of the highest set bit
		priority := uint8(w*64 + bit)

		t := s.queues[priority].popFront()
		if s.queues[priority].empty() {
			s.clearSummaryBit(priority)
		}
		if t != nil {
			t.SetQueued(false)
		}
		return t
	}
	return nil
}

// Yield re-enqueues t at the tail of its own priority, then runs
// SelectNext (spec §4.5: "the caller may run again immediately if it is
// the only ready thread at the highest level"). t must not be marked
// Queued before calling Yield — callers transition t to Runnable first.
func (s *Scheduler) Yield(t *object.TCB) *object.TCB {
	s.Enqueue(t)
	return s.SelectNext()
}

// Empty reports whether every queue is empty (all summary words zero).
func (s *Scheduler) Empty() bool {
	return s.summary[0] == 0 && s.summary[1] == 0 && s.summary[2] == 0 && s.summary[3] == 0
}

// Package ipc implements the two IPC primitives: the synchronous
// rendezvous Endpoint and the asynchronous, badge-coalescing
// Notification (spec §3, §4.6). Both block and wake *object.TCB values
// through the scheduler's state machine rather than owning threads of
// their own — this kernel has no per-thread goroutine, so "blocking" a
// TCB means transitioning its State and leaving it off every run-queue
// until some other operation rendezvous with it.
package ipc

import "github.com/coreos-arm64/capkernel/internal/object"

// tcbQueue is a singly-linked FIFO over *object.TCB, reusing the same
// NextInQueue link internal/sched uses for the run-queue — a TCB is
// always in at most one of these at a time, matching its single-state
// lifecycle (spec §4.5).
type tcbQueue struct {
	head, tail *object.TCB
}

func (q *tcbQueue) empty() bool { return q.head == nil }

func (q *tcbQueue) pushBack(t *object.TCB) {
	t.SetNextInQueue(nil)
	if q.tail == nil {
		q.head, q.tail = t, t
	} else {
		q.tail.SetNextInQueue(t)
		q.tail = t
	}
	t.SetQueued(true)
}

func (q *tcbQueue) popFront() *object.TCB {
	t := q.head
	if t == nil {
		return nil
	}
	q.head = t.NextInQueue()
	if q.head == nil {
		q.tail = nil
	}
	t.SetNextInQueue(nil)
	t.SetQueued(false)
	return t
}

// remove drops t from the middle of the queue, for cancellation (spec
// §8: "cancelled send/receive... removes the TCB from the endpoint
// queue"). O(n) in queue depth, which in practice is bounded by the
// number of threads contending on one endpoint.
func (q *tcbQueue) remove(t *object.TCB) bool {
	var prev *object.TCB
	cur := q.head
	for cur != nil {
		next := cur.NextInQueue()
		if cur == t {
			if prev == nil {
				q.head = next
			} else {
				prev.SetNextInQueue(next)
			}
			if q.tail == t {
				q.tail = prev
			}
			t.SetNextInQueue(nil)
			t.SetQueued(false)
			return true
		}
		prev = cur
		cur = next
	}
	return false
}

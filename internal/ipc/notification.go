package ipc

import "github.com/coreos-arm64/capkernel/internal/object"

// Notification is a kernel object for asynchronous, coalescing signalling
// (spec §3, §4.6.2).
type Notification struct {
	signalWord uint64
	waiters    tcbQueue
}

// NewNotification returns a notification with an empty signal word.
func NewNotification() *Notification {
	return &Notification{}
}

// Signal ORs badge into the signal word; if a thread is waiting, it is
// woken immediately with the current word and the word is cleared.
// Otherwise the badge persists, coalescing with any future signal before
// the next wait (spec §4.6.2). Returns the woken waiter, if any, so the
// caller can hand it back to the scheduler — a Notification has no
// run-queue of its own to enqueue onto.
func (n *Notification) Signal(badge uint64) (woken *object.TCB) {
	n.signalWord |= badge
	if n.waiters.empty() {
		return nil
	}
	waiter := n.waiters.popFront()
	waiter.IPCWords = []uint64{n.signalWord}
	n.signalWord = 0
	waiter.SetState(object.Runnable)
	return waiter
}

// Wait returns the signal word and clears it if already non-zero
// (non-blocking path); otherwise blocks waiter BlockedOnNotification.
func (n *Notification) Wait(waiter *object.TCB) (uint64, bool) {
	if n.signalWord != 0 {
		w := n.signalWord
		n.signalWord = 0
		return w, true
	}
	n.waiters.pushBack(waiter)
	waiter.SetState(object.BlockedOnNotification)
	return 0, false
}

// Poll is Wait without the blocking path: it returns 0 when the signal
// word is empty instead of queuing the caller (spec §4.6.2).
func (n *Notification) Poll() uint64 {
	w := n.signalWord
	n.signalWord = 0
	return w
}

// Cancel removes waiter from the wait queue, for TCB destruction mid-wait
// (spec §8 cancellation policy, applied uniformly across both IPC
// primitives).
func (n *Notification) Cancel(waiter *object.TCB) {
	n.waiters.remove(waiter)
}

package ipc

import "github.com/coreos-arm64/capkernel/internal/object"

// MaxMessageWords is the largest message the IPC buffer carries (spec
// §4.6.1: "up to a platform max — 120 in the source").
const MaxMessageWords = 120

// MaxCapTransfer is the largest number of capabilities one message can
// carry between CNodes (spec §4.6.1).
const MaxCapTransfer = 4

// Message is the payload copied between sender and receiver IPC buffers.
// Endpoint only moves message words, matching the layering
// internal/object's Retype note describes. No capabilities travel with a
// message: neither Endpoint nor the trap dispatcher nor internal/boot's
// send/call handlers derive or mint a capability into the receiver's
// CNode.
type Message struct {
	Words []uint64
}

type epState uint8

const (
	epEmpty epState = iota
	epSenders
	epReceivers
)

type pendingSend struct {
	msg    Message
	isCall bool
}

// Endpoint is a kernel object for synchronous rendezvous (spec §3). Its
// queue never holds both senders and receivers at once — state enforces
// that invariant structurally, since q is reused for whichever role is
// currently waiting.
type Endpoint struct {
	state epState
	q     tcbQueue

	pending map[*object.TCB]pendingSend
	replyTo map[*object.TCB]*object.TCB // receiver -> caller, for an outstanding Call
}

// NewEndpoint returns an empty endpoint.
func NewEndpoint() *Endpoint {
	return &Endpoint{
		pending: make(map[*object.TCB]pendingSend),
		replyTo: make(map[*object.TCB]*object.TCB),
	}
}

// Send delivers msg to a queued receiver immediately if one is waiting
// (non-blocking send); otherwise it queues sender and blocks it
// BlockedOnSend (spec §4.6.1). Returns the receiver if one was woken, so
// the caller (the syscall layer) can hand it back to the scheduler — an
// Endpoint has no run-queue of its own to enqueue onto (spec §8's
// run-queue invariant: a Runnable TCB must be enqueued somewhere).
func (e *Endpoint) Send(sender *object.TCB, msg Message) (woken *object.TCB) {
	if e.state == epReceivers {
		receiver := e.q.popFront()
		receiver.IPCWords = append([]uint64(nil), msg.Words...)
		receiver.SetState(object.Runnable)
		if e.q.empty() {
			e.state = epEmpty
		}
		return receiver
	}
	e.pending[sender] = pendingSend{msg: msg}
	e.q.pushBack(sender)
	e.state = epSenders
	sender.SetState(object.BlockedOnSend)
	return nil
}

// Recv rendezvous with a queued sender immediately if one is waiting;
// otherwise queues receiver and blocks it BlockedOnReceive. Returns the
// delivered message, true on immediate rendezvous, and the sender if the
// rendezvous actually woke it (a Call's sender stays in BlockedOnReceive
// awaiting its reply, so it is not woken here).
func (e *Endpoint) Recv(receiver *object.TCB) (msg Message, rendezvoused bool, woken *object.TCB) {
	if e.state == epSenders {
		sender := e.q.popFront()
		p := e.pending[sender]
		delete(e.pending, sender)
		if e.q.empty() {
			e.state = epEmpty
		}
		if p.isCall {
			e.replyTo[receiver] = sender
			// The caller already entered BlockedOnReceive in Call and stays
			// there: its wait for the reply is a receive-phase block, not a
			// second send block (spec §4.6.1: call is "send followed by a
			// receive on an anonymous reply channel").
			return p.msg, true, nil
		}
		sender.SetState(object.Runnable)
		return p.msg, true, sender
	}
	e.pending[receiver] = pendingSend{}
	e.q.pushBack(receiver)
	e.state = epReceivers
	receiver.SetState(object.BlockedOnReceive)
	return Message{}, false, nil
}

// Call is Send plus an implicit receive on a one-shot reply channel: the
// caller blocks until the receiver invokes Reply (spec §4.6.1). Returns
// true if the send phase rendezvoused immediately with a queued receiver,
// plus that receiver if so (woken, and so owed a scheduler enqueue).
func (e *Endpoint) Call(caller *object.TCB, msg Message) (rendezvoused bool, woken *object.TCB) {
	if e.state == epReceivers {
		receiver := e.q.popFront()
		receiver.IPCWords = append([]uint64(nil), msg.Words...)
		receiver.SetState(object.Runnable)
		if e.q.empty() {
			e.state = epEmpty
		}
		e.replyTo[receiver] = caller
		caller.SetState(object.BlockedOnReceive)
		return true, receiver
	}
	e.pending[caller] = pendingSend{msg: msg, isCall: true}
	e.q.pushBack(caller)
	e.state = epSenders
	caller.SetState(object.BlockedOnReceive)
	return false, nil
}

// Reply delivers msg to the caller of an outstanding Call made to
// receiver, unblocking it exactly once, and consumes the one-shot reply
// binding (spec §4.6.1). Returns false if receiver holds no outstanding
// call to reply to; otherwise also returns the now-woken caller.
func (e *Endpoint) Reply(receiver *object.TCB, msg Message) (ok bool, woken *object.TCB) {
	caller, ok := e.replyTo[receiver]
	if !ok {
		return false, nil
	}
	delete(e.replyTo, receiver)
	caller.IPCWords = append([]uint64(nil), msg.Words...)
	caller.SetState(object.Runnable)
	return true, caller
}

// Cancel removes t from whichever side of the queue it is blocked on and
// drops its in-flight message (spec §8: "cancelled send/receive...
// removes the TCB from the endpoint queue and drops its message"). Any
// reply binding naming t, as caller or as receiver, is also dropped — a
// reply capability held against a cancelled call becomes dead.
func (e *Endpoint) Cancel(t *object.TCB) {
	if e.q.remove(t) && e.q.empty() {
		e.state = epEmpty
	}
	delete(e.pending, t)
	delete(e.replyTo, t)
	for receiver, caller := range e.replyTo {
		if caller == t {
			delete(e.replyTo, receiver)
		}
	}
}

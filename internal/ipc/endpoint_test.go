package ipc

import (
	"testing"

	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/object"
)

func newTestTCB() *object.TCB {
	t := object.NewTCB(0, 0, addr.VirtAddr(0))
	t.SetState(object.Runnable)
	t.SetState(object.Running)
	return t
}

// TestEndpointFIFORendezvous is spec §8 scenario 3: two senders at the
// same priority call send(ep, data1) then send(ep, data2) before any
// receiver arrives; two recv(ep) calls must return data1 then data2, in
// FIFO order.
func TestEndpointFIFORendezvous(t *testing.T) {
	ep := NewEndpoint()
	s1, s2 := newTestTCB(), newTestTCB()

	ep.Send(s1, Message{Words: []uint64{1}})
	ep.Send(s2, Message{Words: []uint64{2}})

	if s1.State() != object.BlockedOnSend || s2.State() != object.BlockedOnSend {
		t.Fatal("expected both senders blocked with no receiver present")
	}

	r1 := newTestTCB()
	msg1, immediate, _ := ep.Recv(r1)
	if !immediate {
		t.Fatal("expected immediate rendezvous with the first queued sender")
	}
	if len(msg1.Words) != 1 || msg1.Words[0] != 1 {
		t.Fatalf("expected first recv to return data1, got %v", msg1.Words)
	}
	if s1.State() != object.Runnable {
		t.Fatalf("expected sender 1 unblocked to Runnable, got %v", s1.State())
	}

	r2 := newTestTCB()
	msg2, immediate, _ := ep.Recv(r2)
	if !immediate {
		t.Fatal("expected immediate rendezvous with the second queued sender")
	}
	if len(msg2.Words) != 1 || msg2.Words[0] != 2 {
		t.Fatalf("expected second recv to return data2, got %v", msg2.Words)
	}
	if s2.State() != object.Runnable {
		t.Fatalf("expected sender 2 unblocked to Runnable, got %v", s2.State())
	}
}

func TestEndpointSendRendezvousWithWaitingReceiver(t *testing.T) {
	ep := NewEndpoint()
	receiver := newTestTCB()

	if _, immediate, _ := ep.Recv(receiver); immediate {
		t.Fatal("expected receiver to block with no sender present")
	}
	if receiver.State() != object.BlockedOnReceive {
		t.Fatalf("expected receiver BlockedOnReceive, got %v", receiver.State())
	}

	sender := newTestTCB()
	ep.Send(sender, Message{Words: []uint64{42}})

	if sender.State() != object.Running {
		t.Fatalf("expected non-blocking send to leave sender Running, got %v", sender.State())
	}
	if receiver.State() != object.Runnable {
		t.Fatalf("expected receiver woken to Runnable, got %v", receiver.State())
	}
	if len(receiver.IPCWords) != 1 || receiver.IPCWords[0] != 42 {
		t.Fatalf("expected message delivered into receiver.IPCWords, got %v", receiver.IPCWords)
	}
}

func TestCallThenReplyUnblocksCallerExactlyOnce(t *testing.T) {
	ep := NewEndpoint()
	caller := newTestTCB()

	immediate, _ := ep.Call(caller, Message{Words: []uint64{7}})
	if immediate {
		t.Fatal("expected no immediate rendezvous with no receiver present")
	}
	if caller.State() != object.BlockedOnReceive {
		t.Fatalf("expected caller blocked on the reply phase, got %v", caller.State())
	}

	receiver := newTestTCB()
	msg, immediate, _ := ep.Recv(receiver)
	if !immediate {
		t.Fatal("expected the receiver to rendezvous with the queued call")
	}
	if len(msg.Words) != 1 || msg.Words[0] != 7 {
		t.Fatalf("expected call message delivered, got %v", msg.Words)
	}
	if caller.State() != object.BlockedOnReceive {
		t.Fatalf("expected caller to remain blocked awaiting reply, got %v", caller.State())
	}

	if ok, _ := ep.Reply(receiver, Message{Words: []uint64{99}}); !ok {
		t.Fatal("expected Reply to find an outstanding call")
	}
	if caller.State() != object.Runnable {
		t.Fatalf("expected caller unblocked by Reply, got %v", caller.State())
	}
	if len(caller.IPCWords) != 1 || caller.IPCWords[0] != 99 {
		t.Fatalf("expected reply message delivered to caller, got %v", caller.IPCWords)
	}

	// The reply capability is one-shot: a second Reply for the same
	// receiver must fail.
	if ok, _ := ep.Reply(receiver, Message{Words: []uint64{1}}); ok {
		t.Fatal("expected a second Reply to the same receiver to fail (consumed)")
	}
}

func TestCancelRemovesBlockedSenderAndDropsMessage(t *testing.T) {
	ep := NewEndpoint()
	s1, s2 := newTestTCB(), newTestTCB()
	ep.Send(s1, Message{Words: []uint64{1}})
	ep.Send(s2, Message{Words: []uint64{2}})

	ep.Cancel(s1)

	r := newTestTCB()
	msg, immediate, _ := ep.Recv(r)
	if !immediate {
		t.Fatal("expected rendezvous with the remaining sender")
	}
	if len(msg.Words) != 1 || msg.Words[0] != 2 {
		t.Fatalf("expected cancelled sender's message dropped, got %v", msg.Words)
	}
}

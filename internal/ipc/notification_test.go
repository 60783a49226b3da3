package ipc

import (
	"testing"

	"github.com/coreos-arm64/capkernel/internal/object"
)

// TestNotificationCoalescesSignalsBeforeWait is spec §8 scenario 4 /
// §4.6.2's round-trip law: two signals with disjoint badges arriving
// before any wait must be coalesced into a single OR'd wakeup.
func TestNotificationCoalescesSignalsBeforeWait(t *testing.T) {
	n := NewNotification()

	n.Signal(0x01)
	n.Signal(0x10)

	waiter := newTestTCB()
	word, immediate := n.Wait(waiter)
	if !immediate {
		t.Fatal("expected non-blocking path since the signal word was already non-zero")
	}
	if word != 0x11 {
		t.Fatalf("expected coalesced word 0x11, got %#x", word)
	}
}

func TestNotificationWaitBlocksThenWakesOnSignal(t *testing.T) {
	n := NewNotification()
	waiter := newTestTCB()

	if _, immediate := n.Wait(waiter); immediate {
		t.Fatal("expected waiter to block when the signal word is empty")
	}
	if waiter.State() != object.BlockedOnNotification {
		t.Fatalf("expected BlockedOnNotification, got %v", waiter.State())
	}

	n.Signal(0xBEEF)

	if waiter.State() != object.Runnable {
		t.Fatalf("expected waiter woken to Runnable, got %v", waiter.State())
	}
	if len(waiter.IPCWords) != 1 || waiter.IPCWords[0] != 0xBEEF {
		t.Fatalf("expected signal word delivered, got %v", waiter.IPCWords)
	}
}

func TestNotificationPollNeverBlocks(t *testing.T) {
	n := NewNotification()
	if got := n.Poll(); got != 0 {
		t.Fatalf("expected Poll on an empty notification to return 0, got %#x", got)
	}

	n.Signal(0x42)
	if got := n.Poll(); got != 0x42 {
		t.Fatalf("expected Poll to return 0x42, got %#x", got)
	}
	if got := n.Poll(); got != 0 {
		t.Fatalf("expected Poll to clear the word, got %#x", got)
	}
}

func TestNotificationAtMostOneWaiterWokenPerSignal(t *testing.T) {
	n := NewNotification()
	w1, w2 := newTestTCB(), newTestTCB()
	n.Wait(w1)
	n.Wait(w2)

	n.Signal(0x01)

	if w1.State() != object.Runnable {
		t.Fatalf("expected first waiter woken, got %v", w1.State())
	}
	if w2.State() != object.BlockedOnNotification {
		t.Fatalf("expected second waiter to remain blocked, got %v", w2.State())
	}
}

func TestNotificationCancelRemovesWaiter(t *testing.T) {
	n := NewNotification()
	w := newTestTCB()
	n.Wait(w)

	n.Cancel(w)
	n.Signal(0x01)

	if w.State() != object.BlockedOnNotification {
		t.Fatal("expected cancelled waiter to not be woken by a later signal")
	}
}

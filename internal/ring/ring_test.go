package ring

import (
	"sync"
	"testing"
)

func newTestRing(t *testing.T, payloadSlots int) *Ring {
	t.Helper()
	buf := make([]byte, headerBytes+payloadSlots*8)
	r, err := New(buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRejectsNonPowerOfTwoCapacity(t *testing.T) {
	buf := make([]byte, headerBytes+3*8) // 3 slots, not a power of two
	if _, err := New(buf); err != ErrCapacityNotPowerOf2 {
		t.Fatalf("expected ErrCapacityNotPowerOf2, got %v", err)
	}
}

func TestRejectsBufferTooSmall(t *testing.T) {
	buf := make([]byte, headerBytes)
	if _, err := New(buf); err != ErrTooSmall {
		t.Fatalf("expected ErrTooSmall, got %v", err)
	}
}

// TestPushPopReturnsValuesInOrder is spec §8 scenario 5's round-trip law:
// pushing 0..9 then popping must return them in the same order.
func TestPushPopReturnsValuesInOrder(t *testing.T) {
	r := newTestRing(t, 16)
	for i := uint64(0); i < 10; i++ {
		if !r.Push(i) {
			t.Fatalf("Push(%d): ring unexpectedly full", i)
		}
	}
	for i := uint64(0); i < 10; i++ {
		got, ok := r.Pop()
		if !ok {
			t.Fatalf("Pop(): ring unexpectedly empty at i=%d", i)
		}
		if got != i {
			t.Fatalf("Pop() = %d, want %d", got, i)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("expected Pop on an empty ring to fail")
	}
}

func TestPushFailsWhenFull(t *testing.T) {
	r := newTestRing(t, 4)
	for i := uint64(0); i < 4; i++ {
		if !r.Push(i) {
			t.Fatalf("Push(%d): unexpected failure", i)
		}
	}
	if r.Push(99) {
		t.Fatal("expected Push to fail once the ring is full")
	}
	if r.Len() != 4 {
		t.Fatalf("expected Len() == capacity == 4, got %d", r.Len())
	}
}

// TestConcurrentProducerConsumer exercises the ring the way two VSpaces
// sharing one physical page actually would: one goroutine only pushes,
// another only pops, synchronized purely by the atomic head/tail fields
// (spec §8: "userspace-level synchronization" for shared pages).
func TestConcurrentProducerConsumer(t *testing.T) {
	r := newTestRing(t, 8)
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := uint64(0); i < n; i++ {
			for !r.Push(i) {
				// ring full: spin, matching mailboxSend's
				// poll-until-not-full pattern.
			}
		}
	}()

	received := make([]uint64, 0, n)
	go func() {
		defer wg.Done()
		for uint64(len(received)) < n {
			v, ok := r.Pop()
			if !ok {
				continue
			}
			received = append(received, v)
		}
	}()

	wg.Wait()

	for i, v := range received {
		if v != uint64(i) {
			t.Fatalf("received[%d] = %d, want %d", i, v, i)
		}
	}
}

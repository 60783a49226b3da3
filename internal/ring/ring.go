// Package ring implements the lock-free single-producer/single-consumer
// ring buffer shared-memory IPC is built on (SPEC_FULL.md §4, spec.md
// §8 scenario 5): two VSpaces map the same physical page, one thread
// only ever pushes, the other only ever pops, and the head/tail indices
// live inside the shared page itself so both sides see the same counters
// without a kernel round trip.
//
// Grounded in mazboot/golang's bare-metal atomic primitives (Load64/
// Store64 over a raw `*uint64`, with no CPU feature detection available)
// for the idea of addressing shared state through a pointer derived from
// the backing byte slice rather than a Go channel or mutex — neither
// exists across two independent VSpaces.
package ring

import (
	"sync/atomic"
	"unsafe"

	"github.com/coreos-arm64/capkernel/internal/kernel"
)

const module = "ring"

// headerBytes is the space reserved at the front of the page for the
// head and tail counters, each a naturally-aligned uint64.
const headerBytes = 16

var (
	ErrTooSmall            = kernel.New(module, kernel.KindInvalidArgument, "backing buffer too small for a ring header and payload")
	ErrCapacityNotPowerOf2 = kernel.New(module, kernel.KindInvalidArgument, "ring payload capacity must be a power of two")
)

// Ring is a view over a caller-owned byte slice (the contents of one
// shared physical page). It holds no state of its own beyond that slice,
// so both ends of a shared mapping construct their own *Ring over their
// own view of the same bytes and observe each other's writes directly.
type Ring struct {
	head *uint64
	tail *uint64
	data []uint64
	mask uint64
}

// New wraps buf (typically one 4 KiB page) as a ring buffer. buf's
// payload region (len(buf)-headerBytes, in 8-byte slots) must be a power
// of two.
func New(buf []byte) (*Ring, error) {
	if len(buf) <= headerBytes {
		return nil, ErrTooSmall
	}
	payloadBytes := len(buf) - headerBytes
	capacity := payloadBytes / 8
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return nil, ErrCapacityNotPowerOf2
	}

	r := &Ring{
		head: (*uint64)(unsafe.Pointer(&buf[0])),
		tail: (*uint64)(unsafe.Pointer(&buf[8])),
		data: unsafe.Slice((*uint64)(unsafe.Pointer(&buf[headerBytes])), capacity),
		mask: uint64(capacity) - 1,
	}
	return r, nil
}

// Push appends v to the ring. Returns false if the ring is full — only
// the single producer may call Push.
func (r *Ring) Push(v uint64) bool {
	tail := atomic.LoadUint64(r.tail)
	head := atomic.LoadUint64(r.head)
	if tail-head > r.mask {
		return false
	}
	r.data[tail&r.mask] = v
	atomic.StoreUint64(r.tail, tail+1)
	return true
}

// Pop removes and returns the oldest value. Returns false if the ring is
// empty — only the single consumer may call Pop.
func (r *Ring) Pop() (uint64, bool) {
	head := atomic.LoadUint64(r.head)
	tail := atomic.LoadUint64(r.tail)
	if head == tail {
		return 0, false
	}
	v := r.data[head&r.mask]
	atomic.StoreUint64(r.head, head+1)
	return v, true
}

// Len returns the number of values currently queued. Safe to call from
// either side; it is a snapshot and may be stale by the time it returns.
func (r *Ring) Len() uint64 {
	return atomic.LoadUint64(r.tail) - atomic.LoadUint64(r.head)
}

// Capacity returns the maximum number of values the ring can hold.
func (r *Ring) Capacity() uint64 { return r.mask + 1 }

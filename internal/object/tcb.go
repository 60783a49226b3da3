package object

import (
	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/kernel"
)

// State is a TCB's position in the thread lifecycle (spec §4.5).
type State uint8

const (
	Inactive State = iota
	Runnable
	Running
	BlockedOnSend
	BlockedOnReceive
	BlockedOnNotification
	Exited
)

var stateNames = [...]string{
	"Inactive", "Runnable", "Running",
	"BlockedOnSend", "BlockedOnReceive", "BlockedOnNotification", "Exited",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// allowedTransitions enumerates every legal State->State edge (spec §4.5:
// "only the listed transitions are valid — invalid transitions are a
// kernel bug"). Checked by TCB.SetState, which kernel.Panics on a miss
// rather than silently applying an inconsistent state.
var allowedTransitions = map[State][]State{
	Inactive:               {Runnable},
	Runnable:                {Running},
	Running:                 {Runnable, BlockedOnSend, BlockedOnReceive, BlockedOnNotification, Exited},
	BlockedOnSend:           {Runnable},
	BlockedOnReceive:        {Runnable},
	BlockedOnNotification:   {Runnable},
	Exited:                  {},
}

// CapMask is the coarse permission bitmask carried alongside the
// capability system proper (spec §9 REDESIGN FLAGS: a deliberate, policy-
// level redundancy kept for the ergonomics of gating whole syscall
// families from one field; the capability system itself remains the
// authoritative check).
type CapMask uint8

const (
	CapMemory CapMask = 1 << iota
	CapProcess
	CapIPC
	CapCaps
)

const CapAll = CapMemory | CapProcess | CapIPC | CapCaps

// Allows reports whether mask grants every bit in required.
func (mask CapMask) Allows(required CapMask) bool { return required&^mask == 0 }

// Context is the architectural register state saved/restored across a
// context switch (spec §4.5): "save the outgoing TCB's full register file
// (x0-x30), SP_EL0, ELR_EL1, SPSR_EL1, and TTBR0_EL1 into its trap
// frame." Kept as a plain struct rather than a raw byte blob so the trap
// dispatcher (internal/trap) can address individual registers by name.
type Context struct {
	X       [31]uint64
	SPEL0   uint64
	ELREL1  uint64
	SPSREL1 uint64
	TTBR0   addr.PhysAddr
}

// TCB is the kernel object backing one execution context (spec §3).
type TCB struct {
	Ctx Context

	CNode  addr.PhysAddr // capability-space root
	VSpace addr.PhysAddr // this thread's VSpace root
	IPCBuf addr.VirtAddr

	state    State
	Priority uint8
	Slice    uint32 // remaining time-slice ticks

	Caps CapMask

	// IPCWords holds the message words most recently delivered to this
	// thread by a rendezvous, reply, or notification signal — the
	// trap dispatcher reads it back into the thread's IPC buffer on
	// resume. Kept here (rather than in internal/ipc) so internal/ipc can
	// write a delivered message directly into the waking TCB without
	// object importing ipc.
	IPCWords []uint64

	// Scheduler run-queue link and endpoint/notification wait-queue link.
	// Both are singly-linked FIFO lists; a TCB is never on more than one
	// of these at a time (it is either runnable/running, or blocked on
	// exactly one queue).
	nextInQueue *TCB
	queued      bool // run-queue membership, for idempotent enqueue (spec §4.5)
}

// NewTCB wraps a freshly retyped, zeroed TCB storage address. Priority
// defaults to the lowest urgency (spec leaves the default unspecified;
// internal/boot assigns the root task an explicit priority).
func NewTCB(cnode, vspace addr.PhysAddr, ipcBuf addr.VirtAddr) *TCB {
	return &TCB{
		CNode:  cnode,
		VSpace: vspace,
		IPCBuf: ipcBuf,
		state:  Inactive,
		Caps:   CapAll,
	}
}

// State returns the thread's current lifecycle state.
func (t *TCB) State() State { return t.state }

// SetState validates next against the allowed-transition table and
// applies it. An invalid transition indicates a kernel bug (a caller
// requesting a transition the scheduler/IPC layer should never produce)
// and halts the system rather than corrupting scheduler state further
// (spec §7: "invariant violations are fatal").
func (t *TCB) SetState(next State) {
	for _, allowed := range allowedTransitions[t.state] {
		if allowed == next {
			t.state = next
			return
		}
	}
	kernel.Panic(module, "invalid TCB state transition "+t.state.String()+" -> "+next.String())
}

// NextInQueue and SetNextInQueue expose the wait/run-queue link for
// internal/sched and internal/ipc, which both implement FIFO queues of
// *TCB without needing a third queue-node type.
func (t *TCB) NextInQueue() *TCB { return t.nextInQueue }

func (t *TCB) SetNextInQueue(next *TCB) { t.nextInQueue = next }

// Queued reports whether the TCB is currently linked into some queue
// (run-queue or a wait-queue). SetQueued is called by whichever queue
// implementation currently owns the TCB.
func (t *TCB) Queued() bool { return t.queued }

func (t *TCB) SetQueued(q bool) { t.queued = q }

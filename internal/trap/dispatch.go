package trap

import (
	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/ipc"
	"github.com/coreos-arm64/capkernel/internal/kernel"
	"github.com/coreos-arm64/capkernel/internal/kfmt"
	"github.com/coreos-arm64/capkernel/internal/object"
)

// Dispatcher owns the syscall table and the IRQ-to-notification bindings
// installed by sys_irq_handler_set_notification. One Dispatcher serves the
// whole kernel; internal/boot constructs it once and registers every
// syscall handler before unmasking IRQs.
type Dispatcher struct {
	handlers map[Number]Handler

	irqNotify map[uint32]*ipc.Notification
	maskIRQ   func(irq uint32)
	timerIRQ  uint32

	// OnFault runs when a data/instruction abort or unknown exception
	// kills a thread (spec §4.7: "reports the fault to the root task").
	// internal/boot wires this to a notification signal once the root
	// task's fault-handler endpoint exists; nil is a legal no-op default
	// for tests and early boot before that wiring exists.
	OnFault func(t *object.TCB, far addr.PhysAddr, esr uint64)
}

// NewDispatcher returns a Dispatcher with no syscalls registered yet.
// timerIRQ identifies the line HandleIRQ treats as the in-kernel timer
// tick rather than something to forward (spec §4.7: "only the timer is
// handled in-kernel in v1"); maskIRQ is the GIC line-masking callback,
// deferred to internal/platform since trap has no GIC driver of its own.
func NewDispatcher(timerIRQ uint32, maskIRQ func(irq uint32)) *Dispatcher {
	return &Dispatcher{
		handlers:  make(map[Number]Handler),
		irqNotify: make(map[uint32]*ipc.Notification),
		maskIRQ:   maskIRQ,
		timerIRQ:  timerIRQ,
	}
}

// Register installs the handler for one syscall number, overwriting any
// previous registration for the same number.
func (d *Dispatcher) Register(num Number, h Handler) {
	d.handlers[num] = h
}

// encodeSyscallError turns a kernel.Kind into the x0 value userspace sees:
// the negated kind, so KindInvalidCapability (1) comes back as u64::MAX,
// the "conventional" error sentinel spec §4.7 names, while other kinds
// remain distinguishable as small negative numbers for a debugger.
func encodeSyscallError(kind kernel.Kind) uint64 {
	return 0 - uint64(kind)
}

// HandleSyscall decodes an SVC trap per spec §4.7: syscall number from
// x8, arguments from x0-x7, priority from x9, capabilities from x10;
// checks caller's coarse capability bit for the syscall's group; runs the
// handler; writes the result (or a negated error kind) back into x0.
func (d *Dispatcher) HandleSyscall(caller *object.TCB, frame *Frame) {
	num := Number(frame.X[8])

	h, ok := d.handlers[num]
	if !ok {
		frame.X[0] = encodeSyscallError(kernel.KindInvalidArgument)
		return
	}

	required, known := coarseGroups[num]
	if !known {
		required = object.CapAll
	}
	if !caller.Caps.Allows(required) {
		frame.X[0] = encodeSyscallError(kernel.KindPermissionDenied)
		return
	}

	var args [8]uint64
	copy(args[:], frame.X[0:8])
	priority := uint8(frame.X[9])
	capabilities := frame.X[10]

	result, err := h(caller, args, priority, capabilities)
	if err != nil {
		frame.X[0] = encodeSyscallError(kernel.KindOf(err))
		return
	}
	frame.X[0] = result
}

// killOnFault transitions t to Exited and, if OnFault is wired, reports
// the fault to the root task. Used by both the data/instruction-abort
// path and the unknown-exception path (spec §4.7: both "kill the
// thread").
func (d *Dispatcher) killOnFault(t *object.TCB, far addr.PhysAddr, esr uint64) {
	if d.OnFault != nil {
		d.OnFault(t, far, esr)
	}
	t.SetState(object.Exited)
}

// HandleAbort decodes a data or instruction abort from EL0 (spec §4.7):
// FAR_EL1 names the faulting address. v1 carries no demand-paging path,
// so every abort is fatal to the faulting thread.
func (d *Dispatcher) HandleAbort(caller *object.TCB, frame *Frame) {
	kfmt.Printf("trap: abort ec=%x far=%x elr=%x, killing thread\n", uint64(frame.EC()), frame.FAREL1, frame.ELREL1)
	d.killOnFault(caller, addr.PhysAddr(frame.FAREL1), frame.ESREL1)
}

// HandleUnknown is the fallback for any ESR_EL1.EC this dispatcher does
// not specifically decode (spec §4.7: "log ESR/ELR/FAR, kill the
// thread").
func (d *Dispatcher) HandleUnknown(caller *object.TCB, frame *Frame) {
	kfmt.Printf("trap: unknown exception ec=%x esr=%x elr=%x far=%x, killing thread\n",
		uint64(frame.EC()), frame.ESREL1, frame.ELREL1, frame.FAREL1)
	d.killOnFault(caller, addr.PhysAddr(frame.FAREL1), frame.ESREL1)
}

// HandleSynchronous decodes frame.EC() and routes to the matching
// handler, the entry point the vector stub's SVC/abort/unknown targets
// all converge on.
func (d *Dispatcher) HandleSynchronous(caller *object.TCB, frame *Frame) {
	switch frame.EC() {
	case ecSVC64:
		d.HandleSyscall(caller, frame)
	case ecDataAbortEL0, ecInstructionAbortEL0:
		d.HandleAbort(caller, frame)
	default:
		d.HandleUnknown(caller, frame)
	}
}

// BindIRQNotification installs the notification sys_irq_handler_set_
// notification signals when irq fires, implementing the extended 0x1D
// syscall (SPEC_FULL.md §4): from this point, HandleIRQ forwards that
// line to userspace instead of dropping it.
func (d *Dispatcher) BindIRQNotification(irq uint32, n *ipc.Notification) {
	d.irqNotify[irq] = n
}

// HandleIRQ routes one interrupt line (spec §4.7). The timer line is
// reported back to the caller (true) so internal/boot's timer ISR can run
// the preemption/reschedule it owns; every other line is forwarded as a
// notification signal, badged with the IRQ number, and masked at the GIC
// until the userspace driver acks and re-arms it. An IRQ with no bound
// notification is logged and masked rather than left to refire forever.
func (d *Dispatcher) HandleIRQ(irq uint32) (isTimer bool) {
	if irq == d.timerIRQ {
		return true
	}

	n, ok := d.irqNotify[irq]
	if !ok {
		kfmt.Printf("trap: unhandled IRQ %d, masking\n", irq)
		if d.maskIRQ != nil {
			d.maskIRQ(irq)
		}
		return false
	}

	if woken := n.Signal(1 << (irq % 64)); woken != nil && Enqueue != nil {
		Enqueue(woken)
	}
	if d.maskIRQ != nil {
		d.maskIRQ(irq)
	}
	return false
}

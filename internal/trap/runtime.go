package trap

import (
	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/asm"
	"github.com/coreos-arm64/capkernel/internal/object"
)

// spuriousIRQ is the GICC_IAR sentinel for "nothing pending", duplicated
// from internal/boot's GIC driver rather than imported — trap must not
// depend on boot (boot depends on trap), and the value is part of the
// GICv2 architecture, not a policy choice either package owns.
const spuriousIRQ = 1023

// Active is the single Dispatcher the exception trampoline calls into.
// internal/boot constructs it once, registers every syscall, and assigns
// this before unmasking IRQs (spec §4.8).
var Active *Dispatcher

// Current is the TCB whose context the trampoline is currently saving to
// or restoring from. internal/boot sets it once, to the root task, before
// the first eret; every trap thereafter updates it via the scheduler.
var Current *object.TCB

// SelectNext asks the scheduler for the next runnable thread. Wired by
// internal/boot so this package need not import internal/sched.
var SelectNext func() *object.TCB

// Enqueue hands a TCB an IPC/notification wake just moved to Runnable
// back to the scheduler's run-queue (spec §8's run-queue invariant: a
// Runnable TCB must be enqueued somewhere). Wired by internal/boot for
// the one wake path trap drives directly — a non-timer IRQ forwarded to
// a bound notification (HandleIRQ) — the same reason SelectNext is
// injected rather than imported.
var Enqueue func(t *object.TCB)

// AckIRQ and EndIRQ drive the GIC's acknowledge/end-of-interrupt
// registers. Wired by internal/boot, mirroring the maskIRQ callback
// NewDispatcher already takes for the same reason: trap has no GIC driver
// of its own.
var AckIRQ func() uint32
var EndIRQ func(irq uint32)

// OnTimerTick runs once per recognized timer IRQ, after acknowledgement
// and before the reschedule decision below — internal/boot wires it to
// rearm CNTP_TVAL and age the outgoing thread's time slice (spec §4.5).
var OnTimerTick func()

// Vector kinds, matching the offset order of the 16-entry AArch64
// exception vector table vectors_arm64.s lays out (ARMv8-A ARM D1.10.2):
// four groups of (sync, irq, fiq, serror) for EL1 with SP_EL0, EL1 with
// SP_EL1, a lower EL using AArch64, and a lower EL using AArch32. This
// kernel only ever runs EL1h and EL0 AArch64, so only kindSyncEL0 and
// kindIRQEL0 (and, defensively, kindIRQEL1h for a nested timer tick) carry
// real handling; everything else indicates a kernel bug.
const (
	kindSyncEL1t = iota
	kindIRQEL1t
	kindFIQEL1t
	kindSErrorEL1t
	kindSyncEL1h
	kindIRQEL1h
	kindFIQEL1h
	kindSErrorEL1h
	kindSyncEL0
	kindIRQEL0
	kindFIQEL0
	kindSErrorEL0
)

func saveFrame(t *object.TCB, f *Frame) {
	t.Ctx.X = f.X
	t.Ctx.SPEL0 = f.SPEL0
	t.Ctx.ELREL1 = f.ELREL1
	t.Ctx.SPSREL1 = f.SPSREL1
	t.Ctx.TTBR0 = f.TTBR0
}

func loadFrame(t *object.TCB, f *Frame) {
	f.X = t.Ctx.X
	f.SPEL0 = t.Ctx.SPEL0
	f.ELREL1 = t.Ctx.ELREL1
	f.SPSREL1 = t.Ctx.SPSREL1
	f.TTBR0 = t.Ctx.TTBR0

	// A rendezvous or signal that woke t (rather than t observing it
	// directly, in-handler) has no syscall return value yet in t.Ctx.X —
	// the handler that recorded IPCWords ran on the *other* thread's stack.
	// Surface it here, the one place every thread's register file is
	// restored before resuming (TCB.IPCWords' doc comment: "the trap
	// dispatcher reads it back into the thread's IPC buffer on resume").
	// A single coalesced word (the Notification case — spec §8 scenario 4
	// expects wait's raw accumulated word in x0 whether or not it blocked
	// first) lands directly in X[0]; a multi-word Endpoint message is
	// length-prefixed, X[0] = count and X[1:] = the words.
	if n := len(t.IPCWords); n == 1 {
		f.X[0] = t.IPCWords[0]
		t.Ctx.X = f.X
		t.IPCWords = nil
	} else if n > 1 {
		f.X[0] = uint64(n)
		for i := 0; i < n && i+1 < len(f.X); i++ {
			f.X[i+1] = t.IPCWords[i]
		}
		t.Ctx.X = f.X
		t.IPCWords = nil
	}
}

// trapCommon is the Go-side target of every exception entry. The assembly
// trampoline (vectors_arm64.s) saves and restores only the 31-register
// general-purpose file; every other piece of architectural state —
// ESR/FAR/ELR/SPSR/TTBR0 — is read and written here through the asm
// package's plain Go-callable accessors, so the policy in this function,
// not hand-written assembly, is what spec §4.7 actually describes.
//
// On a sim build nothing calls this from real hardware; boot_test.go
// calls it directly (via Dispatch, in vectors_sim.go) to exercise the
// same reschedule/context-switch logic the real trampoline drives.
func trapCommon(f *Frame, kind uint32) {
	f.ESREL1 = asm.ReadESR()
	f.FAREL1 = asm.ReadFAR()
	f.ELREL1 = asm.ReadELR()
	f.SPSREL1 = asm.ReadSPSR()
	f.TTBR0 = addr.PhysAddr(asm.ReadTTBR0())

	caller := Current
	if caller != nil {
		saveFrame(caller, f)
	}

	timerFired := false
	switch kind {
	case kindSyncEL0:
		if Active != nil && caller != nil {
			Active.HandleSynchronous(caller, f)
		}
	case kindIRQEL0, kindIRQEL1h:
		irq := uint32(spuriousIRQ)
		if AckIRQ != nil {
			irq = AckIRQ()
		}
		if Active != nil {
			timerFired = Active.HandleIRQ(irq)
			if timerFired && OnTimerTick != nil {
				OnTimerTick()
			}
		}
		if EndIRQ != nil {
			EndIRQ(irq)
		}
	default:
		// EL1h synchronous/FIQ/SError, or an EL0 FIQ: never expected in
		// v1 — a kernel-mode fault is a bug, not a recoverable condition
		// (spec §7: "invariant violations are fatal").
		panic("trap: unexpected exception kind")
	}

	voluntaryYield := kind == kindSyncEL0 && f.X[8] == uint64(SysYield)

	if caller != nil {
		saveFrame(caller, f) // a syscall handler may have mutated X[0] (its result)
	}

	reschedule := caller == nil || timerFired || voluntaryYield
	if caller != nil && !reschedule && caller.State() != object.Running {
		reschedule = true
	}

	next := caller
	if reschedule {
		if caller != nil && caller.State() == object.Running {
			caller.SetState(object.Runnable)
		}
		if SelectNext != nil {
			if n := SelectNext(); n != nil {
				next = n
			} else {
				next = nil
			}
		}
	}
	if next != nil && next.State() != object.Running {
		next.SetState(object.Running)
	}
	Current = next

	if Current != nil {
		loadFrame(Current, f)
		if f.TTBR0 != addr.PhysAddr(asm.ReadTTBR0()) {
			asm.WriteTTBR0(uint64(f.TTBR0))
			asm.FlushTLBAll()
		}
		asm.WriteELR(f.ELREL1)
		asm.WriteSPSR(f.SPSREL1)
		asm.WriteSPEL0(f.SPEL0)
	}
}

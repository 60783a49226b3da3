package trap

import (
	"testing"

	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/ipc"
	"github.com/coreos-arm64/capkernel/internal/kernel"
	"github.com/coreos-arm64/capkernel/internal/object"
)

func newTestTCB(caps object.CapMask) *object.TCB {
	t := object.NewTCB(0, 0, addr.VirtAddr(0))
	t.Caps = caps
	t.SetState(object.Runnable)
	t.SetState(object.Running)
	return t
}

func frameForSyscall(num Number, args ...uint64) *Frame {
	f := &Frame{}
	f.X[8] = uint64(num)
	for i, a := range args {
		f.X[i] = a
	}
	f.ESREL1 = uint64(ecSVC64) << 26
	return f
}

func TestHandleSyscallDispatchesAndReturnsResult(t *testing.T) {
	d := NewDispatcher(30, nil)
	d.Register(SysYield, func(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
		return 42, nil
	})

	caller := newTestTCB(object.CapAll)
	frame := frameForSyscall(SysYield)

	d.HandleSyscall(caller, frame)

	if frame.X[0] != 42 {
		t.Fatalf("expected x0 == 42, got %d", frame.X[0])
	}
}

func TestHandleSyscallUnknownNumberReturnsInvalidArgument(t *testing.T) {
	d := NewDispatcher(30, nil)
	caller := newTestTCB(object.CapAll)
	frame := frameForSyscall(Number(0xFF))

	d.HandleSyscall(caller, frame)

	if frame.X[0] != encodeSyscallError(kernel.KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument sentinel, got %#x", frame.X[0])
	}
}

func TestHandleSyscallRejectsMissingCapability(t *testing.T) {
	d := NewDispatcher(30, nil)
	called := false
	d.Register(SysMemoryAllocate, func(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
		called = true
		return 0, nil
	})

	caller := newTestTCB(object.CapIPC) // no CapMemory
	frame := frameForSyscall(SysMemoryAllocate)

	d.HandleSyscall(caller, frame)

	if called {
		t.Fatal("expected handler not to run without the required capability")
	}
	if frame.X[0] != encodeSyscallError(kernel.KindPermissionDenied) {
		t.Fatalf("expected PermissionDenied sentinel, got %#x", frame.X[0])
	}
}

func TestHandleSyscallPropagatesHandlerError(t *testing.T) {
	d := NewDispatcher(30, nil)
	d.Register(SysCapAllocate, func(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
		return 0, kernel.New(module, kernel.KindNotFound, "no free slot")
	})

	caller := newTestTCB(object.CapAll)
	frame := frameForSyscall(SysCapAllocate)

	d.HandleSyscall(caller, frame)

	if frame.X[0] != encodeSyscallError(kernel.KindNotFound) {
		t.Fatalf("expected NotFound sentinel, got %#x", frame.X[0])
	}
}

func TestHandleSyscallPassesArgsPriorityAndCapabilities(t *testing.T) {
	d := NewDispatcher(30, nil)
	var gotArgs [8]uint64
	var gotPriority uint8
	var gotCaps uint64
	d.Register(SysProcessCreate, func(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
		gotArgs = args
		gotPriority = priority
		gotCaps = capabilities
		return 1, nil
	})

	caller := newTestTCB(object.CapAll)
	frame := frameForSyscall(SysProcessCreate, 0xAAAA, 0xBBBB)
	frame.X[9] = 7
	frame.X[10] = 0xCAFE

	d.HandleSyscall(caller, frame)

	if gotArgs[0] != 0xAAAA || gotArgs[1] != 0xBBBB {
		t.Fatalf("expected args forwarded, got %v", gotArgs)
	}
	if gotPriority != 7 {
		t.Fatalf("expected priority 7, got %d", gotPriority)
	}
	if gotCaps != 0xCAFE {
		t.Fatalf("expected capabilities 0xCAFE, got %#x", gotCaps)
	}
}

func TestHandleSynchronousRoutesAbortToKillPath(t *testing.T) {
	d := NewDispatcher(30, nil)
	caller := newTestTCB(object.CapAll)

	var reportedFAR addr.PhysAddr
	d.OnFault = func(t *object.TCB, far addr.PhysAddr, esr uint64) {
		reportedFAR = far
	}

	frame := &Frame{}
	frame.ESREL1 = uint64(ecDataAbortEL0) << 26
	frame.FAREL1 = 0x41000

	d.HandleSynchronous(caller, frame)

	if caller.State() != object.Exited {
		t.Fatalf("expected faulting thread Exited, got %v", caller.State())
	}
	if reportedFAR != addr.PhysAddr(0x41000) {
		t.Fatalf("expected fault reported with FAR 0x41000, got %#x", reportedFAR)
	}
}

func TestHandleSynchronousUnknownClassKillsThread(t *testing.T) {
	d := NewDispatcher(30, nil)
	caller := newTestTCB(object.CapAll)

	frame := &Frame{}
	frame.ESREL1 = uint64(0x3F) << 26 // not SVC, not an abort class

	d.HandleSynchronous(caller, frame)

	if caller.State() != object.Exited {
		t.Fatalf("expected thread Exited on unknown exception, got %v", caller.State())
	}
}

func TestHandleIRQTimerLineReportsTrueWithoutForwarding(t *testing.T) {
	d := NewDispatcher(30, nil)
	if isTimer := d.HandleIRQ(30); !isTimer {
		t.Fatal("expected the configured timer IRQ to report isTimer=true")
	}
}

func TestHandleIRQForwardsBoundLineAsNotificationSignal(t *testing.T) {
	d := NewDispatcher(30, nil)
	n := ipc.NewNotification()
	d.BindIRQNotification(42, n)

	masked := uint32(0)
	d.maskIRQ = func(irq uint32) { masked = irq }

	if isTimer := d.HandleIRQ(42); isTimer {
		t.Fatal("expected a non-timer IRQ to report isTimer=false")
	}
	if got := n.Poll(); got != 1<<42 {
		t.Fatalf("expected notification signalled with badge 1<<42, got %#x", got)
	}
	if masked != 42 {
		t.Fatalf("expected IRQ 42 masked, got %d", masked)
	}
}

func TestHandleIRQUnboundLineIsMaskedAndDropped(t *testing.T) {
	d := NewDispatcher(30, nil)
	masked := uint32(0)
	d.maskIRQ = func(irq uint32) { masked = irq }

	d.HandleIRQ(99)

	if masked != 99 {
		t.Fatalf("expected unbound IRQ 99 masked, got %d", masked)
	}
}

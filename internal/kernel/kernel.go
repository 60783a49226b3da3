// Package kernel holds the types shared across every other kernel package:
// the closed error enumeration returned by fallible operations (spec §7)
// and the fatal-halt path taken when an invariant is violated.
package kernel

import "github.com/coreos-arm64/capkernel/internal/kfmt"

// Kind is one of the nine closed error kinds from spec §7. Kind values are
// never extended at runtime; userspace sees them as the negated syscall
// return value.
type Kind uint8

const (
	_ Kind = iota
	KindInvalidCapability
	KindInsufficientRights
	KindNotFound
	KindInsufficientMemory
	KindAlignmentError
	KindInvalidState
	KindPermissionDenied
	KindInvalidArgument
	KindFault
)

var kindNames = [...]string{
	"",
	"invalid capability",
	"insufficient rights",
	"not found",
	"insufficient memory",
	"alignment error",
	"invalid state",
	"permission denied",
	"invalid argument",
	"fault",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown kind"
}

// Error is the value every fallible kernel operation returns. Module
// identifies the subsystem that raised it (mirrors gopheros's
// kernel.Error{Module, Message} convention), which keeps panic/log output
// traceable without needing a stack trace facility this early in boot.
type Error struct {
	Module  string
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Module + ": " + e.Kind.String()
	}
	return e.Module + ": " + e.Kind.String() + ": " + e.Message
}

// New constructs an *Error. Callers typically wrap this in a package-level
// constructor (e.g. pfa.ErrOutOfMemory) so call sites read like a sentinel
// comparison.
func New(module string, kind Kind, message string) *Error {
	return &Error{Module: module, Kind: kind, Message: message}
}

// KindOf extracts the Kind from any error produced by this package, or
// KindFault if err is not one of ours (conservative default: treat unknown
// failures as faults, never silently succeed).
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindFault
}

// Panic prints msg and halts the system. Spec §7: "the kernel does not
// attempt recovery from internal inconsistencies... invariant violations
// are fatal and halt the system." This is reserved for conditions that
// indicate a kernel bug (CDT cycle, double free, scheduler/queue state
// desync) — never for errors a caller can reasonably hit, which return an
// *Error instead.
func Panic(module, msg string) {
	kfmt.Printf("KERNEL PANIC [%s]: %s\n", module, msg)
	Halt()
}

// Halt is overridden by internal/asm on real hardware (wfi loop); the sim
// build terminates the process so test suites observe the failure.
var Halt = func() {
	panic("kernel halt")
}

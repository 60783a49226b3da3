//go:build !arm64

package trap

// InstallVectors is a no-op on a sim build: there is no VBAR_EL1 to
// program and no real hardware to trap from.
func InstallVectors() {}

// DispatchSyscall and DispatchIRQ let boot_test.go (and any other sim
// test) drive the exact reschedule/context-switch logic trapCommon
// implements, standing in for a real SVC or IRQ trap on hardware.
func DispatchSyscall(f *Frame) { trapCommon(f, kindSyncEL0) }
func DispatchIRQ(f *Frame)     { trapCommon(f, kindIRQEL0) }

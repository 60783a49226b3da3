package boot

// GICv2 distributor and CPU interface register offsets, and the bring-up/
// masking sequence spec §4.8 needs ("unmask IRQs" at the end of boot) and
// trap.NewDispatcher's maskIRQ callback needs throughout.
//
// Grounded in mazboot/golang/main/gic_qemu.go's gicInit/gicInitFull and
// gicEnableInterrupt/gicDisableInterrupt: same GICD_CTLR/ISENABLERn/
// ICENABLERn/IPRIORITYRn/ITARGETSRn/ICFGRn offsets, same dist+cpu enable
// sequence (mask everything, route to group 0, flat priority, route to
// CPU0, level-triggered, enable both interfaces). That file also owns
// gicAcknowledgeInterrupt/gicEndOfInterrupt and a hand-rolled dispatch
// table; here those two concerns split the way uart.go already splits
// PL011 access from kfmt.Sink — GIC owns only mask/unmask/ack/eoi, and
// internal/trap.Dispatcher owns routing.
const (
	gicdCTLR    = 0x000
	gicdTYPER   = 0x004
	gicdIGROUPR = 0x080
	gicdISENABLER = 0x100
	gicdICENABLER = 0x180
	gicdIPRIORITYR = 0x400
	gicdITARGETSR  = 0x800
	gicdICFGR      = 0xC00

	gicdNumIRQRegs = 32 // 1024 IRQ lines / 32 bits per register

	giccCTLR = 0x000
	giccPMR  = 0x004
	giccBPR  = 0x008
	giccIAR  = 0x00C
	giccEOIR = 0x010

	gicSpuriousIRQ = 1023
)

// GIC wraps the distributor and CPU interface MMIO windows platform.Config
// names (spec §6.4's GICDistBase/GICCPUBase).
type GIC struct {
	distBase, cpuBase uintptr
}

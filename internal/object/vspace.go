package object

import (
	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/pte"
)

// VSpace is a process's virtual address space: a root page-table frame
// plus the Engine used to walk it (spec §3: "a root page-table frame
// plus enough derived state to track which pages/tables have been
// installed"). Mapped/unmapped ranges are tracked implicitly by the page
// tables themselves rather than duplicated bookkeeping, matching
// internal/pte.Engine's stateless-walk design.
type VSpace struct {
	Root   addr.PhysAddr
	engine *pte.Engine
}

// NewVSpace wraps a freshly retyped, zeroed root-table frame. engine is
// shared across every VSpace in the kernel (it carries no per-address-
// space state of its own).
func NewVSpace(root addr.PhysAddr, engine *pte.Engine) *VSpace {
	return &VSpace{Root: root, engine: engine}
}

// Map installs a mapping in this VSpace's tables.
func (v *VSpace) Map(va addr.VirtAddr, pa addr.PhysAddr, size uint64, flags pte.Flags) error {
	return v.engine.Map(v.Root, va, pa, size, flags)
}

// Unmap clears a mapping in this VSpace's tables.
func (v *VSpace) Unmap(va addr.VirtAddr, size uint64) error {
	return v.engine.Unmap(v.Root, va, size)
}

// Translate walks this VSpace's tables purely in software — how the
// kernel reads/writes a thread's memory without switching TTBR0 first.
func (v *VSpace) Translate(va addr.VirtAddr) (addr.PhysAddr, bool) {
	return v.engine.Translate(v.Root, va)
}

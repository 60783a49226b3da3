// Package asm wraps every privileged AArch64 instruction and system
// register the kernel touches: barriers, TLB maintenance, TTBR/TCR/MAIR/
// SCTLR/VBAR access, and the timer and interrupt-mask instructions.
//
// Grounded in iansmith-mazarin/src/mazboot/golang/main's use of a sibling
// "mazboot/asm" package (register helpers called from Go, bodies in
// assembly) and usbarmory-tamago/arm64's "defined in foo.s" convention. As
// in tamago, a function declared here with no body is implemented in the
// matching .s file; the arm64 build tag gates both from the sim variant in
// asm_sim.go, which backs the same surface with plain Go state so the rest
// of the tree is host-testable (spec §8's testable properties are checked
// this way).
package asm

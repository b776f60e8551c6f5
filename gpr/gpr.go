// Package gpr is the typed general-purpose-register save block used
// by the world-switch, a thin naming layer over kvmhal.Regs. This is
// the "guest_regs" block: placed at a vCpu's head by embedding, with
// host_stack_top immediately after (see the vcpu package's
// init-time offset check).
package gpr

import "github.com/shvisor/vcore/kvmhal"

// Block is the 16-GPR plus RIP/RFLAGS save block.
type Block = kvmhal.Regs

// New returns a zeroed register block.
func New() Block { return Block{} }

// Get returns the GPR at index i using x86-64 ModRM/SIB numbering
// (0=RAX, 1=RCX, 2=RDX, 3=RBX, 4=RSP, 5=RBP, 6=RSI, 7=RDI, 8-15=R8-R15),
// the same numbering set_gpr(i, v) uses at the public API boundary.
func Get(b *Block, i int) uint64 {
	switch i {
	case 0:
		return b.RAX
	case 1:
		return b.RCX
	case 2:
		return b.RDX
	case 3:
		return b.RBX
	case 4:
		return b.RSP
	case 5:
		return b.RBP
	case 6:
		return b.RSI
	case 7:
		return b.RDI
	case 8:
		return b.R8
	case 9:
		return b.R9
	case 10:
		return b.R10
	case 11:
		return b.R11
	case 12:
		return b.R12
	case 13:
		return b.R13
	case 14:
		return b.R14
	case 15:
		return b.R15
	default:
		return 0
	}
}

// Set writes the GPR at index i using the same numbering as Get.
func Set(b *Block, i int, v uint64) {
	switch i {
	case 0:
		b.RAX = v
	case 1:
		b.RCX = v
	case 2:
		b.RDX = v
	case 3:
		b.RBX = v
	case 4:
		b.RSP = v
	case 5:
		b.RBP = v
	case 6:
		b.RSI = v
	case 7:
		b.RDI = v
	case 8:
		b.R8 = v
	case 9:
		b.R9 = v
	case 10:
		b.R10 = v
	case 11:
		b.R11 = v
	case 12:
		b.R12 = v
	case 13:
		b.R13 = v
	case 14:
		b.R14 = v
	case 15:
		b.R15 = v
	}
}

// Package linuxctx snapshots and restores a host OS's full register
// and descriptor-table state for the type-1.5 "dormant/resume"
// startup path, where a logical CPU hands itself to the core and must
// be able to resume exactly where it left off. The binary round-trip
// technique — aliasing a fixed-size struct's memory as a byte slice to
// capture/restore it verbatim — uses structBytes/copyStruct generics
// directly on kvmhal.Regs/Sregs, since a live LinuxContext is
// restored in-process rather than shipped over the wire.
package linuxctx

import (
	"unsafe"

	"github.com/shvisor/vcore/kvmhal"
	"github.com/shvisor/vcore/msr"
)

// structBytes returns a byte slice that aliases the memory of v.
func structBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// copyStruct fills *dst from a byte slice produced by structBytes.
func copyStruct[T any](dst *T, b []byte) {
	size := int(unsafe.Sizeof(*dst))
	if len(b) < size {
		return
	}

	copy(unsafe.Slice((*byte)(unsafe.Pointer(dst)), size), b[:size])
}

func cloneBytes(s []byte) []byte {
	c := make([]byte, len(s))
	copy(c, s)

	return c
}

var sysenterMSRs = []msr.MSR{msr.IA32_SYSENTER_CS, msr.IA32_SYSENTER_ESP, msr.IA32_SYSENTER_EIP}

// Context is a captured host register/descriptor snapshot: every
// segment selector/base/limit/AR byte, GDTR/IDTR, the control
// registers, RSP/RIP, the SYSENTER MSRs, PAT and EFER.
type Context struct {
	vcpuFd uintptr

	regsBytes  []byte
	sregsBytes []byte

	sysenterCS, sysenterESP, sysenterEIP uint64
	pat, efer                            uint64
}

// LoadFrom captures the current state of the vCPU fd representing
// this logical CPU. Under bare-metal ring -1 this would be sgdt/sidt
// plus direct register reads; mediated by KVM, the equivalent state
// is read back through KVM_GET_REGS/KVM_GET_SREGS/KVM_GET_MSRS on a
// vCPU the type-1.5 host has bound to the current physical CPU.
func LoadFrom(vcpuFd uintptr) (*Context, error) {
	regs, err := kvmhal.GetRegs(vcpuFd)
	if err != nil {
		return nil, err
	}

	sregs, err := kvmhal.GetSregs(vcpuFd)
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		vcpuFd:     vcpuFd,
		regsBytes:  cloneBytes(structBytes(regs)),
		sregsBytes: cloneBytes(structBytes(sregs)),
		efer:       sregs.EFER,
	}

	if v, err := msr.Read(vcpuFd, msr.IA32_PAT); err == nil {
		ctx.pat = v
	}

	if v, err := msr.Read(vcpuFd, sysenterMSRs[0]); err == nil {
		ctx.sysenterCS = v
	}

	if v, err := msr.Read(vcpuFd, sysenterMSRs[1]); err == nil {
		ctx.sysenterESP = v
	}

	if v, err := msr.Read(vcpuFd, sysenterMSRs[2]); err == nil {
		ctx.sysenterEIP = v
	}

	return ctx, nil
}

// Restore writes the captured snapshot back, byte-for-byte, onto the
// same vCPU fd it was captured from.
func (c *Context) Restore() error {
	var regs kvmhal.Regs
	copyStruct(&regs, c.regsBytes)

	if err := kvmhal.SetRegs(c.vcpuFd, &regs); err != nil {
		return err
	}

	var sregs kvmhal.Sregs
	copyStruct(&sregs, c.sregsBytes)

	if err := kvmhal.SetSregs(c.vcpuFd, &sregs); err != nil {
		return err
	}

	if err := msr.Write(c.vcpuFd, msr.IA32_PAT, c.pat); err != nil {
		return err
	}

	if err := msr.Write(c.vcpuFd, sysenterMSRs[0], c.sysenterCS); err != nil {
		return err
	}

	if err := msr.Write(c.vcpuFd, sysenterMSRs[1], c.sysenterESP); err != nil {
		return err
	}

	return msr.Write(c.vcpuFd, sysenterMSRs[2], c.sysenterEIP)
}

// Sregs returns the captured special registers, used by
// vcpu.SetupFromContext to copy CR0/CR3/CR4/segments/GDTR/IDTR/EFER
// into the guest half.
func (c *Context) Sregs() kvmhal.Sregs {
	var sregs kvmhal.Sregs
	copyStruct(&sregs, c.sregsBytes)

	return sregs
}

// Regs returns the captured general purpose registers (RSP/RIP and
// the rest), used the same way.
func (c *Context) Regs() kvmhal.Regs {
	var regs kvmhal.Regs
	copyStruct(&regs, c.regsBytes)

	return regs
}

// PAT and EFER return the captured MSR values.
func (c *Context) PAT() uint64  { return c.pat }
func (c *Context) EFER() uint64 { return c.efer }

package vcpu

import (
	"github.com/shvisor/vcore/control"
	"github.com/shvisor/vcore/kvmhal"
	"github.com/shvisor/vcore/linuxctx"
	"github.com/shvisor/vcore/msr"
	"github.com/shvisor/vcore/segment"
	"github.com/shvisor/vcore/verror"
)

// crFixedFlags are the CR0 bits a real-mode "fresh start" guest boots
// with: NW (not write-through, bit 29), CD (cache disable, bit 30),
// ET (extension type, bit 4).
const crFixedFlags = 1<<4 | 1<<29 | 1<<30

// Setup configures this vCpu for a "fresh start" real-mode boot at the
// entry point recorded by SetEntry. It fails NotEnabled if the vCpu
// is not bound, and InvalidInput if SetEntry or SetEPTRoot was never
// called.
func (v *VCpu) Setup() error {
	if v.cs == nil {
		return verror.NotEnabled
	}

	if !v.hasEntry || !v.hasEPTRoot {
		return verror.InvalidInput
	}

	if err := v.checkFixedBits(); err != nil {
		return err
	}

	sregs, err := kvmhal.GetSregs(v.vcpuFd)
	if err != nil {
		return err
	}

	sregs.CR0 = crFixedFlags
	sregs.CR3 = 0
	sregs.CR4 = 0

	sregs.CS = segment.CodeSegment(0)
	sregs.DS = segment.DataSegment(0)
	sregs.ES = segment.DataSegment(0)
	sregs.FS = segment.DataSegment(0)
	sregs.GS = segment.DataSegment(0)
	sregs.SS = segment.DataSegment(0)
	sregs.TR = segment.TSSSegment(0)
	sregs.LDT = segment.LDTSegment(0)

	sregs.EFER = 0

	if err := kvmhal.SetSregs(v.vcpuFd, sregs); err != nil {
		return err
	}

	// IA32_PAT = host value; the vCPU's MSR view starts as
	// a copy of the host's, so this is a no-op read-then-write kept
	// explicit for clarity at the call site.
	if hostPAT, err := msr.Read(v.vcpuFd, msr.IA32_PAT); err == nil {
		if err := msr.Write(v.vcpuFd, msr.IA32_PAT, hostPAT); err != nil {
			return err
		}
	}

	regs, err := kvmhal.GetRegs(v.vcpuFd)
	if err != nil {
		return err
	}

	*regs = kvmhal.Regs{}
	regs.RIP = uint64(v.entry)
	regs.RSP = 0
	regs.RFLAGS = 0x2

	if err := kvmhal.SetRegs(v.vcpuFd, regs); err != nil {
		return err
	}

	var dr kvmhal.DebugRegs

	dr.DR7 = 0x400
	if err := kvmhal.SetDebugRegs(v.vcpuFd, &dr); err != nil {
		return err
	}

	v.cs.InstallNestedRoot(v.eptRoot)
	v.cs.SetIntercept(control.InterceptHLT, true)

	return v.programCPUID()
}

// SetupFromContext configures this vCpu with the "adopt host context"
// path: every segment, CR0/CR3/CR4, GDTR/
// IDTR, the GPRs with RSP/RIP, PAT and EFER are copied verbatim from
// ctx; the SYSENTER MSRs held in ctx are not written to this vCpu.
// LDTR is forced invalid, matching a type-1.5 host that never ran
// guest code in an LDT-using ring.
func (v *VCpu) SetupFromContext(ctx *linuxctx.Context) error {
	if v.cs == nil {
		return verror.NotEnabled
	}

	if !v.hasEPTRoot {
		return verror.InvalidInput
	}

	sregs := ctx.Sregs()
	sregs.LDT.Present = 0
	sregs.EFER = ctx.EFER()

	if err := kvmhal.SetSregs(v.vcpuFd, &sregs); err != nil {
		return err
	}

	regs := ctx.Regs()
	if err := kvmhal.SetRegs(v.vcpuFd, &regs); err != nil {
		return err
	}

	if err := msr.Write(v.vcpuFd, msr.IA32_PAT, ctx.PAT()); err != nil {
		return err
	}

	v.cs.InstallNestedRoot(v.eptRoot)

	return v.programCPUID()
}

// checkFixedBits verifies the fresh-start CR0 value (crFixedFlags)
// satisfies the IA32_VMX_CR0_FIXED0/1 masks, failing InvalidVmcsConfig
// if not. CR4 is not checked.
func (v *VCpu) checkFixedBits() error {
	fixed0, err := msr.Read(v.vcpuFd, msr.IA32_VMX_CR0_FIXED0)
	if err != nil {
		return nil // AMD has no equivalent MSR pair; nothing to check
	}

	fixed1, err := msr.Read(v.vcpuFd, msr.IA32_VMX_CR0_FIXED1)
	if err != nil {
		return nil
	}

	cr0 := uint64(crFixedFlags)
	if cr0&fixed0 != fixed0 || cr0&^fixed1 != 0 {
		return &verror.InvalidVmcsConfig{Detail: "CR0 violates fixed0/fixed1 mask"}
	}

	return nil
}

package vcpu

import (
	"github.com/shvisor/vcore/control"
	"github.com/shvisor/vcore/kvmhal"
	"github.com/shvisor/vcore/msr"
	"github.com/shvisor/vcore/verror"
)

// xcr0FPUMMX, xcr0SSE, xcr0AVX, xcr0BNDREG, xcr0BNDCSR and the
// AVX-512 triad are the XCR0 component bits the XSETBV built-in
// handler validates.
const (
	xcr0FPUMMX = 1 << 0
	xcr0SSE    = 1 << 1
	xcr0AVX    = 1 << 2
	xcr0BNDREG = 1 << 3
	xcr0BNDCSR = 1 << 4
	xcr0Opmask = 1 << 5
	xcr0ZMMHi  = 1 << 6
	xcr0Hi16ZMM = 1 << 7
	xcr0AVX512 = xcr0Opmask | xcr0ZMMHi | xcr0Hi16ZMM
)

// RearmPreemptionTimer implements the PREEMPTION_TIMER built-in on
// Intel builds: reload the VMX preemption timer with the configured
// value (default 1_000_000). No KVM exit reason
// surfaces this directly to userspace — the kernel's own VMX run loop
// reloads and re-arms the timer around each KVM_RUN — so this exists
// for API completeness and direct exercise by tests, the same
// "core validates/documents state, caller owns timing" shape
// SetPreemptionTimerValue already follows. On an AMD build this is a
// documented no-op (the AMD control structure has no equivalent
// field).
func (v *VCpu) RearmPreemptionTimer() {
	if vmcs, ok := v.cs.(*control.VMCS); ok {
		vmcs.SetPreemptionTimerValue(v.preemptionTimerValue)
	}
}

// SetGuestXCR0 implements the XSETBV built-in handler: validates the
// requested value against the component-dependency rules, and on
// success stores it as guest_xcr0. Callers advance the guest's RIP by
// 3 themselves once this returns nil, matching every other built-in
// handler's "core validates state, caller owns RIP". Like
// RearmPreemptionTimer, no KVM exit reason surfaces XSETBV to
// userspace under normal operation — the kernel handles it in-kernel
// on both vendors — so Run's switch has no case that reaches this;
// it exists for API completeness and direct exercise by tests.
func (v *VCpu) SetGuestXCR0(index uint32, value uint64) error {
	if index != 0 {
		return verror.InvalidInput
	}

	if value&xcr0FPUMMX != xcr0FPUMMX {
		return verror.BadState
	}

	if value&xcr0AVX != 0 && value&xcr0SSE == 0 {
		return verror.BadState
	}

	if value&xcr0BNDCSR != 0 && value&xcr0BNDREG == 0 {
		return verror.BadState
	}

	if value&xcr0BNDREG != 0 && value&xcr0BNDCSR == 0 {
		return verror.BadState
	}

	hasAny := value&xcr0AVX512 != 0
	hasAll := value&xcr0AVX512 == xcr0AVX512

	if hasAny && !hasAll {
		return verror.BadState
	}

	if hasAll && value&xcr0AVX == 0 {
		return verror.BadState
	}

	v.xs.GuestXCR0 = value

	return nil
}

// SetGuestCR implements the CR_ACCESS (MOV-to-CR0/CR4) built-in
// handler: validates against the IA32_VMX_CRx_FIXED0/1 masks (when
// both MSRs are readable) and, on a VMCS, records value as the CR0 or
// CR4 read shadow, refreshing guest EFER.LMA if a CR0 write toggles
// CR0.PG. It does not write the guest's CR0/CR4 or the guest/host
// mask, and on a VMCB it records nothing. which selects CR0 (0) or
// CR4 (4).
// As with SetGuestXCR0, vanilla KVM handles CR_ACCESS in-kernel and
// never exits to userspace for it, so Run's switch has no case that
// reaches this; it exists for API completeness and direct exercise by
// tests.
func (v *VCpu) SetGuestCR(which int, value uint64) error {
	var fixed0MSR, fixed1MSR msr.MSR

	switch which {
	case 0:
		fixed0MSR, fixed1MSR = msr.IA32_VMX_CR0_FIXED0, msr.IA32_VMX_CR0_FIXED1
	case 4:
		fixed0MSR, fixed1MSR = msr.IA32_VMX_CR4_FIXED0, msr.IA32_VMX_CR4_FIXED1
	default:
		return verror.InvalidInput
	}

	fixed0, err0 := msr.Read(v.vcpuFd, fixed0MSR)
	fixed1, err1 := msr.Read(v.vcpuFd, fixed1MSR)

	if err0 == nil && err1 == nil {
		if value&fixed0 != fixed0 || value&^fixed1 != 0 {
			return &verror.InvalidVmcsConfig{Detail: "CR write violates fixed0/fixed1 mask"}
		}
	}

	if vmcs, ok := v.cs.(*control.VMCS); ok && which == 0 {
		togglesPG := (vmcs.GuestCR0Shadow()^value)&(1<<31) != 0
		vmcs.SetGuestCR0Shadow(value)

		if togglesPG {
			if err := v.refreshEFERLMA(value); err != nil {
				return err
			}
		}
	}

	if vmcs, ok := v.cs.(*control.VMCS); ok && which == 4 {
		vmcs.SetGuestCR4Shadow(value)
	}

	return nil
}

// refreshEFERLMA sets or clears EFER.LMA to match CR0.PG and
// EFER.LME, the long-mode activation rule that applies whenever
// CR0.PG toggles during a CR_ACCESS exit.
func (v *VCpu) refreshEFERLMA(cr0 uint64) error {
	sregs, err := kvmhal.GetSregs(v.vcpuFd)
	if err != nil {
		return err
	}

	paging := cr0&(1<<31) != 0
	longModeEnabled := sregs.EFER&msr.EFER_LME != 0

	if paging && longModeEnabled {
		sregs.EFER |= msr.EFER_LMA
	} else {
		sregs.EFER &^= msr.EFER_LMA
	}

	return kvmhal.SetSregs(v.vcpuFd, sregs)
}

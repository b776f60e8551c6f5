package control

import (
	"github.com/shvisor/vcore/hal"
	"github.com/shvisor/vcore/kvmhal"
	"github.com/shvisor/vcore/verror"
)

// VMCS is the Intel VT-x control structure. Real hardware makes it
// opaque between vmclear/vmptrld/vmread/vmwrite; under the
// KVM-mediated world switch this module keeps a typed shadow of the
// fields the core programs. The shadow is not written to the kernel's
// real VMCS; the vCpu run loop only records each exit's outcome into
// it through SetExitInfo. Field names follow the Intel SDM Vol. 3C
// Appendix B encoding families; only the subset this core exercises
// is modeled.
type VMCS struct {
	phys hal.HostPhysAddr

	pinBased      uint32
	procBased     uint32
	procBased2    uint32
	exitControls  uint32
	entryControls uint32
	exceptionBitmap uint32

	ioBitmapA, ioBitmapB hal.HostPhysAddr
	msrBitmap            hal.HostPhysAddr
	eptPointer           hal.HostPhysAddr

	guestCR0Mask, guestCR0Shadow uint64
	guestCR4Mask, guestCR4Shadow uint64

	exitReason      uint32
	exitQualification uint64
	exitInterruptionInfo uint32
	vmEntryFailed   bool

	interruptWindow bool
	preemptionTimerValue uint32
}

// NewVMCS wraps a frame's physical address as a fresh VMCS shadow.
// The revision id at offset 0 of the real backing page (the first 4
// bytes) is written by the caller once; this shadow only tracks the
// fields the core programs.
func NewVMCS(phys hal.HostPhysAddr) *VMCS {
	return &VMCS{phys: phys}
}

// StartPAddr implements ControlStructure.
func (v *VMCS) StartPAddr() hal.HostPhysAddr { return v.phys }

// SetControl performs a capability-checked control write: it reads
// the true/cap MSR pair, verifies every bit in setMask is in
// the allowed-1 set and every bit in clearMask is in the allowed-0
// set, and returns the value to store, or InvalidVmcsConfig.
func SetControl(vcpuFd uintptr, trueMSR, capMSR uint32, setMask, clearMask uint32) (uint32, error) {
	lo, hi, err := readCapPair(vcpuFd, trueMSR)
	if err != nil {
		lo, hi, err = readCapPair(vcpuFd, capMSR)
		if err != nil {
			return 0, err
		}
	}

	allowed0 := lo
	allowed1 := hi

	if setMask&^allowed1 != 0 {
		return 0, &verror.InvalidVmcsConfig{Detail: "required bit not allowed-1"}
	}

	if clearMask&allowed0 != 0 {
		return 0, &verror.InvalidVmcsConfig{Detail: "required-clear bit not allowed-0"}
	}

	value := (setMask | allowed0) &^ clearMask

	return value, nil
}

func readCapPair(vcpuFd uintptr, capMSR uint32) (lo, hi uint32, err error) {
	msrs := kvmhal.MSRS{NMSRs: 1}
	msrs.Entries[0].Index = capMSR

	if err := kvmhal.GetMSRs(vcpuFd, &msrs); err != nil {
		return 0, 0, err
	}

	data := msrs.Entries[0].Data

	return uint32(data), uint32(data >> 32), nil
}

// SetIntercept implements ControlStructure for the subset of
// intercepts expressed as primary/secondary processor-based controls
// or the exception bitmap.
func (v *VMCS) SetIntercept(i Intercept, enabled bool) {
	setBit := func(field *uint32, bit uint32) {
		if enabled {
			*field |= bit
		} else {
			*field &^= bit
		}
	}

	switch i {
	case InterceptCPUID:
		// CPUID always exits on VT-x; nothing to arm.
	case InterceptHLT:
		setBit(&v.procBased, 1<<7)
	case InterceptIO:
		setBit(&v.procBased, 1<<25) // USE_IO_BITMAPS
	case InterceptMSR:
		setBit(&v.procBased, 1<<28) // USE_MSR_BITMAPS
	case InterceptNMI:
		setBit(&v.pinBased, 1<<3)
	case InterceptPreemptionTimer:
		setBit(&v.pinBased, 1<<6)
	case InterceptInterruptWindow:
		setBit(&v.procBased, 1<<2)
		v.interruptWindow = enabled
	case InterceptException:
		if enabled {
			v.exceptionBitmap = 1 << 6 // intercept only #UD; pass through all others
		} else {
			v.exceptionBitmap = 0
		}
	}
}

// HasIntercept implements ControlStructure.
func (v *VMCS) HasIntercept(i Intercept) bool {
	switch i {
	case InterceptHLT:
		return v.procBased&(1<<7) != 0
	case InterceptIO:
		return v.procBased&(1<<25) != 0
	case InterceptMSR:
		return v.procBased&(1<<28) != 0
	case InterceptNMI:
		return v.pinBased&(1<<3) != 0
	case InterceptPreemptionTimer:
		return v.pinBased&(1<<6) != 0
	case InterceptInterruptWindow:
		return v.interruptWindow
	default:
		return false
	}
}

// InstallIOBitmap implements ControlStructure. VMX uses two pages.
func (v *VMCS) InstallIOBitmap(addr hal.HostPhysAddr) {
	v.ioBitmapA = addr
	v.ioBitmapB = addr + 4096
}

// InstallMSRBitmap implements ControlStructure.
func (v *VMCS) InstallMSRBitmap(addr hal.HostPhysAddr) { v.msrBitmap = addr }

// InstallNestedRoot implements ControlStructure (EPT pointer).
func (v *VMCS) InstallNestedRoot(addr hal.HostPhysAddr) {
	// EPTP: memory type write-back (6), page-walk length 4 (3<<3), addr.
	v.eptPointer = hal.HostPhysAddr(uint64(addr) | 6 | (3 << 3))
}

// ExitInfo implements ControlStructure.
func (v *VMCS) ExitInfo() (code uint64, info1, info2 uint64, entryFailed bool) {
	return uint64(v.exitReason), v.exitQualification, uint64(v.exitInterruptionInfo), v.vmEntryFailed
}

// SetExitInfo is populated by the vCpu run loop from RunData after
// each KVM_RUN (there is no vmread available to userspace directly).
func (v *VMCS) SetExitInfo(code uint32, qualification uint64, intrInfo uint32, entryFailed bool) {
	v.exitReason = code
	v.exitQualification = qualification
	v.exitInterruptionInfo = intrInfo
	v.vmEntryFailed = entryFailed
}

// GuestCR0Mask/Shadow, GuestCR4Mask/Shadow back the CR_ACCESS built-in
// handler's shadow/mask pair.
func (v *VMCS) GuestCR0Mask() uint64       { return v.guestCR0Mask }
func (v *VMCS) SetGuestCR0Mask(x uint64)   { v.guestCR0Mask = x }
func (v *VMCS) GuestCR0Shadow() uint64     { return v.guestCR0Shadow }
func (v *VMCS) SetGuestCR0Shadow(x uint64) { v.guestCR0Shadow = x }
func (v *VMCS) GuestCR4Mask() uint64       { return v.guestCR4Mask }
func (v *VMCS) SetGuestCR4Mask(x uint64)   { v.guestCR4Mask = x }
func (v *VMCS) GuestCR4Shadow() uint64     { return v.guestCR4Shadow }
func (v *VMCS) SetGuestCR4Shadow(x uint64) { v.guestCR4Shadow = x }

func (v *VMCS) SetPreemptionTimerValue(x uint32) { v.preemptionTimerValue = x }
func (v *VMCS) PreemptionTimerValue() uint32     { return v.preemptionTimerValue }

// Package msr names the model-specific registers the core reads and
// writes, and provides a thin vCPU-scoped accessor over kvmhal's
// KVM_GET_MSRS/KVM_SET_MSRS, grounded on kvm/msr.go's MSRList pattern.
package msr

import "github.com/shvisor/vcore/kvmhal"

// MSR is a model-specific register index.
type MSR uint32

const (
	IA32_FEATURE_CONTROL MSR = 0x3A
	IA32_VMX_BASIC        MSR = 0x480
	IA32_VMX_CR0_FIXED0   MSR = 0x486
	IA32_VMX_CR0_FIXED1   MSR = 0x487
	IA32_VMX_CR4_FIXED0   MSR = 0x488
	IA32_VMX_CR4_FIXED1   MSR = 0x489
	IA32_VMX_PROCBASED_CTLS2 MSR = 0x48B
	IA32_VMX_TRUE_PINBASED_CTLS  MSR = 0x48D
	IA32_VMX_TRUE_PROCBASED_CTLS MSR = 0x48E
	IA32_VMX_TRUE_EXIT_CTLS      MSR = 0x48F
	IA32_VMX_TRUE_ENTRY_CTLS     MSR = 0x490
	IA32_PAT  MSR = 0x277
	IA32_EFER MSR = 0xC0000080
	IA32_XSS  MSR = 0xDA0
	IA32_FS_BASE MSR = 0xC0000100
	IA32_GS_BASE MSR = 0xC0000101
	IA32_KERNEL_GS_BASE MSR = 0xC0000102
	IA32_SYSENTER_CS  MSR = 0x174
	IA32_SYSENTER_ESP MSR = 0x175
	IA32_SYSENTER_EIP MSR = 0x176
	IA32_STAR  MSR = 0xC0000081
	IA32_LSTAR MSR = 0xC0000082
	IA32_FMASK MSR = 0xC0000084
	VM_HSAVE_PA MSR = 0xC0010117
)

// EFER bits.
const (
	EFER_SCE uint64 = 1 << 0
	EFER_LME uint64 = 1 << 8
	EFER_LMA uint64 = 1 << 10
	EFER_NXE uint64 = 1 << 11
	EFER_SVME uint64 = 1 << 12
)

// IA32_FEATURE_CONTROL bits.
const (
	FeatureControlLocked         uint64 = 1 << 0
	FeatureControlVMXOutsideSMX  uint64 = 1 << 2
)

// Read reads one MSR from the given vCPU.
func Read(vcpuFd uintptr, m MSR) (uint64, error) {
	msrs := kvmhal.MSRS{NMSRs: 1}
	msrs.Entries[0].Index = uint32(m)

	if err := kvmhal.GetMSRs(vcpuFd, &msrs); err != nil {
		return 0, err
	}

	return msrs.Entries[0].Data, nil
}

// Write writes one MSR on the given vCPU.
func Write(vcpuFd uintptr, m MSR, value uint64) error {
	msrs := kvmhal.MSRS{NMSRs: 1}
	msrs.Entries[0].Index = uint32(m)
	msrs.Entries[0].Data = value

	return kvmhal.SetMSRs(vcpuFd, &msrs)
}

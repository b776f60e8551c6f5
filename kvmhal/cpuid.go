package kvmhal

import "unsafe"

// MaxCPUIDEntries bounds the leaf list this module ever builds; KVM
// itself does not impose this number, but one vCPU never needs more.
const MaxCPUIDEntries = 100

// CPUID is the set of CPUID entries exchanged with KVM.
type CPUID struct {
	Nent    uint32
	Padding uint32
	Entries [MaxCPUIDEntries]CPUIDEntry2
}

// CPUIDEntry2 is one CPUID leaf/subleaf result.
type CPUIDEntry2 struct {
	Function uint32
	Index    uint32
	Flags    uint32
	Eax      uint32
	Ebx      uint32
	Ecx      uint32
	Edx      uint32
	Padding  [3]uint32
}

// CPUID entry flags.
const (
	CPUIDFlagSignificantIndex uint32 = 1 << 0
)

// GetSupportedCPUID asks the host kernel which CPUID leaves it can
// faithfully expose to a guest running under this KVM build.
func GetSupportedCPUID(kvmFd uintptr, kvmCPUID *CPUID) error {
	_, err := Ioctl(kvmFd, IIOWR(nrGetSupportedCPUID, unsafe.Sizeof(*kvmCPUID)), uintptr(unsafe.Pointer(kvmCPUID)))

	return err
}

// SetCPUID2 installs the (possibly patched) CPUID leaf list on a vCPU.
func SetCPUID2(vcpuFd uintptr, kvmCPUID *CPUID) error {
	_, err := Ioctl(vcpuFd, IIOW(nrSetCPUID2, unsafe.Sizeof(*kvmCPUID)), uintptr(unsafe.Pointer(kvmCPUID)))

	return err
}
